package main

import (
	"context"
	"errors"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/providers/render"
	"vidgen/internal/taskqueue"
)

const (
	popTimeout    = 5 * time.Second
	errorBackoff  = 2 * time.Second
	submitTimeout = time.Minute
)

// taskSource hands out submission tasks and the per-job claim.
type taskSource interface {
	Pop(ctx context.Context, timeout time.Duration) (taskqueue.Task, error)
	Lock(ctx context.Context, jobID string) (release func(), ok bool, err error)
}

type submissionStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, jobID, externalID string) (*domain.Job, error)
}

type renderSubmitter interface {
	Submit(ctx context.Context, req render.SubmitRequest) (string, error)
}

// submitter moves queued jobs to the provider.
type submitter struct {
	queue    taskSource
	jobs     submissionStore
	provider renderSubmitter
	logger   infra.Logger
	backoff  time.Duration
}

func (s *submitter) Run(ctx context.Context) error {
	backoff := s.backoff
	if backoff <= 0 {
		backoff = errorBackoff
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := s.queue.Pop(ctx, popTimeout)
		if err != nil {
			if errors.Is(err, taskqueue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("worker: pop failed")
			sleep(ctx, backoff)
			continue
		}
		s.handle(ctx, task)
	}
}

func (s *submitter) handle(ctx context.Context, task taskqueue.Task) {
	log := s.logger.With().Str("job_id", task.JobID).Int("attempt", task.Attempt).Logger()

	release, ok, err := s.queue.Lock(ctx, task.JobID)
	if err != nil {
		log.Error().Err(err).Msg("worker: lock failed")
		return
	}
	if !ok {
		log.Info().Msg("worker: job locked by another worker")
		return
	}
	defer release()

	job, err := s.jobs.Get(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("worker: task for unknown job dropped")
			return
		}
		log.Error().Err(err).Msg("worker: load job failed")
		return
	}
	if !job.Status.AwaitingSubmission() || job.HasExternalID() {
		log.Info().Str("status", string(job.Status)).Msg("worker: job already submitted")
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	externalID, err := s.provider.Submit(submitCtx, render.SubmitRequest{JobID: job.ID, Type: job.Type, Params: job.Params})
	if err != nil {
		// The watchdog re-enqueues or fails the job once it goes stale.
		log.Error().Err(err).Msg("worker: submit failed")
		return
	}
	if _, err := s.jobs.MarkProcessing(ctx, job.ID, externalID); err != nil {
		log.Error().Err(err).Str("request_id", externalID).Msg("worker: mark processing failed")
		return
	}
	log.Info().Str("request_id", externalID).Msg("worker: submitted")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
