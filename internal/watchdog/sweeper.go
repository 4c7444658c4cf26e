// Package watchdog finds jobs the webhook path never resolved and drives them
// to a terminal or re-queued state.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidgen/internal/completion"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/jobs"
)

// Failure reasons written by the sweep.
const (
	ReasonTimedOut       = "render timed out"
	ReasonNeverSubmitted = "never submitted to provider"
	ReasonEnqueueFailed  = "could not re-enqueue job for submission"
)

// Per-job actions reported in a Summary.
const (
	ActionTimedOut         = "timed_out"
	ActionRequeued         = "requeued"
	ActionFailed           = "failed"
	ActionRecovered        = "recovered"
	ActionStillProcessing  = "still_processing"
	ActionAlreadyProcessed = "already_processed"
	ActionError            = "error"
)

// JobStore is the part of the job state machine the sweep needs.
type JobStore interface {
	ListStuck(ctx context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error)
	Requeue(ctx context.Context, jobID string) (*domain.Job, error)
	Fail(ctx context.Context, jobID, reason string) (jobs.Settlement, error)
}

// Enqueuer puts a job back on the submission queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, attempt int) error
}

// StatusPoller asks the provider for the current state of a request.
type StatusPoller interface {
	Status(ctx context.Context, externalID string) (domain.RenderStatus, error)
}

// Completer applies a provider report to a loaded job.
type Completer interface {
	ProcessJob(ctx context.Context, job domain.Job, st domain.RenderStatus) (completion.Result, error)
}

// Config bounds one sweep.
type Config struct {
	// StuckAfter is how long a job may go without a write before it is examined.
	StuckAfter time.Duration
	// HardTimeout is the lifetime ceiling, measured from submission or creation.
	HardTimeout time.Duration
	// BatchLimit caps candidates per non-terminal status.
	BatchLimit int
	Clock      func() time.Time
}

// JobReport is one line of a sweep summary.
type JobReport struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Action string           `json:"action"`
	Detail string           `json:"detail,omitempty"`
}

// Summary aggregates one sweep.
type Summary struct {
	Scanned         int         `json:"scanned"`
	Recovered       int         `json:"recovered"`
	Requeued        int         `json:"requeued"`
	Failed          int         `json:"failed"`
	TimedOut        int         `json:"timed_out"`
	StillProcessing int         `json:"still_processing"`
	Errors          int         `json:"errors"`
	Jobs            []JobReport `json:"jobs"`
}

func (s *Summary) record(r JobReport) {
	switch r.Action {
	case ActionTimedOut:
		s.TimedOut++
	case ActionRequeued:
		s.Requeued++
	case ActionFailed:
		s.Failed++
	case ActionRecovered:
		s.Recovered++
	case ActionStillProcessing:
		s.StillProcessing++
	case ActionError:
		s.Errors++
	}
	s.Jobs = append(s.Jobs, r)
}

// Sweeper runs watchdog sweeps. Sweeps share no state and may overlap.
type Sweeper struct {
	store     JobStore
	queue     Enqueuer
	provider  StatusPoller
	completer Completer
	cfg       Config
	logger    infra.Logger
}

func NewSweeper(store JobStore, queue Enqueuer, provider StatusPoller, completer Completer, cfg Config, logger infra.Logger) *Sweeper {
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 2 * time.Hour
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 6 * time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Sweeper{
		store:     store,
		queue:     queue,
		provider:  provider,
		completer: completer,
		cfg:       cfg,
		logger:    infra.Component(logger, "watchdog"),
	}
}

// Run performs one sweep. Per-job failures are counted in the summary; the
// returned error reports candidate queries that could not be run.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	now := s.cfg.Clock()
	cutoff := now.Add(-s.cfg.StuckAfter)
	summary := Summary{Jobs: []JobReport{}}

	var listErrs []error
	for _, status := range domain.NonTerminalStatuses {
		candidates, err := s.store.ListStuck(ctx, status, cutoff, s.cfg.BatchLimit)
		if err != nil {
			s.logger.Error().Err(err).Str("status", string(status)).Msg("watchdog: list stuck jobs failed")
			listErrs = append(listErrs, fmt.Errorf("list %s: %w", status, err))
			continue
		}
		for _, job := range candidates {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Scanned++
			summary.record(s.sweepOne(ctx, job, now))
		}
	}

	s.logger.Info().
		Int("scanned", summary.Scanned).
		Int("recovered", summary.Recovered).
		Int("requeued", summary.Requeued).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Int("still_processing", summary.StillProcessing).
		Int("errors", summary.Errors).
		Msg("watchdog: sweep finished")
	return summary, errors.Join(listErrs...)
}

func (s *Sweeper) sweepOne(ctx context.Context, job domain.Job, now time.Time) (report JobReport) {
	report = JobReport{JobID: job.ID, Status: job.Status}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("watchdog: job sweep panicked")
			report.Action = ActionError
			report.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	log := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

	if age := now.Sub(job.ClockStart()); age > s.cfg.HardTimeout {
		reason := fmt.Sprintf("%s after %s", ReasonTimedOut, age.Truncate(time.Minute))
		return s.fail(ctx, report, job, reason, ActionTimedOut)
	}

	if !job.HasExternalID() {
		if job.Status.AwaitingSubmission() {
			return s.requeue(ctx, report, job)
		}
		log.Warn().Msg("watchdog: job past submission has no provider request id")
		return s.fail(ctx, report, job, ReasonNeverSubmitted, ActionFailed)
	}

	st, err := s.provider.Status(ctx, job.ExternalID())
	if err != nil {
		log.Warn().Err(err).Msg("watchdog: provider status poll failed")
		report.Action = ActionError
		report.Detail = err.Error()
		return report
	}
	res, err := s.completer.ProcessJob(ctx, job, st)
	if err != nil {
		log.Warn().Err(err).Msg("watchdog: completion failed")
		report.Action = ActionError
		report.Detail = err.Error()
		return report
	}
	switch res.Outcome {
	case completion.OutcomeCompleted:
		report.Action = ActionRecovered
	case completion.OutcomeFailed:
		report.Action = ActionFailed
		report.Detail = res.Reason
	case completion.OutcomeAlreadyProcessed:
		report.Action = ActionAlreadyProcessed
	default:
		report.Action = ActionStillProcessing
		report.Detail = st.Status
	}
	return report
}

func (s *Sweeper) requeue(ctx context.Context, report JobReport, job domain.Job) JobReport {
	if err := s.queue.Enqueue(ctx, job.ID, job.RetryCount+1); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("watchdog: re-enqueue failed")
		return s.fail(ctx, report, job, ReasonEnqueueFailed, ActionFailed)
	}
	updated, err := s.store.Requeue(ctx, job.ID)
	if err != nil {
		report.Action = ActionError
		report.Detail = err.Error()
		return report
	}
	report.Action = ActionRequeued
	report.Detail = fmt.Sprintf("retry %d", updated.RetryCount)
	return report
}

func (s *Sweeper) fail(ctx context.Context, report JobReport, job domain.Job, reason, action string) JobReport {
	res, err := s.store.Fail(ctx, job.ID, reason)
	if err != nil {
		report.Action = ActionError
		report.Detail = err.Error()
		return report
	}
	if !res.Applied {
		report.Action = ActionAlreadyProcessed
		return report
	}
	report.Action = action
	report.Detail = reason
	return report
}

// Loop runs a sweep every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("watchdog: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("watchdog: sweep incomplete")
			}
		}
	}
}
