// Package completion turns provider status reports into terminal job
// transitions. The bus consumer, the watchdog and manual replay all call the
// same Processor.
package completion

import (
	"context"
	"errors"
	"fmt"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/jobs"
)

// Outcome is the neutral result of one processing attempt.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeStillProcessing  Outcome = "still_processing"
)

// Result describes what processing did to the job.
type Result struct {
	Outcome    Outcome          `json:"outcome"`
	JobID      string           `json:"job_id,omitempty"`
	Status     domain.JobStatus `json:"status,omitempty"`
	OutputPath string           `json:"output_path,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// RetryableError marks a transient failure. The job was left non-terminal and
// the whole attempt may be repeated.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("completion: %s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should lead to redelivery.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// JobStore is the subset of the job state machine the processor drives.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID, outputPath string) (jobs.Settlement, error)
	Fail(ctx context.Context, jobID, reason string) (jobs.Settlement, error)
}

// Deliverer moves a finished artifact into durable storage and returns its key.
type Deliverer interface {
	Deliver(ctx context.Context, job domain.Job, sourceURL string) (string, error)
}

// Processor applies provider reports to jobs.
type Processor struct {
	store   JobStore
	deliver Deliverer
	logger  infra.Logger
}

func NewProcessor(store JobStore, deliver Deliverer, logger infra.Logger) *Processor {
	return &Processor{store: store, deliver: deliver, logger: infra.Component(logger, "completion")}
}

// Process resolves the job by the report's request id and applies the report.
// An unknown request id yields OutcomeNotFound without an error: the job row
// may not carry the id yet and a later delivery will succeed.
func (p *Processor) Process(ctx context.Context, st domain.RenderStatus) (Result, error) {
	if st.RequestID == "" {
		return Result{Outcome: OutcomeNotFound}, nil
	}
	job, err := p.store.FindByExternalID(ctx, st.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn().Str("request_id", st.RequestID).Str("status", st.Status).Msg("completion: no job for request yet")
			return Result{Outcome: OutcomeNotFound}, nil
		}
		return Result{}, &RetryableError{Op: "resolve job", Err: err}
	}
	return p.ProcessJob(ctx, *job, st)
}

// ProcessJob applies the report to a job that is already loaded.
func (p *Processor) ProcessJob(ctx context.Context, job domain.Job, st domain.RenderStatus) (Result, error) {
	tr := Reconcile(job, st)
	log := p.logger.With().Str("job_id", job.ID).Str("request_id", st.RequestID).Str("status", st.Status).Logger()

	switch tr.Action {
	case ActionAlreadyProcessed:
		log.Info().Str("job_status", string(job.Status)).Msg("completion: already processed")
		return Result{Outcome: OutcomeAlreadyProcessed, JobID: job.ID, Status: job.Status}, nil

	case ActionNone:
		log.Debug().Msg("completion: still processing")
		return Result{Outcome: OutcomeStillProcessing, JobID: job.ID, Status: job.Status}, nil

	case ActionFail:
		res, err := p.store.Fail(ctx, job.ID, tr.Reason)
		if err != nil {
			return Result{JobID: job.ID, Status: job.Status}, &RetryableError{Op: "fail job", Err: err}
		}
		if !res.Applied {
			return Result{Outcome: OutcomeAlreadyProcessed, JobID: job.ID, Status: res.Job.Status}, nil
		}
		log.Info().Str("reason", tr.Reason).Msg("completion: job failed")
		return Result{Outcome: OutcomeFailed, JobID: job.ID, Status: domain.JobStatusFailed, Reason: tr.Reason}, nil
	}

	// The caller's snapshot may predate another sweep's settlement; delivery
	// overwrites the stored output, so it only runs against a live job.
	current, err := p.store.Get(ctx, job.ID)
	if err != nil {
		return Result{JobID: job.ID, Status: job.Status}, &RetryableError{Op: "reload job", Err: err}
	}
	if current.Status.IsTerminal() {
		log.Info().Str("job_status", string(current.Status)).Msg("completion: already processed")
		return Result{Outcome: OutcomeAlreadyProcessed, JobID: job.ID, Status: current.Status}, nil
	}

	key, err := p.deliver.Deliver(ctx, *current, tr.OutputURL)
	if err != nil {
		if jobs.IsAlreadyTerminal(err) {
			return Result{Outcome: OutcomeAlreadyProcessed, JobID: job.ID}, nil
		}
		log.Warn().Err(err).Msg("completion: delivery failed, job left for retry")
		return Result{JobID: job.ID, Status: job.Status}, &RetryableError{Op: "deliver artifact", Err: err}
	}
	res, err := p.store.Complete(ctx, job.ID, key)
	if err != nil {
		return Result{JobID: job.ID, Status: job.Status}, &RetryableError{Op: "complete job", Err: err}
	}
	if !res.Applied {
		return Result{Outcome: OutcomeAlreadyProcessed, JobID: job.ID, Status: res.Job.Status}, nil
	}
	log.Info().Str("output_path", key).Msg("completion: job completed")
	return Result{Outcome: OutcomeCompleted, JobID: job.ID, Status: domain.JobStatusCompleted, OutputPath: key}, nil
}
