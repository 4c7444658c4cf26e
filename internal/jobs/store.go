// Package jobs is the authoritative state machine for render jobs.
//
// Every transition locks the job row, re-reads its status and writes in the
// same transaction. Terminal transitions on a job that is already completed or
// failed are reported as not applied instead of erroring, which is what makes
// webhook delivery, watchdog polling and manual replay safe to race.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidgen/internal/billing"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// Repository persists jobs on the executor it is handed.
type Repository interface {
	Insert(ctx context.Context, q infra.SQLExecutor, job *domain.Job) error
	GetByID(ctx context.Context, q infra.SQLExecutor, id string) (*domain.Job, error)
	LockByID(ctx context.Context, q infra.SQLExecutor, id string) (*domain.Job, error)
	GetByExternalID(ctx context.Context, q infra.SQLExecutor, externalID string) (*domain.Job, error)
	Save(ctx context.Context, q infra.SQLExecutor, job *domain.Job) error
	ListStale(ctx context.Context, q infra.SQLExecutor, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error)
	CountByStatus(ctx context.Context, q infra.SQLExecutor, since time.Time) (map[domain.JobStatus]int64, error)
}

// Options tunes a Store.
type Options struct {
	// Prices is the flat credit cost per job type.
	Prices map[domain.JobType]int64
	Clock  func() time.Time
	Logger infra.Logger
	// Entries, when set, backs Store.Entries.
	Entries billing.EntryLister
}

// Store applies job transitions and the credit movements tied to them.
type Store struct {
	db     infra.DB
	jobs   Repository
	ledger billing.Adjuster
	audit  billing.EntryLister
	prices map[domain.JobType]int64
	now    func() time.Time
	logger infra.Logger
}

func NewStore(db infra.DB, jobs Repository, ledger billing.Adjuster, opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:     db,
		jobs:   jobs,
		ledger: ledger,
		audit:  opts.Entries,
		prices: opts.Prices,
		now:    clock,
		logger: infra.Component(opts.Logger, "jobs"),
	}
}

// CreateRequest carries the caller-supplied fields of a new job.
type CreateRequest struct {
	UserID string
	Type   domain.JobType
	Params json.RawMessage
}

// Settlement reports the effect of a terminal transition.
type Settlement struct {
	Job *domain.Job
	// Applied is false when the job was already terminal and nothing was written.
	Applied bool
	// Refund is the ledger entry written by Fail.
	Refund *domain.CreditTransaction
}

// Price returns the credit cost of a job type.
func (s *Store) Price(t domain.JobType) (int64, bool) {
	p, ok := s.prices[t]
	return p, ok
}

// Create debits the job's price and inserts it as pending in one transaction.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidJob)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidJob, req.Type)
	}
	cost, ok := s.Price(req.Type)
	if !ok || cost < 0 {
		return nil, fmt.Errorf("%w: no price for %q", domain.ErrInvalidJob, req.Type)
	}
	if len(req.Params) > 0 && !json.Valid(req.Params) {
		return nil, fmt.Errorf("%w: params must be JSON", domain.ErrInvalidJob)
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Type:           req.Type,
		Status:         domain.JobStatusPending,
		Params:         req.Params,
		CreditsCharged: cost,
	}
	err := s.db.InTx(ctx, func(q infra.SQLExecutor) error {
		if err := s.jobs.Insert(ctx, q, job); err != nil {
			return err
		}
		_, err := s.ledger.Adjust(ctx, q, domain.CreditAdjustment{
			UserID: job.UserID,
			JobID:  &job.ID,
			Delta:  -cost,
			Reason: domain.CreditReasonJobCharge,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Int64("credits", cost).Msg("jobs: created")
	return job, nil
}

// Get loads a job without locking it.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, s.db, id)
}

// Entries lists the credit movements recorded against a job, oldest first.
func (s *Store) Entries(ctx context.Context, jobID string) ([]domain.CreditTransaction, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListByJob(ctx, s.db, jobID)
}

// FindByExternalID resolves a job from the provider's request id.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*domain.Job, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, domain.ErrNotFound
	}
	return s.jobs.GetByExternalID(ctx, s.db, externalID)
}

// ListStuck returns up to limit jobs in status that have not been written since cutoff.
func (s *Store) ListStuck(ctx context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error) {
	return s.jobs.ListStale(ctx, s.db, status, cutoff, limit)
}

// CountSince counts jobs created at or after since, per status.
func (s *Store) CountSince(ctx context.Context, since time.Time) (map[domain.JobStatus]int64, error) {
	return s.jobs.CountByStatus(ctx, s.db, since)
}

// MarkQueued moves a pending job to queued once its task is on the queue.
func (s *Store) MarkQueued(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.transition(ctx, jobID, func(job *domain.Job) (bool, error) {
		switch job.Status {
		case domain.JobStatusQueued:
			return false, nil
		case domain.JobStatusPending:
			job.Status = domain.JobStatusQueued
			return true, nil
		}
		return false, transitionError(job, domain.JobStatusQueued)
	})
}

// MarkProcessing binds the provider's request id to the job. Repeating the
// call with the same id is a no-op. A different id is only accepted while the
// job is back in pending or queued.
func (s *Store) MarkProcessing(ctx context.Context, jobID, externalID string) (*domain.Job, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external request id is required", domain.ErrInvalidTransition)
	}
	return s.transition(ctx, jobID, func(job *domain.Job) (bool, error) {
		if job.Status.IsTerminal() {
			return false, transitionError(job, domain.JobStatusProcessing)
		}
		if job.HasExternalID() {
			if job.ExternalID() == externalID {
				return false, nil
			}
			if !job.Status.AwaitingSubmission() {
				return false, fmt.Errorf("job %s bound to %s: %w", job.ID, job.ExternalID(), domain.ErrExternalIDConflict)
			}
		}
		now := s.now()
		job.ExternalRequestID = &externalID
		job.Status = domain.JobStatusProcessing
		if job.SubmittedAt == nil {
			job.SubmittedAt = &now
		}
		return true, nil
	})
}

// MarkWatermarking records that the free-tier overlay is running.
func (s *Store) MarkWatermarking(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.transition(ctx, jobID, func(job *domain.Job) (bool, error) {
		switch job.Status {
		case domain.JobStatusWatermarking:
			return false, nil
		case domain.JobStatusProcessing:
			job.Status = domain.JobStatusWatermarking
			return true, nil
		}
		return false, transitionError(job, domain.JobStatusWatermarking)
	})
}

// Requeue puts a never-submitted job back on the queue path and counts the retry.
func (s *Store) Requeue(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.transition(ctx, jobID, func(job *domain.Job) (bool, error) {
		if !job.Status.AwaitingSubmission() || job.HasExternalID() {
			return false, transitionError(job, domain.JobStatusQueued)
		}
		job.Status = domain.JobStatusQueued
		job.RetryCount++
		return true, nil
	})
}

// Complete writes the completed state and the output path. A job that is
// already terminal is left untouched and reported as not applied.
func (s *Store) Complete(ctx context.Context, jobID, outputPath string) (Settlement, error) {
	if strings.TrimSpace(outputPath) == "" {
		return Settlement{}, fmt.Errorf("%w: output path is required", domain.ErrInvalidTransition)
	}
	var res Settlement
	err := s.db.InTx(ctx, func(q infra.SQLExecutor) error {
		job, err := s.jobs.LockByID(ctx, q, jobID)
		if err != nil {
			return err
		}
		res.Job = job
		if job.Status.IsTerminal() {
			return nil
		}
		now := s.now()
		job.Status = domain.JobStatusCompleted
		job.OutputPath = &outputPath
		job.ErrorMessage = nil
		job.CompletedAt = &now
		if err := s.jobs.Save(ctx, q, job); err != nil {
			return err
		}
		res.Applied = true
		return nil
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	s.logSettlement(res, "completed")
	return res, nil
}

// Fail writes the failed state and refunds exactly credits_charged in the same
// transaction. A job that is already terminal is left untouched.
func (s *Store) Fail(ctx context.Context, jobID, reason string) (Settlement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "job failed"
	}
	var res Settlement
	err := s.db.InTx(ctx, func(q infra.SQLExecutor) error {
		job, err := s.jobs.LockByID(ctx, q, jobID)
		if err != nil {
			return err
		}
		res.Job = job
		if job.Status.IsTerminal() {
			return nil
		}
		now := s.now()
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = &reason
		job.OutputPath = nil
		job.CompletedAt = &now
		if err := s.jobs.Save(ctx, q, job); err != nil {
			return err
		}
		refund, err := s.ledger.Adjust(ctx, q, domain.CreditAdjustment{
			UserID: job.UserID,
			JobID:  &job.ID,
			Delta:  job.CreditsCharged,
			Reason: domain.CreditReasonJobRefund,
		})
		if err != nil {
			return fmt.Errorf("refund: %w", err)
		}
		res.Refund = refund
		res.Applied = true
		return nil
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("fail job %s: %w", jobID, err)
	}
	s.logSettlement(res, "failed")
	return res, nil
}

// transition runs mutate on the locked job and saves it when mutate reports a change.
func (s *Store) transition(ctx context.Context, jobID string, mutate func(job *domain.Job) (bool, error)) (*domain.Job, error) {
	var out *domain.Job
	err := s.db.InTx(ctx, func(q infra.SQLExecutor) error {
		job, err := s.jobs.LockByID(ctx, q, jobID)
		if err != nil {
			return err
		}
		changed, err := mutate(job)
		if err != nil {
			return err
		}
		out = job
		if !changed {
			return nil
		}
		return s.jobs.Save(ctx, q, job)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) logSettlement(res Settlement, status string) {
	if res.Job == nil {
		return
	}
	if !res.Applied {
		s.logger.Info().Str("job_id", res.Job.ID).Str("status", string(res.Job.Status)).Msg("jobs: already processed")
		return
	}
	ev := s.logger.Info().Str("job_id", res.Job.ID).Str("status", status)
	if res.Refund != nil {
		ev = ev.Int64("refund", res.Refund.Delta)
	}
	ev.Msg("jobs: settled")
}

func transitionError(job *domain.Job, to domain.JobStatus) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrAlreadyTerminal)
	}
	return fmt.Errorf("job %s %s -> %s: %w", job.ID, job.Status, to, domain.ErrInvalidTransition)
}

// IsAlreadyTerminal reports whether err came from a transition on a completed or failed job.
func IsAlreadyTerminal(err error) bool {
	return errors.Is(err, domain.ErrAlreadyTerminal)
}
