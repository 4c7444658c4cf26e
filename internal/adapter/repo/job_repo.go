package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// JobRepositoryPG persists jobs. Every method runs on the executor it is
// given so callers decide whether a statement joins a transaction.
type JobRepositoryPG struct{}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository() *JobRepositoryPG {
	return &JobRepositoryPG{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Insert writes a new job row and fills in its timestamps.
func (r *JobRepositoryPG) Insert(ctx context.Context, q infra.SQLExecutor, job *domain.Job) error {
	row := q.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		string(job.Type),
		string(job.Status),
		nullableBytes(job.Params),
		job.CreditsCharged,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, q infra.SQLExecutor, jobID string) (*domain.Job, error) {
	return scanJob(q.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
}

// LockByID fetches a job and holds its row lock until the surrounding transaction ends.
func (r *JobRepositoryPG) LockByID(ctx context.Context, q infra.SQLExecutor, jobID string) (*domain.Job, error) {
	return scanJob(q.QueryRow(ctx, sqlinline.QSelectJobByIDForUpdate, jobID))
}

// GetByExternalID resolves a job from the provider's request id.
func (r *JobRepositoryPG) GetByExternalID(ctx context.Context, q infra.SQLExecutor, externalID string) (*domain.Job, error) {
	return scanJob(q.QueryRow(ctx, sqlinline.QSelectJobByExternalID, externalID))
}

// Save writes every mutable field of the job.
func (r *JobRepositoryPG) Save(ctx context.Context, q infra.SQLExecutor, job *domain.Job) error {
	row := q.QueryRow(ctx, sqlinline.QUpdateJobState,
		job.ID,
		string(job.Status),
		job.ExternalRequestID,
		job.OutputPath,
		job.ErrorMessage,
		job.RetryCount,
		job.SubmittedAt,
		job.CompletedAt,
	)
	if err := row.Scan(&job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// ListStale returns up to limit jobs in status whose updated_at is before cutoff, oldest first.
func (r *JobRepositoryPG) ListStale(ctx context.Context, q infra.SQLExecutor, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error) {
	rows, err := q.Query(ctx, sqlinline.QListStaleJobs, string(status), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale %s jobs: %w", status, err)
	}
	return jobs, nil
}

// CountByStatus counts jobs created at or after since, grouped by status.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context, q infra.SQLExecutor, since time.Time) (map[domain.JobStatus]int64, error) {
	rows, err := q.Query(ctx, sqlinline.QCountJobsByStatusSince, since)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job     domain.Job
		jobType string
		status  string
		params  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&jobType,
		&status,
		&params,
		&job.ExternalRequestID,
		&job.CreditsCharged,
		&job.OutputPath,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.SubmittedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.Params = params
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
