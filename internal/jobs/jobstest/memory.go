// Package jobstest provides an in-memory job and ledger store for tests.
package jobstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

var errNoSQL = errors.New("jobstest: raw SQL is not supported")

// Memory keeps jobs, balances and ledger entries in maps. Transactions are
// serialised with one mutex and rolled back by restoring a snapshot.
type Memory struct {
	mu sync.Mutex

	jobs     map[string]*domain.Job
	balances map[string]int64
	plans    map[string]domain.UserPlan
	entries  []domain.CreditTransaction

	Now func() time.Time

	// SaveErr, when set, is returned by every Save.
	SaveErr error

	saves int
}

func NewMemory() *Memory {
	return &Memory{
		jobs:     map[string]*domain.Job{},
		balances: map[string]int64{},
		plans:    map[string]domain.UserPlan{},
		Now:      time.Now,
	}
}

// AddUser registers a user with a plan and a starting balance.
func (m *Memory) AddUser(id string, plan domain.UserPlan, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[id] = plan
	m.balances[id] = balance
}

// PutJob stores a copy of job as-is, bypassing the ledger.
func (m *Memory) PutJob(job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = clone(&job)
}

// Job returns a copy of the stored job.
func (m *Memory) Job(id string) (domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *clone(j), true
}

// Balance returns the user's current balance.
func (m *Memory) Balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

// Entries returns the ledger entries recorded against jobID.
func (m *Memory) Entries(jobID string) []domain.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for _, e := range m.entries {
		if e.JobID != nil && *e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Saves reports how many job writes were committed or attempted.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Plan implements the tier lookup used during artifact delivery.
func (m *Memory) Plan(_ context.Context, userID string) (domain.UserPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return p, nil
}

type txScope struct{ m *Memory }

func (txScope) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}
func (txScope) QueryRow(context.Context, string, ...any) pgx.Row { return errRow{} }
func (txScope) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}

type errRow struct{}

func (errRow) Scan(...any) error { return errNoSQL }

func (m *Memory) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}
func (m *Memory) QueryRow(context.Context, string, ...any) pgx.Row { return errRow{} }
func (m *Memory) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}

// InTx runs fn with the store locked and restores the previous state when fn fails.
func (m *Memory) InTx(ctx context.Context, fn func(q infra.SQLExecutor) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make(map[string]*domain.Job, len(m.jobs))
	for k, v := range m.jobs {
		jobs[k] = clone(v)
	}
	balances := make(map[string]int64, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	entries := len(m.entries)

	if err := fn(txScope{m: m}); err != nil {
		m.jobs = jobs
		m.balances = balances
		m.entries = m.entries[:entries]
		return err
	}
	return nil
}

func (m *Memory) lock(q infra.SQLExecutor) func() {
	if _, ok := q.(txScope); ok {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) Insert(_ context.Context, q infra.SQLExecutor, job *domain.Job) error {
	defer m.lock(q)()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("jobstest: duplicate job %s", job.ID)
	}
	now := m.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *Memory) GetByID(_ context.Context, q infra.SQLExecutor, id string) (*domain.Job, error) {
	defer m.lock(q)()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (m *Memory) LockByID(ctx context.Context, q infra.SQLExecutor, id string) (*domain.Job, error) {
	return m.GetByID(ctx, q, id)
}

func (m *Memory) GetByExternalID(_ context.Context, q infra.SQLExecutor, externalID string) (*domain.Job, error) {
	defer m.lock(q)()
	for _, j := range m.jobs {
		if j.ExternalID() == externalID {
			return clone(j), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) Save(_ context.Context, q infra.SQLExecutor, job *domain.Job) error {
	defer m.lock(q)()
	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	job.UpdatedAt = m.Now()
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *Memory) ListStale(_ context.Context, q infra.SQLExecutor, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.Job, error) {
	defer m.lock(q)()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			out = append(out, *clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context, q infra.SQLExecutor, since time.Time) (map[domain.JobStatus]int64, error) {
	defer m.lock(q)()
	counts := make(map[domain.JobStatus]int64)
	for _, j := range m.jobs {
		if !j.CreatedAt.Before(since) {
			counts[j.Status]++
		}
	}
	return counts, nil
}

// Adjust mirrors the Postgres ledger: read, check, write and append in one step.
func (m *Memory) Adjust(_ context.Context, q infra.SQLExecutor, adj domain.CreditAdjustment) (*domain.CreditTransaction, error) {
	defer m.lock(q)()
	before, ok := m.balances[adj.UserID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", adj.UserID, domain.ErrNotFound)
	}
	after := before + adj.Delta
	if adj.Delta < 0 && after < 0 {
		return nil, domain.ErrInsufficientCredits
	}
	m.balances[adj.UserID] = after
	rec := domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        adj.UserID,
		JobID:         adj.JobID,
		Delta:         adj.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        adj.Reason,
		CreatedAt:     m.Now(),
	}
	m.entries = append(m.entries, rec)
	return &rec, nil
}

// ListByJob implements billing.EntryLister.
func (m *Memory) ListByJob(_ context.Context, q infra.SQLExecutor, jobID string) ([]domain.CreditTransaction, error) {
	defer m.lock(q)()
	var out []domain.CreditTransaction
	for _, e := range m.entries {
		if e.JobID != nil && *e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	c.Params = append([]byte(nil), j.Params...)
	c.ExternalRequestID = cloneString(j.ExternalRequestID)
	c.OutputPath = cloneString(j.OutputPath)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.SubmittedAt = cloneTime(j.SubmittedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ infra.DB = (*Memory)(nil)
