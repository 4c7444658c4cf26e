package watchdog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/completion"
	"vidgen/internal/domain"
	"vidgen/internal/jobs"
	"vidgen/internal/jobs/jobstest"
)

var sweepNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type stubQueue struct {
	mu       sync.Mutex
	err      error
	attempts map[string]int
}

func (q *stubQueue) Enqueue(_ context.Context, jobID string, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.attempts == nil {
		q.attempts = map[string]int{}
	}
	q.attempts[jobID] = attempt
	return nil
}

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	statuses map[string]domain.RenderStatus
	errs     map[string]error
	panics   map[string]bool
}

func (p *stubProvider) Status(_ context.Context, externalID string) (domain.RenderStatus, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.panics[externalID] {
		panic("decoder blew up")
	}
	if err := p.errs[externalID]; err != nil {
		return domain.RenderStatus{}, err
	}
	st, ok := p.statuses[externalID]
	if !ok {
		return domain.RenderStatus{RequestID: externalID, Status: domain.RenderStatusProcessing}, nil
	}
	st.RequestID = externalID
	return st, nil
}

type keyDeliverer struct{}

func (keyDeliverer) Deliver(_ context.Context, job domain.Job, _ string) (string, error) {
	return completion.OutputKey(job), nil
}

type fixture struct {
	sweeper  *Sweeper
	mem      *jobstest.Memory
	queue    *stubQueue
	provider *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return sweepNow }
	mem := jobstest.NewMemory()
	mem.Now = clock
	mem.AddUser("user-1", domain.UserPlanPro, 15)

	store := jobs.NewStore(mem, mem, mem, jobs.Options{Clock: clock, Logger: zerolog.Nop()})
	proc := completion.NewProcessor(store, keyDeliverer{}, zerolog.Nop())
	f := &fixture{
		mem:      mem,
		queue:    &stubQueue{},
		provider: &stubProvider{statuses: map[string]domain.RenderStatus{}, errs: map[string]error{}, panics: map[string]bool{}},
	}
	f.sweeper = NewSweeper(store, f.queue, f.provider, proc, Config{
		StuckAfter:  2 * time.Hour,
		HardTimeout: 6 * time.Hour,
		BatchLimit:  50,
		Clock:       clock,
	}, zerolog.Nop())
	return f
}

// put stores a job whose last write and clock start are age ago.
func (f *fixture) put(id string, status domain.JobStatus, externalID string, age time.Duration) {
	at := sweepNow.Add(-age)
	job := domain.Job{
		ID:             id,
		UserID:         "user-1",
		Type:           domain.JobTypeTextToVideo,
		Status:         status,
		CreditsCharged: 5,
		RetryCount:     1,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if externalID != "" {
		job.ExternalRequestID = &externalID
		job.SubmittedAt = &at
	}
	f.mem.PutJob(job)
}

func (f *fixture) report(t *testing.T, s Summary, jobID string) JobReport {
	t.Helper()
	for _, r := range s.Jobs {
		if r.JobID == jobID {
			return r
		}
	}
	t.Fatalf("no report for %s in %+v", jobID, s.Jobs)
	return JobReport{}
}

func TestRunTimesOutWithoutPolling(t *testing.T) {
	f := newFixture(t)
	f.put("job-d", domain.JobStatusProcessing, "req-d", 7*time.Hour)
	f.provider.statuses["req-d"] = domain.RenderStatus{Status: domain.RenderStatusProcessing}

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.TimedOut != 1 || summary.Scanned != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider polled %d times for a timed out job", f.provider.calls)
	}
	job, _ := f.mem.Job("job-d")
	if job.Status != domain.JobStatusFailed || job.ErrorMessage == nil || !strings.HasPrefix(*job.ErrorMessage, ReasonTimedOut) {
		t.Fatalf("job = %+v", job)
	}
	entries := f.mem.Entries("job-d")
	if len(entries) != 1 || entries[0].Delta != 5 || entries[0].Reason != domain.CreditReasonJobRefund {
		t.Fatalf("expected one refund of 5, got %#v", entries)
	}
}

func TestRunTimeoutUsesSubmissionClock(t *testing.T) {
	f := newFixture(t)
	// Created long ago but only recently submitted to the provider.
	at := sweepNow.Add(-3 * time.Hour)
	ext := "req-late"
	f.mem.PutJob(domain.Job{
		ID: "job-late", UserID: "user-1", Type: domain.JobTypeTextToVideo,
		Status: domain.JobStatusProcessing, CreditsCharged: 5,
		ExternalRequestID: &ext, SubmittedAt: &at,
		CreatedAt: sweepNow.Add(-8 * time.Hour), UpdatedAt: at,
	})

	summary, _ := f.sweeper.Run(context.Background())
	if summary.TimedOut != 0 || summary.StillProcessing != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunRequeuesNeverSubmitted(t *testing.T) {
	f := newFixture(t)
	f.put("job-e", domain.JobStatusPending, "", 3*time.Hour)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.Requeued != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	job, _ := f.mem.Job("job-e")
	if job.Status != domain.JobStatusQueued || job.RetryCount != 2 {
		t.Fatalf("job = status %s retry %d", job.Status, job.RetryCount)
	}
	if f.queue.attempts["job-e"] != 2 {
		t.Fatalf("enqueued attempt = %d, want 2", f.queue.attempts["job-e"])
	}
	if n := len(f.mem.Entries("job-e")); n != 0 {
		t.Fatalf("no refund expected, got %d entries", n)
	}
}

func TestRunFailsWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")
	f.put("job-q", domain.JobStatusQueued, "", 3*time.Hour)

	summary, _ := f.sweeper.Run(context.Background())
	if summary.Failed != 1 || summary.Requeued != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	job, _ := f.mem.Job("job-q")
	if job.Status != domain.JobStatusFailed || *job.ErrorMessage != ReasonEnqueueFailed {
		t.Fatalf("job = %+v", job)
	}
	if f.mem.Balance("user-1") != 20 {
		t.Fatalf("balance = %d, want refund to 20", f.mem.Balance("user-1"))
	}
}

func TestRunFailsProcessingWithoutRequestID(t *testing.T) {
	f := newFixture(t)
	f.put("job-x", domain.JobStatusProcessing, "", 3*time.Hour)

	summary, _ := f.sweeper.Run(context.Background())
	r := f.report(t, summary, "job-x")
	if r.Action != ActionFailed || r.Detail != ReasonNeverSubmitted {
		t.Fatalf("report = %+v", r)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider must not be polled without a request id")
	}
}

func TestRunPollsProviderAndConverges(t *testing.T) {
	f := newFixture(t)
	f.put("job-ok", domain.JobStatusProcessing, "req-ok", 3*time.Hour)
	f.put("job-gone", domain.JobStatusWatermarking, "req-gone", 3*time.Hour)
	f.put("job-busy", domain.JobStatusProcessing, "req-busy", 3*time.Hour)
	f.provider.statuses["req-ok"] = domain.RenderStatus{Status: "completed", Outputs: []string{"https://cdn/ok.mp4"}}
	f.provider.statuses["req-gone"] = domain.RenderStatus{Status: "not_found"}

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.Recovered != 1 || summary.Failed != 1 || summary.StillProcessing != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	ok, _ := f.mem.Job("job-ok")
	if ok.Status != domain.JobStatusCompleted || *ok.OutputPath != "renders/user-1/job-ok.mp4" {
		t.Fatalf("job-ok = %+v", ok)
	}
	gone, _ := f.mem.Job("job-gone")
	if *gone.ErrorMessage != completion.ReasonExpired {
		t.Fatalf("job-gone reason = %q", *gone.ErrorMessage)
	}
	busy, _ := f.mem.Job("job-busy")
	if busy.Status != domain.JobStatusProcessing {
		t.Fatalf("job-busy = %s", busy.Status)
	}

	// A second sweep sees nothing new to settle.
	again, _ := f.sweeper.Run(context.Background())
	if again.Recovered != 0 || again.Failed != 0 {
		t.Fatalf("second sweep = %+v", again)
	}
}

func TestRunIsolatesPerJobErrors(t *testing.T) {
	f := newFixture(t)
	f.put("job-err", domain.JobStatusProcessing, "req-err", 5*time.Hour)
	f.put("job-panic", domain.JobStatusProcessing, "req-panic", 4*time.Hour)
	f.put("job-fine", domain.JobStatusProcessing, "req-fine", 3*time.Hour)
	f.provider.errs["req-err"] = errors.New("provider 503")
	f.provider.panics["req-panic"] = true
	f.provider.statuses["req-fine"] = domain.RenderStatus{Status: "failed", Error: "bad prompt"}

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if summary.Scanned != 3 || summary.Errors != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if r := f.report(t, summary, "job-panic"); r.Action != ActionError || !strings.Contains(r.Detail, "panic") {
		t.Fatalf("panic report = %+v", r)
	}
	fine, _ := f.mem.Job("job-fine")
	if fine.Status != domain.JobStatusFailed || *fine.ErrorMessage != "bad prompt" {
		t.Fatalf("job-fine = %+v", fine)
	}
	errJob, _ := f.mem.Job("job-err")
	if errJob.Status != domain.JobStatusProcessing {
		t.Fatalf("job-err must stay non-terminal, got %s", errJob.Status)
	}
}

func TestRunSkipsRecentJobs(t *testing.T) {
	f := newFixture(t)
	f.put("job-new", domain.JobStatusProcessing, "req-new", 30*time.Minute)

	summary, _ := f.sweeper.Run(context.Background())
	if summary.Scanned != 0 || f.provider.calls != 0 {
		t.Fatalf("summary = %+v calls = %d", summary, f.provider.calls)
	}
}

func TestLoopRequiresInterval(t *testing.T) {
	f := newFixture(t)
	if err := f.sweeper.Loop(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
