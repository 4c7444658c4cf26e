package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"vidgen/internal/completion"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/jobs"
	"vidgen/internal/middleware"
	"vidgen/internal/watchdog"
	"vidgen/internal/webhook"
)

// JobService is the part of the job store the public API uses.
type JobService interface {
	Create(ctx context.Context, req jobs.CreateRequest) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	MarkQueued(ctx context.Context, jobID string) (*domain.Job, error)
	Entries(ctx context.Context, jobID string) ([]domain.CreditTransaction, error)
}

// Enqueuer hands a job to the submission worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, attempt int) error
}

// WebhookBridge verifies and forwards provider callbacks.
type WebhookBridge interface {
	Authorize(token string) error
	Accept(ctx context.Context, token string, body []byte) (webhook.Receipt, error)
}

// CompletionProcessor applies provider reports.
type CompletionProcessor interface {
	HandlePayload(ctx context.Context, payload []byte) (completion.Result, error)
	ProcessJob(ctx context.Context, job domain.Job, st domain.RenderStatus) (completion.Result, error)
}

// WatchdogRunner runs one sweep.
type WatchdogRunner interface {
	Run(ctx context.Context) (watchdog.Summary, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// App holds the dependencies shared by HTTP handlers.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Jobs      JobService
	Queue     Enqueuer
	Webhook   WebhookBridge
	Processor CompletionProcessor
	Watchdog  WatchdogRunner
	Provider  watchdog.StatusPoller
	// OutputURL turns a stored output key into a public URL.
	OutputURL func(key string) string
	Country   middleware.CountryLookup
	Checks    map[string]HealthCheck
	Counter   JobCounter
	Backlog   Backlog
	Clock     func() time.Time
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// requestLogger tags the app logger with the request id.
func (a *App) requestLogger(r *http.Request) *infra.Logger {
	l := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	return &l
}
