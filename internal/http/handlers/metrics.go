package handlers

import (
	"context"
	"net/http"
	"slices"
	"time"

	"vidgen/internal/domain"
)

// JobCounter summarises recent jobs.
type JobCounter interface {
	CountSince(ctx context.Context, since time.Time) (map[domain.JobStatus]int64, error)
}

// Backlog reports how many submission tasks are waiting.
type Backlog interface {
	Depth(ctx context.Context) (int64, error)
}

const dashboardWindow = 24 * time.Hour

type dashboard struct {
	Window      string                     `json:"window"`
	Jobs        map[domain.JobStatus]int64 `json:"jobs"`
	Total       int64                      `json:"total"`
	QueuedTasks *int64                     `json:"queued_tasks"`
}

// Dashboard24h reports job counts per status for the last day and the task backlog.
func (a *App) Dashboard24h(w http.ResponseWriter, r *http.Request) {
	if a.Counter == nil {
		a.error(w, http.StatusNotImplemented, "unavailable", "metrics are not configured")
		return
	}
	now := time.Now
	if a.Clock != nil {
		now = a.Clock
	}
	counts, err := a.Counter.CountSince(r.Context(), now().Add(-dashboardWindow))
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("metrics: count jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to count jobs")
		return
	}
	out := dashboard{Window: dashboardWindow.String(), Jobs: make(map[domain.JobStatus]int64, len(domain.NonTerminalStatuses)+2)}
	for _, s := range slices.Concat(domain.NonTerminalStatuses, []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed}) {
		out.Jobs[s] = counts[s]
		out.Total += counts[s]
	}
	if a.Backlog != nil {
		if depth, err := a.Backlog.Depth(r.Context()); err == nil {
			out.QueuedTasks = &depth
		} else {
			a.requestLogger(r).Warn().Err(err).Msg("metrics: queue depth unavailable")
		}
	}
	a.json(w, http.StatusOK, out)
}
