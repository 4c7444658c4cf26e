package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/domain"
	"vidgen/internal/jobs"
)

const maxJobBody = 64 << 10

type createJobRequest struct {
	Type   domain.JobType  `json:"type"`
	Params json.RawMessage `json:"params"`
}

type jobView struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Type              domain.JobType   `json:"type"`
	Status            domain.JobStatus `json:"status"`
	Params            json.RawMessage  `json:"params,omitempty"`
	ExternalRequestID *string          `json:"external_request_id"`
	CreditsCharged    int64            `json:"credits_charged"`
	OutputPath        *string          `json:"output_path"`
	OutputURL         string           `json:"output_url,omitempty"`
	ErrorMessage      *string          `json:"error_message"`
	RetryCount        int              `json:"retry_count"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	SubmittedAt       *time.Time       `json:"submitted_at"`
	CompletedAt       *time.Time       `json:"completed_at"`
	Credits           []creditView     `json:"credits,omitempty"`
}

type creditView struct {
	Delta        int64               `json:"delta"`
	BalanceAfter int64               `json:"balance_after"`
	Reason       domain.CreditReason `json:"reason"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (a *App) view(job *domain.Job) jobView {
	v := jobView{
		ID:                job.ID,
		UserID:            job.UserID,
		Type:              job.Type,
		Status:            job.Status,
		Params:            job.Params,
		ExternalRequestID: job.ExternalRequestID,
		CreditsCharged:    job.CreditsCharged,
		OutputPath:        job.OutputPath,
		ErrorMessage:      job.ErrorMessage,
		RetryCount:        job.RetryCount,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
		SubmittedAt:       job.SubmittedAt,
		CompletedAt:       job.CompletedAt,
	}
	if job.OutputPath != nil && a.OutputURL != nil {
		v.OutputURL = a.OutputURL(*job.OutputPath)
	}
	return v
}

// CreateJob debits credits, stores the job and queues it for submission.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if !req.Type.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported job type")
		return
	}
	log := a.requestLogger(r)

	job, err := a.Jobs.Create(r.Context(), jobs.CreateRequest{UserID: userID, Type: req.Type, Params: req.Params})
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this job")
		return
	case errors.Is(err, domain.ErrInvalidJob):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusUnauthorized, "unauthorized", "unknown user")
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Msg("jobs: create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	// Queued first so a fast worker never races the status write. A failed
	// push leaves the job queued without a task; the watchdog re-enqueues it.
	if queued, err := a.Jobs.MarkQueued(r.Context(), job.ID); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: mark queued failed")
	} else {
		job = queued
	}
	if err := a.Queue.Enqueue(r.Context(), job.ID, job.RetryCount+1); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: enqueue failed, left for watchdog")
	}
	a.json(w, http.StatusAccepted, a.view(job))
}

// GetJob returns a job to its owner.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.requestLogger(r).Error().Err(err).Str("job_id", jobID).Msg("jobs: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	v := a.view(job)
	entries, err := a.Jobs.Entries(r.Context(), job.ID)
	if err != nil {
		a.requestLogger(r).Warn().Err(err).Str("job_id", jobID).Msg("jobs: load credit entries failed")
	}
	for _, e := range entries {
		v.Credits = append(v.Credits, creditView{Delta: e.Delta, BalanceAfter: e.BalanceAfter, Reason: e.Reason, CreatedAt: e.CreatedAt})
	}
	a.json(w, http.StatusOK, v)
}
