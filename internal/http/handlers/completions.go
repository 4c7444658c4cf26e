package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/bus"
	"vidgen/internal/completion"
	"vidgen/internal/domain"
	"vidgen/internal/providers/render"
	"vidgen/internal/webhook"
)

const maxCallbackBody = 1 << 20

// ProviderWebhook accepts a provider callback and forwards it to the bus.
// The token is checked before the body is read.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := a.Webhook.Authorize(token); err != nil {
		a.error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	_, err = a.Webhook.Accept(r.Context(), token, body)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, webhook.ErrBadPayload):
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
	case err != nil:
		a.error(w, http.StatusInternalServerError, "internal", "could not accept callback")
	default:
		a.json(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// CompletionPush is the push delivery endpoint of the completion bus. The
// status code tells the bus whether to redeliver.
func (a *App) CompletionPush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	msg, err := bus.DecodePush(body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid envelope")
		return
	}
	log := a.requestLogger(r).With().Str("message_id", msg.ID).Str("request_id", msg.RequestID()).Logger()

	res, err := a.Processor.HandlePayload(r.Context(), msg.Payload)
	switch {
	case errors.Is(err, render.ErrMalformedPayload):
		// Redelivery cannot fix the payload, so it is acknowledged and dropped.
		log.Error().Err(err).Msg("completion push: dropping malformed payload")
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		log.Warn().Err(err).Bool("retryable", completion.IsRetryable(err)).Msg("completion push: processing failed")
		a.error(w, http.StatusInternalServerError, "retry", "processing failed")
	case res.Outcome == completion.OutcomeNotFound:
		a.error(w, http.StatusTooEarly, "not_ready", "no job for request yet")
	default:
		log.Info().Str("outcome", string(res.Outcome)).Str("job_id", res.JobID).Msg("completion push: handled")
		w.WriteHeader(http.StatusNoContent)
	}
}

// WatchdogRun runs one sweep for the external scheduler.
func (a *App) WatchdogRun(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Watchdog.Run(r.Context())
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("watchdog: sweep incomplete")
		a.json(w, http.StatusInternalServerError, map[string]any{
			"error":   "internal",
			"message": "sweep incomplete",
			"summary": summary,
		})
		return
	}
	a.json(w, http.StatusOK, summary)
}

// ReplayWebhook re-runs completion for one job against a fresh provider status.
func (a *App) ReplayWebhook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	log := a.requestLogger(r).With().Str("job_id", jobID).Logger()

	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		log.Error().Err(err).Msg("replay: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.Status.IsTerminal() {
		a.json(w, http.StatusOK, completion.Result{Outcome: completion.OutcomeAlreadyProcessed, JobID: job.ID, Status: job.Status})
		return
	}
	if !job.HasExternalID() {
		a.error(w, http.StatusConflict, "not_submitted", "job has no provider request id")
		return
	}
	st, err := a.Provider.Status(r.Context(), job.ExternalID())
	if err != nil {
		log.Warn().Err(err).Msg("replay: provider status failed")
		a.error(w, http.StatusBadGateway, "provider_unavailable", "could not fetch provider status")
		return
	}
	res, err := a.Processor.ProcessJob(r.Context(), *job, st)
	if err != nil {
		log.Warn().Err(err).Msg("replay: processing failed")
		a.error(w, http.StatusServiceUnavailable, "retry", "processing failed, job left unchanged")
		return
	}
	log.Info().Str("outcome", string(res.Outcome)).Msg("replay: done")
	a.json(w, http.StatusOK, res)
}
