package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/middleware"
)

type failingCounter struct{}

func (failingCounter) CountSince(context.Context, time.Time) (map[domain.JobStatus]int64, error) {
	return nil, errors.New("count timeout")
}

func TestRequestLoggerTagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	app := &App{Logger: zerolog.New(&buf), Counter: failingCounter{}}

	h := middleware.RequestID(http.HandlerFunc(app.Dashboard24h))
	req := httptest.NewRequest(http.MethodGet, "/admin/metrics/dashboard-24h", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "rid-42" || line["level"] != "error" || line["error"] != "count timeout" {
		t.Fatalf("log line = %v", line)
	}
}
