// Package render talks to the external video render provider.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("render: api key is required")

// Options configures the provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	WebhookURL     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the render provider.
type Client struct {
	apiKey     string
	baseURL    string
	webhookURL string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest is one render submission.
type SubmitRequest struct {
	JobID  string
	Type   domain.JobType
	Params json.RawMessage
}

type submitPayload struct {
	Type       string          `json:"type"`
	Input      json.RawMessage `json:"input,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("render: provider returned %d: %s", e.Code, e.Body)
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("render: base url is required")
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Submit hands a job to the provider and returns the provider's request id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	payload := submitPayload{
		Type:       string(req.Type),
		Input:      req.Params,
		WebhookURL: c.webhookURL,
		Metadata:   map[string]any{"job_id": req.JobID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("render: encode submit: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	raw, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	st, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if st.RequestID == "" {
		return "", errors.New("render: submit response missing request id")
	}
	c.logger.Info().Str("job_id", req.JobID).Str("request_id", st.RequestID).Msg("render: submitted")
	return st.RequestID, nil
}

// Status polls the provider for one request. An unknown request id is reported
// as status not_found rather than as an error.
func (c *Client) Status(ctx context.Context, externalID string) (domain.RenderStatus, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.RenderStatus{}, errors.New("render: request id is required")
	}
	if c.apiKey == "" {
		return domain.RenderStatus{}, ErrMissingAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/requests/"+url.PathEscape(externalID), nil)
	if err != nil {
		return domain.RenderStatus{}, err
	}
	raw, err := c.do(httpReq)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.RenderStatus{RequestID: externalID, Status: domain.RenderStatusNotFound}, nil
		}
		return domain.RenderStatus{}, err
	}
	st, err := Normalize(raw)
	if err != nil {
		return domain.RenderStatus{}, err
	}
	if st.RequestID == "" {
		st.RequestID = externalID
	}
	return st, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("render: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("render: provider error")
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
