package domain

import "strings"

// Provider status strings observed on webhooks and status polls.
const (
	RenderStatusCreated    = "created"
	RenderStatusProcessing = "processing"
	RenderStatusCompleted  = "completed"
	RenderStatusSuccess    = "success"
	RenderStatusFailed     = "failed"
	RenderStatusNotFound   = "not_found"
)

// RenderStatus is the normalized provider report for one external request.
type RenderStatus struct {
	RequestID string
	Status    string
	Outputs   []string
	Error     string
}

// Succeeded reports whether the provider considers the render finished successfully.
func (s RenderStatus) Succeeded() bool {
	switch strings.ToLower(s.Status) {
	case RenderStatusCompleted, RenderStatusSuccess:
		return true
	}
	return false
}
