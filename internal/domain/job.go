package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported render job categories.
type JobType string

const (
	JobTypeTextToVideo  JobType = "text_to_video"
	JobTypeImageToVideo JobType = "image_to_video"
)

// Valid reports whether the job type is known.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeTextToVideo, JobTypeImageToVideo:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusWatermarking JobStatus = "watermarking"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// NonTerminalStatuses lists every status a job may leave.
var NonTerminalStatuses = []JobStatus{
	JobStatusPending,
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusWatermarking,
}

// IsTerminal reports whether no transition may leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// AwaitingSubmission reports whether a job in this status has not been handed to the provider yet.
func (s JobStatus) AwaitingSubmission() bool {
	return s == JobStatusPending || s == JobStatusQueued
}

// Job tracks one render request from submission to its single terminal transition.
type Job struct {
	ID                string
	UserID            string
	Type              JobType
	Status            JobStatus
	Params            json.RawMessage
	ExternalRequestID *string
	CreditsCharged    int64
	OutputPath        *string
	ErrorMessage      *string
	RetryCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SubmittedAt       *time.Time
	CompletedAt       *time.Time
}

// HasExternalID reports whether the provider accepted a submission for the job.
func (j Job) HasExternalID() bool {
	return j.ExternalRequestID != nil && *j.ExternalRequestID != ""
}

// ExternalID returns the provider request id or an empty string.
func (j Job) ExternalID() string {
	if j.ExternalRequestID == nil {
		return ""
	}
	return *j.ExternalRequestID
}

// ClockStart is the instant the hard lifetime ceiling is measured from.
func (j Job) ClockStart() time.Time {
	if j.SubmittedAt != nil && !j.SubmittedAt.IsZero() {
		return *j.SubmittedAt
	}
	return j.CreatedAt
}
