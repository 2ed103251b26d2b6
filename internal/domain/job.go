package domain

import (
	"encoding/json"
	"strings"
)

// Status enumerates the lifecycle states reported by the video provider.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// statusInProgress is the provider's wire name for StatusRunning.
const statusInProgress = "in_progress"

// ParseStatus normalises a provider status string. Unknown values are
// returned as-is so callers can still log them.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return StatusQueued
	case "running", statusInProgress:
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	default:
		return Status(raw)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// UnmarshalJSON accepts both "in_progress" and "running".
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// JobError is the provider-defined failure attached to a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Job is a snapshot of one video generation or remix job as echoed by the
// provider. The client never mutates a job; every field is provider-owned.
type Job struct {
	ID                 string    `json:"id"`
	Object             string    `json:"object,omitempty"`
	CreatedAt          int64     `json:"created_at"`
	CompletedAt        int64     `json:"completed_at,omitempty"`
	ExpiresAt          int64     `json:"expires_at,omitempty"`
	Status             Status    `json:"status"`
	Model              string    `json:"model"`
	Progress           *int      `json:"progress,omitempty"`
	Seconds            string    `json:"seconds"`
	Size               string    `json:"size"`
	Prompt             string    `json:"prompt,omitempty"`
	RemixedFromVideoID string    `json:"remixed_from_video_id,omitempty"`
	Error              *JobError `json:"error,omitempty"`
}

// JobList is one page of jobs returned by the list operation.
type JobList struct {
	Object  string `json:"object"`
	Data    []Job  `json:"data"`
	HasMore bool   `json:"has_more"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
}

// Order is the sort direction for listing jobs.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder returns OrderDesc for an empty string.
func ParseOrder(raw string) (Order, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return OrderDesc, true
	case string(OrderAsc):
		return OrderAsc, true
	case string(OrderDesc):
		return OrderDesc, true
	default:
		return "", false
	}
}
