// Package run defines the Run domain entity for monitored agent executions.
package run

import (
	"fmt"
	"time"

	"github.com/argussec/argus/internal/domain"
)

// Status represents the current state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final. Terminal runs never
// transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTerminalStatus validates a client-supplied terminal status.
// "cancelled" is normalized to failed: an interrupted agent did not
// complete its task, and the three-state enum is what the store persists.
func ParseTerminalStatus(s string) (Status, error) {
	switch s {
	case "completed":
		return StatusCompleted, nil
	case "failed", "cancelled":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: invalid terminal status %q", domain.ErrValidation, s)
	}
}

// Run represents a single monitored execution of a browser agent.
type Run struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Task      string     `json:"task,omitempty"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	TraceID   string     `json:"trace_id,omitempty"`
}

// StartRequest holds the fields a producer supplies when starting a run.
type StartRequest struct {
	Name string `json:"name,omitempty"`
	Task string `json:"task,omitempty"`
}

// EndRequest holds the fields a producer supplies when ending a run.
type EndRequest struct {
	Status  string `json:"status"`
	TraceID string `json:"trace_id,omitempty"`
}

// StartResponse is returned from a successful start: the run identifier
// plus the locator the producer uses to open the live channel.
type StartResponse struct {
	RunID string `json:"run_id"`
	WSURL string `json:"ws_url"`
}

// Summary is the list-view projection of a run.
type Summary struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Name         string     `json:"name"`
	Task         string     `json:"task,omitempty"`
	Status       Status     `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	FindingCount int        `json:"finding_count"`
	ProjectName  string     `json:"project_name,omitempty"`
}
