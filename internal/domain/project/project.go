// Package project defines the Project domain entity.
package project

import (
	"errors"
	"time"
)

// Project groups runs under a single API key. Every monitored agent
// authenticates with its project's key, and every run belongs to exactly
// one project.
type Project struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	APIKeyHint string    `json:"api_key_hint,omitempty"` // first 8 chars for display
	CreatedAt  time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	Name string `json:"name"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > 120 {
		return errors.New("name must be at most 120 characters")
	}
	return nil
}

// CreateResponse is returned after creating a project. The plain API key
// is only shown once at creation time.
type CreateResponse struct {
	Project Project `json:"project"`
	APIKey  string  `json:"api_key"` // only returned once
}

// Stats aggregates activity across a project's runs.
type Stats struct {
	TotalRuns    int            `json:"total_runs"`
	ActiveRuns   int            `json:"active_runs"`
	TotalEvents  int            `json:"total_events"`
	FindingCount map[string]int `json:"finding_count"` // severity -> count
}
