// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
	"github.com/argussec/argus/internal/domain/project"
	"github.com/argussec/argus/internal/domain/run"
	"github.com/argussec/argus/internal/domain/user"
)

// Store is the port interface for database operations.
type Store interface {
	RunStore
	EventStore
	FindingStore
	ProjectStore
	UserStore
}

// RunStore covers run lifecycle persistence.
type RunStore interface {
	CreateRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, projectID, runID string) (*run.Run, error)
	ListRuns(ctx context.Context, projectID string) ([]run.Summary, error)

	// EndRun atomically sets a terminal status and end time on a run
	// that is still running. Returns false if the run was already
	// terminal (no rows changed), allowing idempotent end semantics.
	EndRun(ctx context.Context, projectID, runID string, status run.Status, endTime time.Time, traceID string) (bool, error)

	// ReapStale force-fails every running run whose last activity
	// (latest event timestamp, or start time when eventless) is older
	// than cutoff. Returns the identifiers of the reaped runs.
	ReapStale(ctx context.Context, cutoff, endTime time.Time) ([]string, error)

	// NextRunName returns name with a "(n) " prefix chosen so that it
	// is unique among the project's runs.
	NextRunName(ctx context.Context, projectID, name string) (string, error)
}

// EventStore covers append-only event persistence.
type EventStore interface {
	AppendEvents(ctx context.Context, runID string, events []event.Event) error
	ListEvents(ctx context.Context, runID string) ([]event.Event, error)

	// RunExists reports whether the run belongs to the project. Used by
	// the ingestion path to reject events for foreign runs.
	RunExists(ctx context.Context, projectID, runID string) (bool, error)
}

// FindingStore covers bulk finding persistence.
type FindingStore interface {
	InsertFindings(ctx context.Context, findings []finding.Finding) error
	ListFindings(ctx context.Context, runID string) ([]finding.Finding, error)
	CountFindings(ctx context.Context, runID string) (int, error)
}

// ProjectStore covers project and API key persistence.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *project.Project, keyHash string) error
	GetProject(ctx context.Context, userID, projectID string) (*project.Project, error)
	ListProjects(ctx context.Context, userID string) ([]project.Project, error)
	RenameProject(ctx context.Context, userID, projectID, name string) error
	DeleteProject(ctx context.Context, userID, projectID string) error

	// ProjectByKeyHash resolves an API key hash to its project.
	ProjectByKeyHash(ctx context.Context, keyHash string) (*project.Project, error)

	ProjectStats(ctx context.Context, userID, projectID string) (*project.Stats, error)
}

// UserStore covers user and session persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u *user.User) error
	UserByEmail(ctx context.Context, email string) (*user.User, error)
	UserByID(ctx context.Context, id string) (*user.User, error)

	CreateSession(ctx context.Context, s *user.Session) error
	SessionByTokenHash(ctx context.Context, tokenHash string) (*user.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
