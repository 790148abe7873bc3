package service

import (
	"context"
	"fmt"

	"github.com/argussec/argus/internal/domain/project"
	"github.com/argussec/argus/internal/port/database"
)

// ProjectService manages projects and their API keys.
type ProjectService struct {
	store database.Store
}

// NewProjectService creates a new project service.
func NewProjectService(store database.Store) *ProjectService {
	return &ProjectService{store: store}
}

// Create creates a project with a freshly generated API key. The plain
// key is returned exactly once; only its hash is persisted.
func (s *ProjectService) Create(ctx context.Context, userID string, req project.CreateRequest) (*project.CreateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	plainKey, keyHash, err := NewAPIKey()
	if err != nil {
		return nil, err
	}

	p := &project.Project{
		ID:         generateID(),
		UserID:     userID,
		Name:       req.Name,
		APIKeyHint: plainKey[:11], // "ak_" + 8 chars
	}
	if err := s.store.CreateProject(ctx, p, keyHash); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	return &project.CreateResponse{Project: *p, APIKey: plainKey}, nil
}

// Get returns a project owned by the user.
func (s *ProjectService) Get(ctx context.Context, userID, projectID string) (*project.Project, error) {
	return s.store.GetProject(ctx, userID, projectID)
}

// List returns the user's projects, newest first.
func (s *ProjectService) List(ctx context.Context, userID string) ([]project.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

// Rename changes a project's display name.
func (s *ProjectService) Rename(ctx context.Context, userID, projectID string, req project.CreateRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return s.store.RenameProject(ctx, userID, projectID, req.Name)
}

// Delete removes a project and, via cascade, its runs and findings.
func (s *ProjectService) Delete(ctx context.Context, userID, projectID string) error {
	return s.store.DeleteProject(ctx, userID, projectID)
}

// Stats aggregates run, event, and finding counts for a project.
func (s *ProjectService) Stats(ctx context.Context, userID, projectID string) (*project.Stats, error) {
	return s.store.ProjectStats(ctx, userID, projectID)
}
