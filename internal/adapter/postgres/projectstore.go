package postgres

import (
	"context"
	"fmt"

	"github.com/argussec/argus/internal/domain/project"
)

const projectColumns = `id, user_id, name, api_key_hint, created_at`

func scanProject(sc scannable) (project.Project, error) {
	var p project.Project
	err := sc.Scan(&p.ID, &p.UserID, &p.Name, &p.APIKeyHint, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProject(ctx context.Context, p *project.Project, keyHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, user_id, name, api_key_hash, api_key_hint)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.UserID, p.Name, keyHash, p.APIKeyHint)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, userID, projectID string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1 AND user_id = $2`, projectColumns),
		projectID, userID)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", projectID)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE user_id = $1 ORDER BY created_at DESC`, projectColumns),
		userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) RenameProject(ctx context.Context, userID, projectID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET name = $1 WHERE id = $2 AND user_id = $3`, name, projectID, userID)
	return execExpectOne(tag, err, "rename project %s", projectID)
}

func (s *Store) DeleteProject(ctx context.Context, userID, projectID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM projects WHERE id = $1 AND user_id = $2`, projectID, userID)
	return execExpectOne(tag, err, "delete project %s", projectID)
}

// ProjectByKeyHash resolves an API key hash to its owning project.
func (s *Store) ProjectByKeyHash(ctx context.Context, keyHash string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE api_key_hash = $1`, projectColumns), keyHash)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "project by key")
	}
	return &p, nil
}

// ProjectStats aggregates run, event, and finding counts for a project.
func (s *Store) ProjectStats(ctx context.Context, userID, projectID string) (*project.Stats, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}

	stats := &project.Stats{FindingCount: make(map[string]int)}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'running'),
		        COALESCE((SELECT COUNT(*) FROM events e JOIN runs r2 ON r2.id = e.run_id WHERE r2.project_id = $1), 0)
		 FROM runs WHERE project_id = $1`, projectID).
		Scan(&stats.TotalRuns, &stats.ActiveRuns, &stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("project stats %s: %w", projectID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT f.severity, COUNT(*)
		 FROM findings f JOIN runs r ON r.id = f.run_id
		 WHERE r.project_id = $1 GROUP BY f.severity`, projectID)
	if err != nil {
		return nil, fmt.Errorf("project finding stats %s: %w", projectID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan finding stats: %w", err)
		}
		stats.FindingCount[severity] = count
	}
	return stats, rows.Err()
}
