package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/argussec/argus/internal/domain/run"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Runs ---

const runColumns = `id, project_id, name, task, status, start_time, end_time, trace_id`

func scanRun(sc scannable) (run.Run, error) {
	var r run.Run
	err := sc.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Task, &r.Status, &r.StartTime, &r.EndTime, &r.TraceID)
	return r, err
}

func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, name, task, status, start_time, trace_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ProjectID, r.Name, r.Task, r.Status, r.StartTime, r.TraceID)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, projectID, runID string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE id = $1 AND project_id = $2`, runColumns),
		runID, projectID)

	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", runID)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, projectID string) ([]run.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.project_id, r.name, r.task, r.status, r.start_time, r.end_time,
		        (SELECT COUNT(*) FROM findings f WHERE f.run_id = r.id),
		        p.name
		 FROM runs r JOIN projects p ON p.id = r.project_id
		 WHERE r.project_id = $1
		 ORDER BY r.start_time DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Summary
	for rows.Next() {
		var sm run.Summary
		if err := rows.Scan(&sm.ID, &sm.ProjectID, &sm.Name, &sm.Task, &sm.Status,
			&sm.StartTime, &sm.EndTime, &sm.FindingCount, &sm.ProjectName); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		runs = append(runs, sm)
	}
	return runs, rows.Err()
}

// EndRun transitions a running run to a terminal status. The WHERE clause
// on status serializes concurrent enders: exactly one caller observes
// ended=true, everyone else sees the run already terminal.
func (s *Store) EndRun(ctx context.Context, projectID, runID string, status run.Status, endTime time.Time, traceID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $3, end_time = $4, trace_id = CASE WHEN $5 <> '' THEN $5 ELSE trace_id END
		 WHERE id = $1 AND project_id = $2 AND status = 'running'`,
		runID, projectID, status, endTime, traceID)
	if err != nil {
		return false, fmt.Errorf("end run %s: %w", runID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReapStale force-fails runs without activity since cutoff. Last activity
// is the latest event timestamp, falling back to the start time for runs
// that never produced an event.
func (s *Store) ReapStale(ctx context.Context, cutoff, endTime time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE runs
		 SET status = 'failed', end_time = $2
		 WHERE status = 'running'
		   AND COALESCE((SELECT MAX(e.ts) FROM events e WHERE e.run_id = runs.id), start_time) < $1
		 RETURNING id`, cutoff, endTime)
	if err != nil {
		return nil, fmt.Errorf("reap stale runs: %w", err)
	}
	defer rows.Close()

	var reaped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reaped run: %w", err)
		}
		reaped = append(reaped, id)
	}
	return reaped, rows.Err()
}

// NextRunName returns name, or "(n) name" for the smallest n >= 1 that
// is not already taken within the project.
func (s *Store) NextRunName(ctx context.Context, projectID, name string) (string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM runs WHERE project_id = $1 AND (name = $2 OR name LIKE '(%) ' || $2)`,
		projectID, name)
	if err != nil {
		return "", fmt.Errorf("next run name: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return "", fmt.Errorf("scan run name: %w", err)
		}
		taken[n] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if !taken[name] {
		return name, nil
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("(%d) %s", n, name)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}
