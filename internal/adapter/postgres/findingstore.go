package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/argussec/argus/internal/domain/finding"
)

// InsertFindings bulk-inserts findings produced by run analysis.
func (s *Store) InsertFindings(ctx context.Context, findings []finding.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert findings: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = "fnd_" + uuid.NewString()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO findings (id, run_id, rule, severity, description, evidence, event_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, f.RunID, f.Rule, f.Severity, f.Description, f.Evidence, nullIfEmpty(f.EventID)); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert findings: %w", err)
	}
	return nil
}

// ListFindings returns a run's findings in creation order.
func (s *Store) ListFindings(ctx context.Context, runID string) ([]finding.Finding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, rule, severity, description, evidence, COALESCE(event_id, ''), created_at
		 FROM findings WHERE run_id = $1 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings for run %s: %w", runID, err)
	}
	defer rows.Close()

	var findings []finding.Finding
	for rows.Next() {
		var f finding.Finding
		if err := rows.Scan(&f.ID, &f.RunID, &f.Rule, &f.Severity, &f.Description, &f.Evidence, &f.EventID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// CountFindings returns the number of findings stored for a run.
func (s *Store) CountFindings(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM findings WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count findings for run %s: %w", runID, err)
	}
	return n, nil
}
