package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/argussec/argus/internal/domain/event"
)

// AppendEvents bulk-inserts events for a run. Events are append-only;
// there is no update path. IDs are assigned here when absent.
func (s *Store) AppendEvents(ctx context.Context, runID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := make([][]any, 0, len(events))
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			ev.ID = "evt_" + uuid.NewString()
		}
		ev.RunID = runID
		batch = append(batch, []any{ev.ID, runID, ev.Type, ev.Timestamp, ev.Payload, ev.VideoTimestamp})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append events: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, args := range batch {
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, run_id, event_type, ts, payload, video_timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)`, args...); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append events: %w", err)
	}
	return nil
}

// ListEvents returns all events for a run in ingestion-timestamp order.
// This is the order analysis relies on; arrival order on any transport
// is never used.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, event_type, ts, payload, video_timestamp
		 FROM events WHERE run_id = $1 ORDER BY ts ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.Timestamp, &ev.Payload, &ev.VideoTimestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RunExists reports whether the run belongs to the project.
func (s *Store) RunExists(ctx context.Context, projectID, runID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1 AND project_id = $2)`,
		runID, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("run exists %s: %w", runID, err)
	}
	return exists, nil
}
