// ABOUTME: SQLite persistence for the append-only event journal
// ABOUTME: Local copy of lifecycle events also reported to the backend

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/queue"
)

// AppendEvent adds an entry to the local event journal.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *queue.Event) error {
	// Generate ID if not set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	// Generate timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, workspace_id, task_id, type, category, message, level, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.WorkspaceID,
		nullString(event.TaskID),
		event.Type,
		event.Category,
		event.Message,
		event.Level,
		event.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ListEvents returns journal entries for one workspace, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, workspaceID string, limit int) ([]*queue.Event, error) {
	query := `
		SELECT event_id, workspace_id, task_id, type, category, message, level, ts
		FROM events
		WHERE workspace_id = ?
		ORDER BY ts ASC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, workspaceID, limit)
}

// RecentEvents returns the newest journal entries across all workspaces.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]*queue.Event, error) {
	query := `
		SELECT event_id, workspace_id, task_id, type, category, message, level, ts
		FROM events
		ORDER BY ts DESC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, limit)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*queue.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*queue.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// scanEvent scans a single event row.
func scanEvent(rows *sql.Rows) (*queue.Event, error) {
	var event queue.Event
	var taskID sql.NullString
	var tsStr string

	err := rows.Scan(
		&event.ID,
		&event.WorkspaceID,
		&taskID,
		&event.Type,
		&event.Category,
		&event.Message,
		&event.Level,
		&tsStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	event.TaskID = taskID.String

	event.Timestamp, err = time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp: %w", err)
	}

	return &event, nil
}
