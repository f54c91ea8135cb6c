// ABOUTME: SQLite persistence for cached workspace records
// ABOUTME: Full-record upserts; the remote backend owns the canonical state

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/familiar/internal/queue"
)

// SaveWorkspace inserts or replaces a cached workspace record.
func (s *SQLiteStore) SaveWorkspace(ctx context.Context, ws *queue.Workspace) error {
	query := `
		INSERT INTO workspaces (
			id, owner_id, device_id, name, path, repo_url, repo_branch,
			status, progress_percentage, current_phase, error_message,
			max_disk_bytes, exec_timeout_seconds, network_allowed,
			disk_usage_bytes, file_count,
			created_at, initialized_at, ready_at, archived_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			device_id = excluded.device_id,
			name = excluded.name,
			path = excluded.path,
			repo_url = excluded.repo_url,
			repo_branch = excluded.repo_branch,
			status = excluded.status,
			progress_percentage = excluded.progress_percentage,
			current_phase = excluded.current_phase,
			error_message = excluded.error_message,
			max_disk_bytes = excluded.max_disk_bytes,
			exec_timeout_seconds = excluded.exec_timeout_seconds,
			network_allowed = excluded.network_allowed,
			disk_usage_bytes = excluded.disk_usage_bytes,
			file_count = excluded.file_count,
			initialized_at = excluded.initialized_at,
			ready_at = excluded.ready_at,
			archived_at = excluded.archived_at
	`

	_, err := s.db.ExecContext(ctx, query,
		ws.ID,
		ws.OwnerID,
		ws.DeviceID,
		nullString(ws.Name),
		ws.Path,
		nullString(ws.RepoURL),
		nullString(ws.RepoBranch),
		string(ws.Status),
		ws.ProgressPercentage,
		nullString(ws.CurrentPhase),
		nullString(ws.ErrorMessage),
		ws.Limits.MaxDiskBytes,
		ws.Limits.ExecTimeoutSeconds,
		boolToInt(ws.Limits.NetworkAllowed),
		ws.DiskUsageBytes,
		ws.FileCount,
		ws.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(ws.InitializedAt),
		nullTime(ws.ReadyAt),
		nullTime(ws.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("saving workspace: %w", err)
	}

	s.logger.Debug("saved workspace",
		"workspace_id", ws.ID,
		"status", ws.Status,
		"progress", ws.ProgressPercentage,
	)
	return nil
}

// GetWorkspace retrieves a cached workspace by id.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*queue.Workspace, error) {
	query := selectWorkspace + ` WHERE id = ?`

	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces returns all cached workspaces ordered by creation time.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]*queue.Workspace, error) {
	query := selectWorkspace + ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workspaces []*queue.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workspace rows: %w", err)
	}

	return workspaces, nil
}

// DeleteWorkspace removes a cached workspace record.
func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted workspace", "workspace_id", id)
	return nil
}

const selectWorkspace = `
	SELECT id, owner_id, device_id, name, path, repo_url, repo_branch,
	       status, progress_percentage, current_phase, error_message,
	       max_disk_bytes, exec_timeout_seconds, network_allowed,
	       disk_usage_bytes, file_count,
	       created_at, initialized_at, ready_at, archived_at
	FROM workspaces`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanWorkspace scans a single workspace row.
func scanWorkspace(row rowScanner) (*queue.Workspace, error) {
	var ws queue.Workspace
	var name, repoURL, repoBranch, phase, errMsg sql.NullString
	var networkAllowed int
	var createdAtStr string
	var initializedAt, readyAt, archivedAt sql.NullString

	err := row.Scan(
		&ws.ID,
		&ws.OwnerID,
		&ws.DeviceID,
		&name,
		&ws.Path,
		&repoURL,
		&repoBranch,
		&ws.Status,
		&ws.ProgressPercentage,
		&phase,
		&errMsg,
		&ws.Limits.MaxDiskBytes,
		&ws.Limits.ExecTimeoutSeconds,
		&networkAllowed,
		&ws.DiskUsageBytes,
		&ws.FileCount,
		&createdAtStr,
		&initializedAt,
		&readyAt,
		&archivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning workspace row: %w", err)
	}

	ws.Name = name.String
	ws.RepoURL = repoURL.String
	ws.RepoBranch = repoBranch.String
	ws.CurrentPhase = phase.String
	ws.ErrorMessage = errMsg.String
	ws.Limits.NetworkAllowed = networkAllowed != 0

	ws.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if ws.InitializedAt, err = parseNullTime(initializedAt); err != nil {
		return nil, fmt.Errorf("parsing initialized_at: %w", err)
	}
	if ws.ReadyAt, err = parseNullTime(readyAt); err != nil {
		return nil, fmt.Errorf("parsing ready_at: %w", err)
	}
	if ws.ArchivedAt, err = parseNullTime(archivedAt); err != nil {
		return nil, fmt.Errorf("parsing archived_at: %w", err)
	}

	return &ws, nil
}

// nullTime formats an optional timestamp for storage
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseNullTime parses an optional RFC3339 column back into a *time.Time
func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
