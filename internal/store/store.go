// ABOUTME: Store interface and local record types for the agent's state cache
// ABOUTME: Workspaces mirror remote state; events and usage are append-only journals

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/familiar/internal/queue"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UsageRecord is one task's provider consumption, kept locally for
// running totals across restarts.
type UsageRecord struct {
	ID              string
	TaskID          string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CostUSD         float64
	DurationSeconds float64
	CreatedAt       time.Time
}

// UsageTotals aggregates usage records.
type UsageTotals struct {
	TaskCount            int64
	TotalInputTokens     int64
	TotalOutputTokens    int64
	TotalCostUSD         float64
	TotalDurationSeconds float64
}

// Store defines persistence operations for the agent's local cache.
// The remote backend stays the source of truth for workspace status;
// this store only mirrors what the agent last confirmed.
type Store interface {
	// SaveWorkspace inserts or replaces a cached workspace record
	SaveWorkspace(ctx context.Context, ws *queue.Workspace) error

	// GetWorkspace retrieves a cached workspace by id
	GetWorkspace(ctx context.Context, id string) (*queue.Workspace, error)

	// ListWorkspaces returns all cached workspaces ordered by creation time
	ListWorkspaces(ctx context.Context) ([]*queue.Workspace, error)

	// DeleteWorkspace removes a cached workspace record
	DeleteWorkspace(ctx context.Context, id string) error

	// AppendEvent adds an entry to the local event journal
	AppendEvent(ctx context.Context, event *queue.Event) error

	// ListEvents returns journal entries for one workspace, oldest first
	ListEvents(ctx context.Context, workspaceID string, limit int) ([]*queue.Event, error)

	// RecentEvents returns the newest journal entries across all workspaces
	RecentEvents(ctx context.Context, limit int) ([]*queue.Event, error)

	// SaveUsage stores one task's provider consumption
	SaveUsage(ctx context.Context, usage *UsageRecord) error

	// UsageTotals aggregates all stored usage records
	UsageTotals(ctx context.Context) (*UsageTotals, error)

	// Close releases the underlying database
	Close() error
}
