// ABOUTME: Workspace lifecycle manager: create, setup, archive, cleanup
// ABOUTME: Remote-first status transitions with per-device capacity accounting

package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/artifact"
	"github.com/2389/familiar/internal/queue"
	"github.com/2389/familiar/internal/store"
)

// ErrNotFound indicates the workspace is not managed by this agent.
var ErrNotFound = errors.New("workspace not found")

// ErrInvalidTransition indicates a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid workspace transition")

// API is the queue surface the manager consumes.
type API interface {
	CreateWorkspace(ctx context.Context, ws queue.Workspace) (*queue.Workspace, error)
	UpdateWorkspace(ctx context.Context, workspaceID string, fields map[string]any) error
	AssignTask(ctx context.Context, workspaceID, taskID string, cfg queue.AssignConfig) error
	LogEvent(ctx context.Context, workspaceID string, event queue.Event) error
	UploadArtifact(ctx context.Context, workspaceID string, art queue.Artifact) (*queue.Artifact, error)
	RecordMetrics(ctx context.Context, workspaceID string, metrics queue.Metrics) error
}

// Capacity is the device-level slot accounting the manager consumes.
// Implemented by device.Registry.
type Capacity interface {
	EnsureRegistered(ctx context.Context) (*queue.Device, error)
	AcquireSlot(ctx context.Context) error
	ReleaseSlot(ctx context.Context)
	SetUsedSlots(n int)
	SetDiskUsage(ctx context.Context, bytes int64)
}

// Config holds the manager's local settings.
type Config struct {
	// RootPath is the device directory workspaces are created under.
	RootPath string

	// ArchiveDir receives packed archives. Defaults to <RootPath>/archives.
	ArchiveDir string

	// CloneTimeout bounds repository checkout subprocesses.
	CloneTimeout time.Duration

	// Runner executes external commands. Defaults to ExecRunner.
	Runner Runner

	// Mirror uploads archives to an S3-compatible store when set.
	Mirror *artifact.Mirror
}

// CreateConfig carries caller-supplied settings for a new workspace.
type CreateConfig struct {
	Name       string
	Path       string
	RepoURL    string
	RepoBranch string
	Limits     queue.WorkspaceLimits
}

// managed pairs a cached workspace with its transition lock.
type managed struct {
	// transMu serializes lifecycle transitions end to end: a transition
	// holds it across the remote acknowledgement so no second transition
	// for the same workspace can interleave.
	transMu sync.Mutex

	// mu guards reads and writes of ws itself.
	mu sync.Mutex
	ws *queue.Workspace
}

func (mw *managed) snapshot() queue.Workspace {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return *mw.ws
}

// Manager owns every workspace on this device: creation, asynchronous
// setup, status transitions, archival and cleanup. The remote backend
// is the source of truth for status; the local cache is updated only
// after a remote update is acknowledged.
type Manager struct {
	api      API
	capacity Capacity
	store    store.Store
	cfg      Config
	logger   *slog.Logger

	mu     sync.RWMutex
	active map[string]*managed
}

// NewManager creates a workspace manager. The store records a local
// mirror of workspace state plus the event journal.
func NewManager(api API, capacity Capacity, st store.Store, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.RootPath, "archives")
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = 5 * time.Minute
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &Manager{
		api:      api,
		capacity: capacity,
		store:    st,
		cfg:      cfg,
		logger:   logger.With("component", "workspace"),
		active:   make(map[string]*managed),
	}
}

// Create registers a new workspace with the backend and starts its
// setup in the background. It returns immediately with the workspace in
// status creating. A capacity error means no record was created
// anywhere.
func (m *Manager) Create(ctx context.Context, ownerID string, cfg CreateConfig) (*queue.Workspace, error) {
	device, err := m.capacity.EnsureRegistered(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving device: %w", err)
	}

	if err := m.capacity.AcquireSlot(ctx); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	path := cfg.Path
	if path == "" {
		path = filepath.Join(m.cfg.RootPath, ownerID, id[:8])
	}

	ws := queue.Workspace{
		ID:                 id,
		OwnerID:            ownerID,
		DeviceID:           device.ID,
		Name:               cfg.Name,
		Path:               path,
		RepoURL:            cfg.RepoURL,
		RepoBranch:         cfg.RepoBranch,
		Limits:             cfg.Limits,
		Status:             queue.WorkspaceCreating,
		ProgressPercentage: 0,
		CurrentPhase:       "creating",
		CreatedAt:          time.Now().UTC(),
	}

	created, err := m.api.CreateWorkspace(ctx, ws)
	if err != nil {
		m.capacity.ReleaseSlot(ctx)
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	mw := &managed{ws: created}
	m.mu.Lock()
	m.active[created.ID] = mw
	m.mu.Unlock()

	if err := m.store.SaveWorkspace(ctx, created); err != nil {
		m.logger.Warn("failed to cache workspace locally", "workspace_id", created.ID, "error", err)
	}

	m.logger.Info("workspace created",
		"workspace_id", created.ID,
		"owner_id", ownerID,
		"path", created.Path,
		"repo_url", created.RepoURL,
	)
	m.emitEvent(ctx, created.ID, "", "workspace_created", queue.EventCategoryLifecycle,
		fmt.Sprintf("workspace created at %s", created.Path), queue.EventLevelInfo)

	snapshot := mw.snapshot()

	// Setup outlives the caller's context: stopping the agent lets
	// in-flight setups run to their terminal state.
	go m.setup(context.WithoutCancel(ctx), created.ID)

	return &snapshot, nil
}

// setup scaffolds directories, optionally clones the repository, and
// drives the workspace to ready. Any error marks it failed with the
// diagnostic text.
func (m *Manager) setup(ctx context.Context, id string) {
	mw, err := m.get(id)
	if err != nil {
		m.logger.Error("setup for unknown workspace", "workspace_id", id)
		return
	}

	if err := m.UpdateStatus(ctx, id, queue.WorkspaceInitializing, ""); err != nil {
		m.logger.Error("failed to start workspace setup", "workspace_id", id, "error", err)
		return
	}
	if err := m.UpdateProgress(ctx, id, "creating directories", 10); err != nil {
		m.logger.Warn("failed to report setup progress", "workspace_id", id, "error", err)
	}

	ws := mw.snapshot()
	if err := m.setupDirectories(&ws); err != nil {
		m.fail(ctx, id, fmt.Sprintf("directory setup: %v", err))
		return
	}

	now := time.Now().UTC()
	mw.mu.Lock()
	mw.ws.InitializedAt = &now
	mw.mu.Unlock()

	if err := m.UpdateProgress(ctx, id, "directories ready", 30); err != nil {
		m.logger.Warn("failed to report setup progress", "workspace_id", id, "error", err)
	}

	if ws.RepoURL != "" {
		if err := m.UpdateStatus(ctx, id, queue.WorkspaceCloning, ""); err != nil {
			m.logger.Error("failed to enter cloning", "workspace_id", id, "error", err)
			return
		}
		if err := m.UpdateProgress(ctx, id, "cloning repository", 50); err != nil {
			m.logger.Warn("failed to report setup progress", "workspace_id", id, "error", err)
		}
		if err := m.cloneRepository(ctx, &ws); err != nil {
			m.fail(ctx, id, err.Error())
			return
		}
	}

	readyAt := time.Now().UTC()
	mw.mu.Lock()
	mw.ws.ReadyAt = &readyAt
	mw.mu.Unlock()

	if err := m.UpdateStatus(ctx, id, queue.WorkspaceReady, ""); err != nil {
		m.logger.Error("failed to mark workspace ready", "workspace_id", id, "error", err)
		return
	}

	m.logger.Info("workspace ready", "workspace_id", id, "path", ws.Path)
}

// workspaceSubdirs are created under every workspace root.
var workspaceSubdirs = []string{"source", "output", "logs", "artifacts", "scratch"}

// descriptor is the metadata file written into each workspace root.
type descriptor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	OwnerID    string    `json:"owner_id"`
	DeviceID   string    `json:"device_id"`
	RepoURL    string    `json:"repo_url,omitempty"`
	RepoBranch string    `json:"repo_branch,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *Manager) setupDirectories(ws *queue.Workspace) error {
	for _, sub := range workspaceSubdirs {
		if err := os.MkdirAll(filepath.Join(ws.Path, sub), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}

	desc := descriptor{
		ID:         ws.ID,
		Name:       ws.Name,
		OwnerID:    ws.OwnerID,
		DeviceID:   ws.DeviceID,
		RepoURL:    ws.RepoURL,
		RepoBranch: ws.RepoBranch,
		CreatedAt:  ws.CreatedAt,
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "workspace.json"), data, 0644); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return nil
}

// cloneRepository checks out the workspace repository into source/.
// A non-zero exit is fatal for setup; the error text is the captured
// process output.
func (m *Manager) cloneRepository(ctx context.Context, ws *queue.Workspace) error {
	cloneCtx, cancel := context.WithTimeout(ctx, m.cfg.CloneTimeout)
	defer cancel()

	args := []string{"clone", "--depth", "1"}
	if ws.RepoBranch != "" {
		args = append(args, "--branch", ws.RepoBranch)
	}
	args = append(args, ws.RepoURL, "source")

	m.logger.Info("cloning repository",
		"workspace_id", ws.ID,
		"repo_url", ws.RepoURL,
		"branch", ws.RepoBranch,
	)

	output, err := m.cfg.Runner.Run(cloneCtx, ws.Path, "git", args...)
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = err.Error()
		}
		return errors.New(msg)
	}
	return nil
}

// fail marks a workspace failed, preserving its progress. Failure to
// report remotely is logged; the local cache then intentionally stays
// behind the attempted transition.
func (m *Manager) fail(ctx context.Context, id, msg string) {
	m.logger.Error("workspace setup failed", "workspace_id", id, "error", msg)
	if err := m.UpdateStatus(ctx, id, queue.WorkspaceFailed, msg); err != nil {
		m.logger.Error("failed to report workspace failure", "workspace_id", id, "error", err)
	}
}

// UpdateStatus transitions a workspace to a new status. The remote
// update must succeed before the local cache changes. Progress is
// frozen on failure; reaching ready sets it to 100.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status queue.WorkspaceStatus, errMsg string) error {
	mw, err := m.get(id)
	if err != nil {
		return err
	}

	mw.transMu.Lock()
	defer mw.transMu.Unlock()

	current := mw.snapshot()
	if current.Status == status {
		return nil
	}
	if !CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	fields := map[string]any{"status": string(status)}
	if errMsg != "" {
		fields["error_message"] = errMsg
	}
	if status == queue.WorkspaceReady {
		fields["progress_percentage"] = 100
	}
	if err := m.api.UpdateWorkspace(ctx, id, fields); err != nil {
		return fmt.Errorf("updating workspace %s status: %w", id, err)
	}

	mw.mu.Lock()
	from := mw.ws.Status
	mw.ws.Status = status
	if errMsg != "" {
		mw.ws.ErrorMessage = errMsg
	}
	if status == queue.WorkspaceReady {
		mw.ws.ProgressPercentage = 100
		mw.ws.CurrentPhase = "ready"
	}
	if status == queue.WorkspaceArchived {
		archivedAt := time.Now().UTC()
		mw.ws.ArchivedAt = &archivedAt
	}
	updated := *mw.ws
	mw.mu.Unlock()

	if err := m.store.SaveWorkspace(ctx, &updated); err != nil {
		m.logger.Warn("failed to cache workspace status", "workspace_id", id, "error", err)
	}

	level := queue.EventLevelInfo
	if status == queue.WorkspaceFailed {
		level = queue.EventLevelError
	}
	m.logger.Info("workspace status changed", "workspace_id", id, "from", from, "to", status)
	m.emitEvent(ctx, id, "", "status_change", queue.EventCategoryLifecycle,
		fmt.Sprintf("status %s -> %s", from, status), level)

	return nil
}

// UpdateProgress reports a setup phase and percentage. Remote first,
// local cache after. Progress on a failed workspace is left untouched.
func (m *Manager) UpdateProgress(ctx context.Context, id, phase string, percent int) error {
	mw, err := m.get(id)
	if err != nil {
		return err
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("progress %d out of range", percent)
	}

	mw.transMu.Lock()
	defer mw.transMu.Unlock()

	if mw.snapshot().Status == queue.WorkspaceFailed {
		return nil
	}

	fields := map[string]any{
		"progress_percentage": percent,
		"current_phase":       phase,
	}
	if err := m.api.UpdateWorkspace(ctx, id, fields); err != nil {
		return fmt.Errorf("updating workspace %s progress: %w", id, err)
	}

	mw.mu.Lock()
	mw.ws.ProgressPercentage = percent
	mw.ws.CurrentPhase = phase
	updated := *mw.ws
	mw.mu.Unlock()

	if err := m.store.SaveWorkspace(ctx, &updated); err != nil {
		m.logger.Warn("failed to cache workspace progress", "workspace_id", id, "error", err)
	}

	m.logger.Debug("workspace progress", "workspace_id", id, "phase", phase, "percent", percent)
	return nil
}

// Assign binds a task to a ready workspace and moves it to assigned.
func (m *Manager) Assign(ctx context.Context, id, taskID string, cfg queue.AssignConfig) error {
	mw, err := m.get(id)
	if err != nil {
		return err
	}

	current := mw.snapshot()
	if !CanTransition(current.Status, queue.WorkspaceAssigned) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, queue.WorkspaceAssigned)
	}

	if err := m.api.AssignTask(ctx, id, taskID, cfg); err != nil {
		return fmt.Errorf("assigning task %s: %w", taskID, err)
	}
	if err := m.UpdateStatus(ctx, id, queue.WorkspaceAssigned, ""); err != nil {
		return err
	}

	m.emitEvent(ctx, id, taskID, "task_assigned", queue.EventCategoryTask,
		fmt.Sprintf("task %s assigned", taskID), queue.EventLevelInfo)
	return nil
}

// WaitReady blocks until the workspace reaches ready, fails, or the
// timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		mw, err := m.get(id)
		if err != nil {
			return err
		}
		ws := mw.snapshot()
		switch ws.Status {
		case queue.WorkspaceReady:
			return nil
		case queue.WorkspaceFailed:
			return fmt.Errorf("workspace %s failed: %s", id, ws.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("workspace %s not ready after %s", id, timeout)
		case <-tick.C:
		}
	}
}

// Archive packs the workspace directory into the device archive
// directory, registers the archive as an artifact, and transitions the
// workspace to archived (releasing its capacity slot). Any failure is
// returned to the caller; there is no fallback to plain cleanup.
func (m *Manager) Archive(ctx context.Context, id string) error {
	mw, err := m.get(id)
	if err != nil {
		return err
	}

	ws := mw.snapshot()
	if !CanTransition(ws.Status, queue.WorkspaceArchived) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ws.Status, queue.WorkspaceArchived)
	}

	name := fmt.Sprintf("%s-%s.tar.zst", id, time.Now().UTC().Format("20060102T150405Z"))
	archivePath := filepath.Join(m.cfg.ArchiveDir, name)

	info, err := artifact.BuildArchive(ctx, ws.Path, archivePath)
	if err != nil {
		return fmt.Errorf("archiving workspace %s: %w", id, err)
	}

	if _, err := m.api.UploadArtifact(ctx, id, queue.Artifact{
		WorkspaceID: id,
		Name:        name,
		Type:        "other",
		Path:        info.Path,
		SizeBytes:   info.SizeBytes,
		ContentType: "application/zstd",
		Checksum:    info.Checksum,
	}); err != nil {
		return fmt.Errorf("registering archive artifact: %w", err)
	}

	if m.cfg.Mirror != nil {
		if err := m.cfg.Mirror.Upload(ctx, info.Path, name); err != nil {
			m.logger.Warn("failed to mirror archive", "workspace_id", id, "error", err)
		}
	}

	if err := m.UpdateStatus(ctx, id, queue.WorkspaceArchived, ""); err != nil {
		return err
	}
	m.capacity.ReleaseSlot(ctx)

	m.logger.Info("workspace archived",
		"workspace_id", id,
		"archive", info.Path,
		"size", info.SizeBytes,
		"files", info.FileCount,
	)
	m.emitEvent(ctx, id, "", "workspace_archived", queue.EventCategoryLifecycle,
		fmt.Sprintf("archived to %s", name), queue.EventLevelInfo)
	return nil
}

// Cleanup deletes the workspace directory and retires the workspace.
// A workspace not yet archived is transitioned through archived first
// so its capacity slot is released; deleting an already-missing path is
// not an error.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	mw, err := m.get(id)
	if err != nil {
		return err
	}

	ws := mw.snapshot()
	if ws.Status != queue.WorkspaceArchived {
		if !CanTransition(ws.Status, queue.WorkspaceArchived) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ws.Status, queue.WorkspaceArchived)
		}
		if err := m.UpdateStatus(ctx, id, queue.WorkspaceArchived, ws.ErrorMessage); err != nil {
			return err
		}
		m.capacity.ReleaseSlot(ctx)
	}

	if err := m.UpdateStatus(ctx, id, queue.WorkspaceCleanup, ""); err != nil {
		return err
	}

	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("removing workspace directory: %w", err)
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	m.logger.Info("workspace cleaned up", "workspace_id", id, "path", ws.Path)
	m.emitEvent(ctx, id, "", "workspace_cleaned", queue.EventCategoryLifecycle,
		"workspace directory removed", queue.EventLevelInfo)
	return nil
}

// RefreshDiskUsage walks the workspace tree and reports advisory disk
// metrics to the backend. Failures are not fatal to the workspace.
func (m *Manager) RefreshDiskUsage(ctx context.Context, id string) (int64, error) {
	mw, err := m.get(id)
	if err != nil {
		return 0, err
	}
	ws := mw.snapshot()

	var totalBytes, fileCount int64
	walkErr := filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			totalBytes += info.Size()
			fileCount++
		}
		return nil
	})
	if walkErr != nil {
		return 0, fmt.Errorf("walking workspace %s: %w", id, walkErr)
	}

	mw.mu.Lock()
	mw.ws.DiskUsageBytes = totalBytes
	mw.ws.FileCount = fileCount
	updated := *mw.ws
	mw.mu.Unlock()

	if err := m.store.SaveWorkspace(ctx, &updated); err != nil {
		m.logger.Warn("failed to cache disk usage", "workspace_id", id, "error", err)
	}
	if err := m.api.RecordMetrics(ctx, id, queue.Metrics{
		DiskUsageBytes: totalBytes,
		FileCount:      fileCount,
		CollectedAt:    time.Now().UTC(),
	}); err != nil {
		m.logger.Warn("failed to record workspace metrics", "workspace_id", id, "error", err)
	}

	m.capacity.SetDiskUsage(ctx, m.totalDiskUsage())
	return totalBytes, nil
}

// totalDiskUsage sums the last-known usage across active workspaces.
func (m *Manager) totalDiskUsage() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, mw := range m.active {
		mw.mu.Lock()
		total += mw.ws.DiskUsageBytes
		mw.mu.Unlock()
	}
	return total
}

// Restore loads cached workspaces from the store after a restart.
// Pre-archived workspaces re-enter the active set and re-occupy their
// capacity slots; workspaces caught mid-setup are marked failed.
func (m *Manager) Restore(ctx context.Context) error {
	cached, err := m.store.ListWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("loading cached workspaces: %w", err)
	}

	var interrupted []string
	m.mu.Lock()
	for _, ws := range cached {
		if !HoldsSlot(ws.Status) {
			continue
		}
		wsCopy := *ws
		m.active[ws.ID] = &managed{ws: &wsCopy}
		switch ws.Status {
		case queue.WorkspaceCreating, queue.WorkspaceInitializing, queue.WorkspaceCloning:
			interrupted = append(interrupted, ws.ID)
		}
	}
	count := len(m.active)
	m.mu.Unlock()

	m.capacity.SetUsedSlots(count)
	if count > 0 {
		m.logger.Info("restored workspaces", "count", count)
	}

	for _, id := range interrupted {
		m.fail(ctx, id, "agent restarted during setup")
	}
	return nil
}

// Get returns a point-in-time copy of one workspace.
func (m *Manager) Get(id string) (queue.Workspace, bool) {
	mw, err := m.get(id)
	if err != nil {
		return queue.Workspace{}, false
	}
	return mw.snapshot(), true
}

// Snapshot returns point-in-time copies of all active workspaces,
// oldest first.
func (m *Manager) Snapshot() []queue.Workspace {
	m.mu.RLock()
	tracked := make([]*managed, 0, len(m.active))
	for _, mw := range m.active {
		tracked = append(tracked, mw)
	}
	m.mu.RUnlock()

	out := make([]queue.Workspace, 0, len(tracked))
	for _, mw := range tracked {
		out = append(out, mw.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCount returns the number of workspaces holding capacity slots.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) get(id string) (*managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mw, ok := m.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return mw, nil
}

// emitEvent reports a lifecycle event remotely and journals it locally.
// Both paths are best-effort.
func (m *Manager) emitEvent(ctx context.Context, workspaceID, taskID, eventType, category, message, level string) {
	event := queue.Event{
		WorkspaceID: workspaceID,
		TaskID:      taskID,
		Type:        eventType,
		Category:    category,
		Message:     message,
		Level:       level,
		Timestamp:   time.Now().UTC(),
	}

	if err := m.api.LogEvent(ctx, workspaceID, event); err != nil {
		m.logger.Warn("failed to report event", "workspace_id", workspaceID, "type", eventType, "error", err)
	}
	if err := m.store.AppendEvent(ctx, &event); err != nil {
		m.logger.Warn("failed to journal event", "workspace_id", workspaceID, "type", eventType, "error", err)
	}
}
