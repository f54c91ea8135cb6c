// ABOUTME: Tests for the workspace lifecycle manager
// ABOUTME: Covers creation, setup, capacity, clone failure, archive and cleanup

package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar/internal/queue"
	"github.com/2389/familiar/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAPI struct {
	mu        sync.Mutex
	created   []queue.Workspace
	updates   []update
	artifacts []queue.Artifact
	events    []queue.Event
	metrics   []queue.Metrics
	assigned  []string

	createErr error
	updateErr error
	uploadErr error
}

type update struct {
	id     string
	fields map[string]any
}

func (f *fakeAPI) CreateWorkspace(ctx context.Context, ws queue.Workspace) (*queue.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, ws)
	out := ws
	return &out, nil
}

func (f *fakeAPI) UpdateWorkspace(ctx context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update{id: id, fields: fields})
	return nil
}

func (f *fakeAPI) AssignTask(ctx context.Context, id, taskID string, cfg queue.AssignConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, taskID)
	return nil
}

func (f *fakeAPI) LogEvent(ctx context.Context, id string, event queue.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAPI) UploadArtifact(ctx context.Context, id string, art queue.Artifact) (*queue.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.artifacts = append(f.artifacts, art)
	out := art
	return &out, nil
}

func (f *fakeAPI) RecordMetrics(ctx context.Context, id string, m queue.Metrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, m)
	return nil
}

// statusSequence returns the status values sent upstream for one
// workspace, in order.
func (f *fakeAPI) statusSequence(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.updates {
		if u.id != id {
			continue
		}
		if status, ok := u.fields["status"].(string); ok {
			out = append(out, status)
		}
	}
	return out
}

func (f *fakeAPI) artifactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.artifacts)
}

type fakeCapacity struct {
	mu         sync.Mutex
	device     queue.Device
	acquireErr error
	acquired   int
	released   int
	usedSlots  int
	diskUsage  int64
}

func (f *fakeCapacity) EnsureRegistered(ctx context.Context) (*queue.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.device
	return &d, nil
}

func (f *fakeCapacity) AcquireSlot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired++
	return nil
}

func (f *fakeCapacity) ReleaseSlot(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeCapacity) SetUsedSlots(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedSlots = n
}

func (f *fakeCapacity) SetDiskUsage(ctx context.Context, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diskUsage = bytes
}

func (f *fakeCapacity) counts() (acquired, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}

type fakeRunner struct {
	mu     sync.Mutex
	output []byte
	err    error
	calls  [][]string
	dirs   []string
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.dirs = append(f.dirs, dir)
	return f.output, f.err
}

func setupTestManager(t *testing.T, api *fakeAPI, capacity *fakeCapacity, runner Runner) *Manager {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if capacity.device.ID == "" {
		capacity.device = queue.Device{ID: "device-1", MaxConcurrentWorkspaces: 3}
	}

	return NewManager(api, capacity, st, Config{
		RootPath:     filepath.Join(t.TempDir(), "workspaces"),
		CloneTimeout: 5 * time.Second,
		Runner:       runner,
	}, testLogger())
}

// waitStatus polls until the workspace reaches the wanted status.
func waitStatus(t *testing.T, m *Manager, id string, want queue.WorkspaceStatus) queue.Workspace {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ws, ok := m.Get(id)
		if ok && ws.Status == want {
			return ws
		}
		time.Sleep(10 * time.Millisecond)
	}
	ws, _ := m.Get(id)
	t.Fatalf("workspace %s did not reach %s (currently %s)", id, want, ws.Status)
	return queue.Workspace{}
}

func TestManager_Create_NoRepoReachesReady(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{Name: "scratch"})
	require.NoError(t, err)
	assert.Equal(t, queue.WorkspaceCreating, ws.Status)
	assert.Equal(t, 0, ws.ProgressPercentage)

	final := waitStatus(t, m, ws.ID, queue.WorkspaceReady)
	assert.Equal(t, 100, final.ProgressPercentage)
	assert.NotNil(t, final.ReadyAt)

	// No repository URL: cloning never appears in the reported sequence.
	seq := api.statusSequence(ws.ID)
	assert.Equal(t, []string{"initializing", "ready"}, seq)

	for _, sub := range []string{"source", "output", "logs", "artifacts", "scratch"} {
		info, err := os.Stat(filepath.Join(final.Path, sub))
		require.NoError(t, err, "missing %s", sub)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(filepath.Join(final.Path, "workspace.json"))
	require.NoError(t, err)
}

func TestManager_Create_GeneratesPathUnderRoot(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-7", CreateConfig{})
	require.NoError(t, err)
	assert.Contains(t, ws.Path, filepath.Join("workspaces", "owner-7"))
	assert.Equal(t, "device-1", ws.DeviceID)

	waitStatus(t, m, ws.ID, queue.WorkspaceReady)
}

func TestManager_Create_CapacityExceeded(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{acquireErr: errors.New("workspace capacity exceeded: 3 of 3 slots in use")}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	_, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")

	// No record was created anywhere.
	assert.Empty(t, api.created)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestManager_Create_RemoteFailureReleasesSlot(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("backend down")}
	capacity := &fakeCapacity{}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	_, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.Error(t, err)

	acquired, released := capacity.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestManager_Setup_ClonesRepository(t *testing.T) {
	api := &fakeAPI{}
	runner := &fakeRunner{output: []byte("Cloning into 'source'...\n")}
	m := setupTestManager(t, api, &fakeCapacity{}, runner)

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{
		RepoURL:    "https://example.com/repo.git",
		RepoBranch: "main",
	})
	require.NoError(t, err)

	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	seq := api.statusSequence(ws.ID)
	assert.Equal(t, []string{"initializing", "cloning", "ready"}, seq)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"git", "clone", "--depth", "1", "--branch", "main",
		"https://example.com/repo.git", "source",
	}, runner.calls[0])
	assert.Equal(t, ws.Path, runner.dirs[0])
}

func TestManager_Setup_CloneFailureCapturesOutput(t *testing.T) {
	api := &fakeAPI{}
	runner := &fakeRunner{
		output: []byte("fatal: repository 'https://example.com/repo.git' not found\n"),
		err:    errors.New("exit status 128"),
	}
	m := setupTestManager(t, api, &fakeCapacity{}, runner)

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{
		RepoURL: "https://example.com/repo.git",
	})
	require.NoError(t, err)

	final := waitStatus(t, m, ws.ID, queue.WorkspaceFailed)
	assert.Equal(t, "fatal: repository 'https://example.com/repo.git' not found", final.ErrorMessage)

	// Progress freezes where the failure happened.
	assert.Equal(t, 50, final.ProgressPercentage)
}

func TestManager_Setup_CloneWithoutBranchFlag(t *testing.T) {
	api := &fakeAPI{}
	runner := &fakeRunner{}
	m := setupTestManager(t, api, &fakeCapacity{}, runner)

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{
		RepoURL: "https://example.com/repo.git",
	})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	assert.NotContains(t, runner.calls[0], "--branch")
}

func TestManager_UpdateStatus_RejectsInvalidTransition(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	err = m.UpdateStatus(context.Background(), ws.ID, queue.WorkspaceCreating, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_UpdateStatus_RemoteFailureKeepsLocal(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	api.mu.Lock()
	api.updateErr = errors.New("backend down")
	api.mu.Unlock()

	err = m.UpdateStatus(context.Background(), ws.ID, queue.WorkspaceAssigned, "")
	require.Error(t, err)

	got, ok := m.Get(ws.ID)
	require.True(t, ok)
	assert.Equal(t, queue.WorkspaceReady, got.Status, "local cache must not run ahead of the backend")
}

func TestManager_Assign(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	err = m.Assign(context.Background(), ws.ID, "task-9", queue.AssignConfig{Mode: queue.ModeExecute})
	require.NoError(t, err)

	got, _ := m.Get(ws.ID)
	assert.Equal(t, queue.WorkspaceAssigned, got.Status)
	assert.Equal(t, []string{"task-9"}, api.assigned)
}

func TestManager_ArchiveThenCleanup(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)
	path := mustPath(t, m, ws.ID)

	require.NoError(t, m.Archive(context.Background(), ws.ID))

	// Exactly one artifact registered, pointing at an existing archive.
	require.Equal(t, 1, api.artifactCount())
	api.mu.Lock()
	art := api.artifacts[0]
	api.mu.Unlock()
	assert.Equal(t, "other", art.Type)
	assert.Equal(t, ws.ID, art.WorkspaceID)
	assert.Len(t, art.Checksum, 64)
	_, err = os.Stat(art.Path)
	require.NoError(t, err)

	got, _ := m.Get(ws.ID)
	assert.Equal(t, queue.WorkspaceArchived, got.Status)
	_, released := capacity.counts()
	assert.Equal(t, 1, released)

	require.NoError(t, m.Cleanup(context.Background(), ws.ID))

	// No residual directory, workspace retired, slot released once.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 0, m.ActiveCount())
	_, released = capacity.counts()
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, api.artifactCount())

	seq := api.statusSequence(ws.ID)
	assert.Equal(t, []string{"initializing", "ready", "archived", "cleanup"}, seq)
}

func TestManager_Archive_UploadFailureSurfaced(t *testing.T) {
	api := &fakeAPI{uploadErr: errors.New("backend down")}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	err = m.Archive(context.Background(), ws.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registering archive artifact")

	// The workspace is not archived and still holds its slot.
	got, _ := m.Get(ws.ID)
	assert.Equal(t, queue.WorkspaceReady, got.Status)
}

func TestManager_Cleanup_WithoutArchiveReleasesSlot(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	require.NoError(t, m.Cleanup(context.Background(), ws.ID))

	_, released := capacity.counts()
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, api.artifactCount())

	seq := api.statusSequence(ws.ID)
	assert.Equal(t, []string{"initializing", "ready", "archived", "cleanup"}, seq)
}

func TestManager_Cleanup_MissingPathIsNotAnError(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)

	require.NoError(t, os.RemoveAll(mustPath(t, m, ws.ID)))
	require.NoError(t, m.Cleanup(context.Background(), ws.ID))
}

func TestManager_Cleanup_UnknownWorkspace(t *testing.T) {
	m := setupTestManager(t, &fakeAPI{}, &fakeCapacity{}, &fakeRunner{})

	err := m.Cleanup(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_RefreshDiskUsage(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{}
	m := setupTestManager(t, api, capacity, &fakeRunner{})

	ws, err := m.Create(context.Background(), "owner-1", CreateConfig{})
	require.NoError(t, err)
	waitStatus(t, m, ws.ID, queue.WorkspaceReady)
	path := mustPath(t, m, ws.ID)

	require.NoError(t, os.WriteFile(filepath.Join(path, "output", "result.txt"), []byte("0123456789"), 0644))

	total, err := m.RefreshDiskUsage(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.Greater(t, total, int64(9), "descriptor plus result file")

	got, _ := m.Get(ws.ID)
	assert.Equal(t, total, got.DiskUsageBytes)
	assert.GreaterOrEqual(t, got.FileCount, int64(2))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.metrics, 1)
	assert.Equal(t, total, api.metrics[0].DiskUsageBytes)
}

func TestManager_Restore(t *testing.T) {
	api := &fakeAPI{}
	capacity := &fakeCapacity{}

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.SaveWorkspace(ctx, &queue.Workspace{
		ID: "ws-ready", OwnerID: "o", DeviceID: "d", Path: "/tmp/ws-ready",
		Status: queue.WorkspaceReady, ProgressPercentage: 100, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.SaveWorkspace(ctx, &queue.Workspace{
		ID: "ws-cloning", OwnerID: "o", DeviceID: "d", Path: "/tmp/ws-cloning",
		Status: queue.WorkspaceCloning, ProgressPercentage: 50, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.SaveWorkspace(ctx, &queue.Workspace{
		ID: "ws-done", OwnerID: "o", DeviceID: "d", Path: "/tmp/ws-done",
		Status: queue.WorkspaceCleanup, CreatedAt: time.Now().UTC(),
	}))

	capacity.device = queue.Device{ID: "d", MaxConcurrentWorkspaces: 3}
	m := NewManager(api, capacity, st, Config{
		RootPath: t.TempDir(),
		Runner:   &fakeRunner{},
	}, testLogger())

	require.NoError(t, m.Restore(ctx))

	// Retired workspaces stay out; slot-holding ones come back.
	assert.Equal(t, 2, m.ActiveCount())
	capacity.mu.Lock()
	assert.Equal(t, 2, capacity.usedSlots)
	capacity.mu.Unlock()

	// The workspace caught mid-setup was failed with a diagnostic.
	got, ok := m.Get("ws-cloning")
	require.True(t, ok)
	assert.Equal(t, queue.WorkspaceFailed, got.Status)
	assert.Equal(t, "agent restarted during setup", got.ErrorMessage)

	got, ok = m.Get("ws-ready")
	require.True(t, ok)
	assert.Equal(t, queue.WorkspaceReady, got.Status)
}

func TestManager_Snapshot(t *testing.T) {
	api := &fakeAPI{}
	m := setupTestManager(t, api, &fakeCapacity{}, &fakeRunner{})

	ws1, err := m.Create(context.Background(), "owner-1", CreateConfig{Name: "first"})
	require.NoError(t, err)
	waitStatus(t, m, ws1.ID, queue.WorkspaceReady)

	ws2, err := m.Create(context.Background(), "owner-1", CreateConfig{Name: "second"})
	require.NoError(t, err)
	waitStatus(t, m, ws2.ID, queue.WorkspaceReady)

	snap := m.Snapshot()
	require.Len(t, snap, 2)

	// Mutating the snapshot does not affect the manager.
	snap[0].Status = queue.WorkspaceFailed
	got, _ := m.Get(snap[0].ID)
	assert.Equal(t, queue.WorkspaceReady, got.Status)
}

func mustPath(t *testing.T, m *Manager, id string) string {
	t.Helper()
	ws, ok := m.Get(id)
	require.True(t, ok)
	return ws.Path
}
