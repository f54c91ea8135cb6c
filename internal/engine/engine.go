// ABOUTME: Task execution engine: timer-driven polling, claiming, execution
// ABOUTME: Bounded concurrency with strict accept->running->report ordering

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/familiar/internal/artifact"
	"github.com/2389/familiar/internal/provider"
	"github.com/2389/familiar/internal/queue"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/workspace"
)

// ErrSignedOut indicates the backend rejected the agent's credential.
// The engine stops and will not poll again until restarted with a
// fresh token.
var ErrSignedOut = errors.New("agent signed out")

// State is the overall engine state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateSignedOut State = "signed_out"
)

// API is the task surface of the queue client the engine consumes.
type API interface {
	PollPendingTasks(ctx context.Context, agentName string) ([]queue.Task, error)
	AcceptTask(ctx context.Context, taskID, agentName string) error
	UpdateTaskStatus(ctx context.Context, taskID string, status queue.TaskStatus, progress *int) error
	CompleteTask(ctx context.Context, taskID string, result queue.TaskResult) error
	FailTask(ctx context.Context, taskID, errorMessage string) error
}

// Provider executes a task description and returns the structured
// result. Implemented by provider.Client.
type Provider interface {
	Execute(ctx context.Context, description string, contextMap map[string]string) (*provider.Result, error)
}

// Workspaces is the lifecycle surface the engine consumes for
// workspace-scoped tasks. Implemented by workspace.Manager.
type Workspaces interface {
	Create(ctx context.Context, ownerID string, cfg workspace.CreateConfig) (*queue.Workspace, error)
	WaitReady(ctx context.Context, id string, timeout time.Duration) error
	Assign(ctx context.Context, id, taskID string, cfg queue.AssignConfig) error
	UpdateStatus(ctx context.Context, id string, status queue.WorkspaceStatus, errMsg string) error
	Archive(ctx context.Context, id string) error
	Cleanup(ctx context.Context, id string) error
	Get(id string) (queue.Workspace, bool)
}

// Config holds the engine's tunables.
type Config struct {
	AgentName          string
	PollInterval       time.Duration
	MaxConcurrentTasks int

	// TaskTimeout bounds a single provider execution.
	TaskTimeout time.Duration

	// WorkspaceReadyTimeout bounds waiting for workspace setup before a
	// workspace-scoped task runs. Defaults to 10 minutes.
	WorkspaceReadyTimeout time.Duration

	// ReportedTTL is how long a terminally-reported task id is shielded
	// from re-claiming. Defaults to 10 minutes.
	ReportedTTL time.Duration
}

// TaskState is the engine's local view of one task this session.
type TaskState struct {
	Task        queue.Task       `json:"task"`
	Status      queue.TaskStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	WorkspaceID string           `json:"workspace_id,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Usage accumulates provider consumption across tasks.
type Usage struct {
	TasksCompleted  int64   `json:"tasks_completed"`
	TasksFailed     int64   `json:"tasks_failed"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Snapshot is a point-in-time copy of engine state for display.
type Snapshot struct {
	State         State       `json:"state"`
	AgentName     string      `json:"agent_name"`
	ActiveTaskIDs []string    `json:"active_task_ids"`
	Tasks         []TaskState `json:"tasks"`
	LastSyncTime  time.Time   `json:"last_sync_time"`
	Usage         Usage       `json:"usage"`
}

// Engine polls the remote queue on a timer, claims tasks up to the
// concurrency bound, and executes each as an independent unit of work.
// In-flight state is mutated only from the engine's own goroutines;
// external readers get snapshots.
type Engine struct {
	api        API
	provider   Provider
	workspaces Workspaces
	store      store.Store
	cfg        Config
	logger     *slog.Logger
	events     *Broadcaster
	reported   *reportedSet

	mu       sync.RWMutex
	state    State
	inflight map[string]struct{}
	tasks    map[string]*TaskState
	lastSync time.Time
	usage    Usage

	wg          sync.WaitGroup
	signedOut   chan struct{}
	signOutOnce sync.Once
}

// NewEngine wires the engine. workspaces may be nil when the device
// does not manage workspaces; workspace-scoped tasks then fail with a
// diagnostic instead of executing.
func NewEngine(api API, prov Provider, workspaces Workspaces, st store.Store, cfg Config, logger *slog.Logger) *Engine {
	if cfg.WorkspaceReadyTimeout <= 0 {
		cfg.WorkspaceReadyTimeout = 10 * time.Minute
	}
	if cfg.ReportedTTL <= 0 {
		cfg.ReportedTTL = 10 * time.Minute
	}
	return &Engine{
		api:        api,
		provider:   prov,
		workspaces: workspaces,
		store:      st,
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		events:     NewBroadcaster(logger),
		reported:   newReportedSet(cfg.ReportedTTL, 1024),
		state:      StateIdle,
		inflight:   make(map[string]struct{}),
		tasks:      make(map[string]*TaskState),
		signedOut:  make(chan struct{}),
	}
}

// Run polls until ctx is cancelled or the credential is rejected.
// Stopping drains in-flight tasks: they run to completion and their
// terminal status is still reported. Returns ErrSignedOut after a 401.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state %s)", e.state)
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Info("engine started",
		"agent", e.cfg.AgentName,
		"poll_interval", e.cfg.PollInterval,
		"max_concurrent_tasks", e.cfg.MaxConcurrentTasks,
	)
	e.publish(Event{Type: EventStateChanged, State: StateRunning})

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping, draining in-flight tasks", "active", e.ActiveCount())
			e.wg.Wait()
			e.mu.Lock()
			signedOut := e.state == StateSignedOut
			if !signedOut {
				e.state = StateIdle
			}
			e.mu.Unlock()
			if signedOut {
				return ErrSignedOut
			}
			e.publish(Event{Type: EventStateChanged, State: StateIdle})
			return nil

		case <-e.signedOut:
			e.wg.Wait()
			return ErrSignedOut

		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce fetches pending tasks and claims them in backend order while
// slots remain. Skipped entirely when the engine is paused or signed
// out.
func (e *Engine) pollOnce(ctx context.Context) {
	if e.State() != StateRunning {
		return
	}

	tasks, err := e.api.PollPendingTasks(ctx, e.cfg.AgentName)
	if err != nil {
		if errors.Is(err, queue.ErrUnauthorized) {
			e.signOut("polling")
			return
		}
		e.logger.Warn("poll failed, retrying next cycle", "error", err)
		return
	}

	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	e.mu.Unlock()

	if len(tasks) > 0 {
		e.logger.Debug("poll returned tasks", "count", len(tasks), "active", e.ActiveCount())
	}

	for _, task := range tasks {
		if e.State() != StateRunning {
			return
		}
		if e.ActiveCount() >= e.cfg.MaxConcurrentTasks {
			// Excess tasks stay with the backend for the next cycle.
			return
		}
		if e.isActive(task.ID) || e.reported.Check(task.ID) {
			continue
		}
		e.claim(ctx, task)
	}
}

// claim accepts a task, reports it running, and launches execution.
// The task id joins the in-flight set before the accept call so the
// concurrency bound holds at every instant.
func (e *Engine) claim(ctx context.Context, task queue.Task) {
	e.mu.Lock()
	e.inflight[task.ID] = struct{}{}
	e.tasks[task.ID] = &TaskState{
		Task:      task,
		Status:    queue.TaskStatusPending,
		StartedAt: time.Now().UTC(),
	}
	e.mu.Unlock()

	if err := e.api.AcceptTask(ctx, task.ID, e.cfg.AgentName); err != nil {
		e.mu.Lock()
		delete(e.inflight, task.ID)
		delete(e.tasks, task.ID)
		e.mu.Unlock()

		if errors.Is(err, queue.ErrUnauthorized) {
			e.signOut("accepting task")
			return
		}
		e.logger.Warn("failed to accept task", "task_id", task.ID, "error", err)
		return
	}

	e.setTaskStatus(task.ID, queue.TaskStatusAccepted, "")
	e.publish(Event{Type: EventTaskAccepted, TaskID: task.ID})

	if err := e.api.UpdateTaskStatus(ctx, task.ID, queue.TaskStatusRunning, nil); err != nil {
		if errors.Is(err, queue.ErrUnauthorized) {
			e.removeInflight(task.ID)
			e.signOut("reporting running status")
			return
		}
		// Accepted remotely; execution proceeds and the terminal report
		// will settle the remote status.
		e.logger.Warn("failed to report running status", "task_id", task.ID, "error", err)
	}

	e.setTaskStatus(task.ID, queue.TaskStatusRunning, "")
	e.publish(Event{Type: EventTaskRunning, TaskID: task.ID})
	e.journal(ctx, task.ID, "", "task_claimed", fmt.Sprintf("claimed task %s", task.ID), queue.EventLevelInfo)
	e.logger.Info("task claimed", "task_id", task.ID, "description", task.Description)

	e.wg.Add(1)
	// Execution outlives the poll loop's context: in-flight tasks drain
	// and still report their terminal status on shutdown.
	go e.execute(context.WithoutCancel(ctx), task)
}

// execute runs one task to its terminal state. The in-flight id is
// removed unconditionally on the way out.
func (e *Engine) execute(ctx context.Context, task queue.Task) {
	defer e.wg.Done()
	defer e.removeInflight(task.ID)

	result, workspaceID, err := e.runTask(ctx, task)
	if workspaceID != "" {
		e.setTaskWorkspace(task.ID, workspaceID)
	}
	if err != nil {
		e.reportFailure(ctx, task, workspaceID, err)
		return
	}
	e.reportSuccess(ctx, task, workspaceID, result)
}

// runTask provisions the optional workspace and calls the provider.
// Panics are converted to errors at this boundary; there is no crash
// path out of a task.
func (e *Engine) runTask(ctx context.Context, task queue.Task) (result *provider.Result, workspaceID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	if task.NeedsWorkspace {
		workspaceID, err = e.provisionWorkspace(ctx, task)
		if err != nil {
			return nil, workspaceID, err
		}
	}

	execCtx := ctx
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}

	result, err = e.provider.Execute(execCtx, task.Description, task.Context)
	if err != nil {
		return nil, workspaceID, err
	}
	return result, workspaceID, nil
}

// provisionWorkspace creates a workspace for the task, waits for setup,
// and binds the task to it.
func (e *Engine) provisionWorkspace(ctx context.Context, task queue.Task) (string, error) {
	if e.workspaces == nil {
		return "", fmt.Errorf("task %s needs a workspace but none is configured", task.ID)
	}

	ws, err := e.workspaces.Create(ctx, e.cfg.AgentName, workspace.CreateConfig{
		Name:       "task-" + task.ID,
		RepoURL:    task.RepoURL,
		RepoBranch: task.RepoBranch,
	})
	if err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}

	if err := e.workspaces.WaitReady(ctx, ws.ID, e.cfg.WorkspaceReadyTimeout); err != nil {
		return ws.ID, err
	}
	if err := e.workspaces.Assign(ctx, ws.ID, task.ID, queue.AssignConfig{
		Mode:               task.Mode,
		ExecTimeoutSeconds: int(e.cfg.TaskTimeout / time.Second),
	}); err != nil {
		return ws.ID, err
	}
	if err := e.workspaces.UpdateStatus(ctx, ws.ID, queue.WorkspaceRunning, ""); err != nil {
		return ws.ID, err
	}

	e.publish(Event{Type: EventWorkspaceAssigned, TaskID: task.ID, WorkspaceID: ws.ID})
	return ws.ID, nil
}

// reportSuccess reports completion to the backend, then settles local
// state, usage totals, the task report, and the workspace.
func (e *Engine) reportSuccess(ctx context.Context, task queue.Task, workspaceID string, result *provider.Result) {
	res := queue.TaskResult{
		OutputText:      result.OutputText,
		Model:           result.Model,
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		CostUSD:         result.CostUSD,
		DurationSeconds: result.DurationSeconds,
	}

	if err := e.api.CompleteTask(ctx, task.ID, res); err != nil {
		if errors.Is(err, queue.ErrUnauthorized) {
			// The report was not confirmed: local status intentionally
			// stays running rather than guessing a terminal state.
			e.signOut("completion report")
			return
		}
		e.logger.Warn("failed to report completion; remote status may be inconsistent",
			"task_id", task.ID, "error", err)
	}

	e.setTaskStatus(task.ID, queue.TaskStatusCompleted, "")
	e.reported.Mark(task.ID)
	e.accumulateUsage(ctx, task.ID, result, true)
	e.writeReport(task, workspaceID, result)
	if workspaceID != "" {
		e.finalizeWorkspace(ctx, workspaceID, queue.WorkspaceCompleted, "")
	}

	e.journal(ctx, task.ID, workspaceID, "task_completed",
		fmt.Sprintf("completed in %.1fs", result.DurationSeconds), queue.EventLevelInfo)
	e.publish(Event{Type: EventTaskCompleted, TaskID: task.ID, WorkspaceID: workspaceID})
	e.logger.Info("task completed",
		"task_id", task.ID,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"cost_usd", result.CostUSD,
		"duration_seconds", result.DurationSeconds,
	)
}

// reportFailure reports a task failure exactly once. An unauthorized
// answer at any point signs the agent out and leaves local status
// untouched, since the report was not confirmed.
func (e *Engine) reportFailure(ctx context.Context, task queue.Task, workspaceID string, taskErr error) {
	if errors.Is(taskErr, queue.ErrUnauthorized) {
		e.signOut("task execution")
		return
	}

	msg := taskErr.Error()
	if err := e.api.FailTask(ctx, task.ID, msg); err != nil {
		if errors.Is(err, queue.ErrUnauthorized) {
			e.signOut("failure report")
			return
		}
		e.logger.Warn("failed to report task failure; remote status may be inconsistent",
			"task_id", task.ID, "error", err)
	}

	e.setTaskStatus(task.ID, queue.TaskStatusFailed, msg)
	e.reported.Mark(task.ID)
	e.mu.Lock()
	e.usage.TasksFailed++
	e.mu.Unlock()
	if workspaceID != "" {
		e.finalizeWorkspace(ctx, workspaceID, queue.WorkspaceFailed, msg)
	}

	e.journal(ctx, task.ID, workspaceID, "task_failed", msg, queue.EventLevelError)
	e.publish(Event{Type: EventTaskFailed, TaskID: task.ID, WorkspaceID: workspaceID, Message: msg})
	e.logger.Error("task failed", "task_id", task.ID, "error", msg)
}

// finalizeWorkspace settles a workspace after its task reached a
// terminal state: status update, archive, cleanup. Failures here are
// logged, not propagated; the task outcome is already reported. A
// failed archive skips cleanup so the directory survives for
// inspection.
func (e *Engine) finalizeWorkspace(ctx context.Context, workspaceID string, status queue.WorkspaceStatus, errMsg string) {
	if err := e.workspaces.UpdateStatus(ctx, workspaceID, status, errMsg); err != nil {
		e.logger.Warn("failed to update workspace status", "workspace_id", workspaceID, "error", err)
	}
	if err := e.workspaces.Archive(ctx, workspaceID); err != nil {
		e.logger.Error("workspace archive failed, leaving directory in place",
			"workspace_id", workspaceID, "error", err)
		return
	}
	if err := e.workspaces.Cleanup(ctx, workspaceID); err != nil {
		e.logger.Warn("workspace cleanup failed", "workspace_id", workspaceID, "error", err)
	}
}

// writeReport renders the task result into the workspace output
// directory so it is captured by the archive.
func (e *Engine) writeReport(task queue.Task, workspaceID string, result *provider.Result) {
	if workspaceID == "" || e.workspaces == nil {
		return
	}
	ws, ok := e.workspaces.Get(workspaceID)
	if !ok {
		return
	}

	_, _, err := artifact.WriteReport(filepath.Join(ws.Path, "output"), artifact.Report{
		TaskID:          task.ID,
		Description:     task.Description,
		AgentName:       e.cfg.AgentName,
		Model:           result.Model,
		OutputText:      result.OutputText,
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		CostUSD:         result.CostUSD,
		DurationSeconds: result.DurationSeconds,
		CompletedAt:     time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to write task report", "task_id", task.ID, "error", err)
	}
}

// accumulateUsage folds one result into the running totals and persists
// a usage row.
func (e *Engine) accumulateUsage(ctx context.Context, taskID string, result *provider.Result, completed bool) {
	e.mu.Lock()
	if completed {
		e.usage.TasksCompleted++
	}
	e.usage.InputTokens += result.InputTokens
	e.usage.OutputTokens += result.OutputTokens
	e.usage.CostUSD += result.CostUSD
	e.usage.DurationSeconds += result.DurationSeconds
	e.mu.Unlock()

	if err := e.store.SaveUsage(ctx, &store.UsageRecord{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		Model:           result.Model,
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		CostUSD:         result.CostUSD,
		DurationSeconds: result.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		e.logger.Warn("failed to persist usage", "task_id", taskID, "error", err)
	}
}

// Pause stops new claims. In-flight tasks keep running to completion.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StatePaused
	e.mu.Unlock()

	e.logger.Info("engine paused")
	e.publish(Event{Type: EventStateChanged, State: StatePaused})
}

// Resume restarts claiming after a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Info("engine resumed")
	e.publish(Event{Type: EventStateChanged, State: StateRunning})
}

// signOut transitions the whole agent to signed-out exactly once.
func (e *Engine) signOut(during string) {
	e.signOutOnce.Do(func() {
		e.mu.Lock()
		e.state = StateSignedOut
		e.mu.Unlock()

		e.logger.Error("credential rejected, signing out", "during", during)
		e.publish(Event{Type: EventSignedOut, State: StateSignedOut, Message: during})
		close(e.signedOut)
	})
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ActiveCount returns the number of in-flight tasks.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.inflight)
}

// TaskStatus returns the local status of a task seen this session.
func (e *Engine) TaskStatus(taskID string) (queue.TaskStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, ok := e.tasks[taskID]
	if !ok {
		return "", false
	}
	return ts.Status, true
}

// Snapshot returns a point-in-time copy of engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		State:        e.state,
		AgentName:    e.cfg.AgentName,
		LastSyncTime: e.lastSync,
		Usage:        e.usage,
	}
	for id := range e.inflight {
		snap.ActiveTaskIDs = append(snap.ActiveTaskIDs, id)
	}
	sort.Strings(snap.ActiveTaskIDs)
	for _, ts := range e.tasks {
		snap.Tasks = append(snap.Tasks, *ts)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].StartedAt.Before(snap.Tasks[j].StartedAt)
	})
	return snap
}

// Subscribe registers an observer for engine events.
func (e *Engine) Subscribe(ctx context.Context) (<-chan Event, string) {
	return e.events.Subscribe(ctx)
}

// Close releases the engine's background resources after Run returns.
func (e *Engine) Close() {
	e.reported.Close()
	e.events.Close()
}

func (e *Engine) isActive(taskID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.inflight[taskID]
	return ok
}

func (e *Engine) removeInflight(taskID string) {
	e.mu.Lock()
	delete(e.inflight, taskID)
	e.mu.Unlock()
}

func (e *Engine) setTaskStatus(taskID string, status queue.TaskStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, ok := e.tasks[taskID]
	if !ok {
		return
	}
	ts.Status = status
	if errMsg != "" {
		ts.Error = errMsg
	}
	switch status {
	case queue.TaskStatusCompleted, queue.TaskStatusFailed, queue.TaskStatusCancelled:
		ts.FinishedAt = time.Now().UTC()
	}
}

func (e *Engine) setTaskWorkspace(taskID, workspaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts, ok := e.tasks[taskID]; ok {
		ts.WorkspaceID = workspaceID
	}
}

func (e *Engine) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.events.Publish(event)
}

// journal appends a task event to the local store, best-effort.
func (e *Engine) journal(ctx context.Context, taskID, workspaceID, eventType, message, level string) {
	err := e.store.AppendEvent(ctx, &queue.Event{
		WorkspaceID: workspaceID,
		TaskID:      taskID,
		Type:        eventType,
		Category:    queue.EventCategoryTask,
		Message:     message,
		Level:       level,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to journal event", "task_id", taskID, "type", eventType, "error", err)
	}
}
