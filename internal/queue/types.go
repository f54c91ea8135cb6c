// ABOUTME: Wire types shared with the remote task queue API
// ABOUTME: Tasks, workspaces, devices, events, artifacts and their status enums

package queue

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAccepted  TaskStatus = "accepted"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusPaused    TaskStatus = "paused"
)

// ExecutionMode controls how much of a task the agent is allowed to perform.
type ExecutionMode string

const (
	ModePlanOnly ExecutionMode = "plan_only"
	ModeDryRun   ExecutionMode = "dry_run"
	ModeExecute  ExecutionMode = "execute"
)

// Guardrails are task-level constraints enforced by policy.
type Guardrails struct {
	MaxCostUSD         float64 `json:"max_cost_usd,omitempty"`
	MaxDurationSeconds int     `json:"max_duration_seconds,omitempty"`
	RequireApproval    bool    `json:"require_approval,omitempty"`
}

// Task is a unit of work owned by the remote backend. The agent only ever
// mutates its status and result fields.
type Task struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	AgentName   string            `json:"agent_name,omitempty"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Mode        ExecutionMode     `json:"mode,omitempty"`
	Guardrails  Guardrails        `json:"guardrails,omitempty"`

	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retry_count,omitempty"`
	MaxRetries int        `json:"max_retries,omitempty"`

	// NeedsWorkspace asks the agent to provision an isolated workspace
	// before executing. RepoURL/RepoBranch seed the checkout when set.
	NeedsWorkspace bool   `json:"needs_workspace,omitempty"`
	RepoURL        string `json:"repo_url,omitempty"`
	RepoBranch     string `json:"repo_branch,omitempty"`

	EstimatedCostUSD float64 `json:"estimated_cost_usd,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TaskResult is the structured outcome reported on completion.
type TaskResult struct {
	OutputText      string  `json:"output_text"`
	Model           string  `json:"model,omitempty"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// WorkspaceStatus represents the lifecycle state of a workspace.
type WorkspaceStatus string

const (
	WorkspaceCreating     WorkspaceStatus = "creating"
	WorkspaceInitializing WorkspaceStatus = "initializing"
	WorkspaceCloning      WorkspaceStatus = "cloning"
	WorkspaceReady        WorkspaceStatus = "ready"
	WorkspaceAssigned     WorkspaceStatus = "assigned"
	WorkspaceRunning      WorkspaceStatus = "running"
	WorkspaceCompleted    WorkspaceStatus = "completed"
	WorkspaceFailed       WorkspaceStatus = "failed"
	WorkspacePaused       WorkspaceStatus = "paused"
	WorkspaceArchived     WorkspaceStatus = "archived"
	WorkspaceCleanup      WorkspaceStatus = "cleanup"
)

// WorkspaceLimits are per-workspace resource bounds. Disk bounds are
// advisory; the execution timeout is enforced on subprocesses.
type WorkspaceLimits struct {
	MaxDiskBytes       int64 `json:"max_disk_bytes,omitempty"`
	ExecTimeoutSeconds int   `json:"exec_timeout_seconds,omitempty"`
	NetworkAllowed     bool  `json:"network_allowed,omitempty"`
}

// Workspace is an isolated disk-backed working area tied to one device
// and one owner.
type Workspace struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name,omitempty"`
	Path     string `json:"path"`

	RepoURL    string `json:"repo_url,omitempty"`
	RepoBranch string `json:"repo_branch,omitempty"`

	Limits WorkspaceLimits `json:"limits,omitempty"`

	Status             WorkspaceStatus `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentPhase       string          `json:"current_phase,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`

	DiskUsageBytes int64 `json:"disk_usage_bytes,omitempty"`
	FileCount      int64 `json:"file_count,omitempty"`

	CreatedAt     time.Time  `json:"created_at,omitempty"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	ReadyAt       *time.Time `json:"ready_at,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// DeviceStatus represents the administrative state of a device.
type DeviceStatus string

const (
	DeviceActive      DeviceStatus = "active"
	DeviceInactive    DeviceStatus = "inactive"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceDisabled    DeviceStatus = "disabled"
)

// Device is the local machine as the backend sees it: stable identity,
// capacity limits, and liveness.
type Device struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	OS          string `json:"os,omitempty"`
	Arch        string `json:"arch,omitempty"`

	Status DeviceStatus `json:"status"`

	MaxConcurrentWorkspaces int   `json:"max_concurrent_workspaces"`
	MaxDiskUsageBytes       int64 `json:"max_disk_usage_bytes"`
	CurrentWorkspacesCount  int   `json:"current_workspaces_count"`
	CurrentDiskUsageBytes   int64 `json:"current_disk_usage_bytes"`

	IsOnline        bool       `json:"is_online"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

// Event is an append-only audit record emitted on lifecycle transitions.
type Event struct {
	ID          string    `json:"id,omitempty"`
	WorkspaceID string    `json:"workspace_id"`
	TaskID      string    `json:"task_id,omitempty"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Message     string    `json:"message"`
	Level       string    `json:"level"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event categories and levels used by the agent.
const (
	EventCategoryLifecycle = "lifecycle"
	EventCategoryTask      = "task"
	EventCategorySetup     = "setup"

	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Artifact is a file produced inside a workspace and registered with the
// backend. Type "other" covers archives.
type Artifact struct {
	ID          string    `json:"id,omitempty"`
	WorkspaceID string    `json:"workspace_id"`
	TaskID      string    `json:"task_id,omitempty"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Metrics is a best-effort resource usage sample for a workspace.
type Metrics struct {
	DiskUsageBytes int64     `json:"disk_usage_bytes"`
	FileCount      int64     `json:"file_count"`
	CollectedAt    time.Time `json:"collected_at"`
}

// WorkspaceFilter narrows ListWorkspaces. Zero values mean "any".
type WorkspaceFilter struct {
	DeviceID string
	OwnerID  string
	Status   WorkspaceStatus
}

// AssignConfig carries per-assignment execution settings.
type AssignConfig struct {
	Mode               ExecutionMode `json:"mode,omitempty"`
	ExecTimeoutSeconds int           `json:"exec_timeout_seconds,omitempty"`
}
