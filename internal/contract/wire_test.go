// ABOUTME: Contract tests for the queue API wire surface to detect breaking changes.
// ABOUTME: Validates JSON field names and status enum values stay stable.

package contract

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/familiar/internal/queue"
)

// expectedWireFields defines the contract for our JSON wire surface.
// The remote backend parses these exact keys; renaming a field breaks
// every deployed agent, so these tests pin the names.
var expectedWireFields = map[string]struct {
	typ    reflect.Type
	fields []string
}{
	"Task": {
		typ: reflect.TypeOf(queue.Task{}),
		fields: []string{
			"id", "workspace_id", "agent_name", "description", "context",
			"mode", "guardrails", "status", "retry_count", "max_retries",
			"needs_workspace", "repo_url", "repo_branch",
			"estimated_cost_usd", "created_at", "updated_at",
		},
	},
	"TaskResult": {
		typ: reflect.TypeOf(queue.TaskResult{}),
		fields: []string{
			"output_text", "model", "input_tokens", "output_tokens",
			"cost_usd", "duration_seconds",
		},
	},
	"Guardrails": {
		typ: reflect.TypeOf(queue.Guardrails{}),
		fields: []string{
			"max_cost_usd", "max_duration_seconds", "require_approval",
		},
	},
	"Workspace": {
		typ: reflect.TypeOf(queue.Workspace{}),
		fields: []string{
			"id", "owner_id", "device_id", "name", "path",
			"repo_url", "repo_branch", "limits",
			"status", "progress_percentage", "current_phase", "error_message",
			"disk_usage_bytes", "file_count",
			"created_at", "initialized_at", "ready_at", "archived_at",
		},
	},
	"WorkspaceLimits": {
		typ: reflect.TypeOf(queue.WorkspaceLimits{}),
		fields: []string{
			"max_disk_bytes", "exec_timeout_seconds", "network_allowed",
		},
	},
	"Device": {
		typ: reflect.TypeOf(queue.Device{}),
		fields: []string{
			"id", "fingerprint", "name", "hostname", "os", "arch", "status",
			"max_concurrent_workspaces", "max_disk_usage_bytes",
			"current_workspaces_count", "current_disk_usage_bytes",
			"is_online", "last_heartbeat_at", "created_at",
		},
	},
	"Event": {
		typ: reflect.TypeOf(queue.Event{}),
		fields: []string{
			"id", "workspace_id", "task_id",
			"type", "category", "message", "level", "timestamp",
		},
	},
	"Artifact": {
		typ: reflect.TypeOf(queue.Artifact{}),
		fields: []string{
			"id", "workspace_id", "task_id", "name", "type", "path",
			"size_bytes", "content_type", "checksum", "created_at",
		},
	},
	"Metrics": {
		typ: reflect.TypeOf(queue.Metrics{}),
		fields: []string{
			"disk_usage_bytes", "file_count", "collected_at",
		},
	},
	"AssignConfig": {
		typ: reflect.TypeOf(queue.AssignConfig{}),
		fields: []string{
			"mode", "exec_timeout_seconds",
		},
	},
}

// jsonFieldNames extracts the wire names from a struct's json tags.
func jsonFieldNames(typ reflect.Type) map[string]bool {
	names := make(map[string]bool)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		names[name] = true
	}
	return names
}

// TestWireSurface verifies that every wire type serializes with the
// expected JSON keys. This acts as a contract test to prevent
// accidental breaking changes to the API surface.
func TestWireSurface(t *testing.T) {
	for typeName, expected := range expectedWireFields {
		t.Run(typeName, func(t *testing.T) {
			actual := jsonFieldNames(expected.typ)

			// Verify expected fields exist
			for _, field := range expected.fields {
				assert.True(t, actual[field],
					"field %s.%s should be on the wire", typeName, field)
			}

			// Report any extra fields not in contract (informational, not failure)
			for field := range actual {
				found := slices.Contains(expected.fields, field)
				if !found {
					t.Logf("INFO: extra field %s.%s not in contract (consider adding)", typeName, field)
				}
			}
		})
	}
}

// TestStatusValues pins the enum strings the backend matches on.
func TestStatusValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
	}{
		{"TaskStatusPending", string(queue.TaskStatusPending), "pending"},
		{"TaskStatusAccepted", string(queue.TaskStatusAccepted), "accepted"},
		{"TaskStatusRunning", string(queue.TaskStatusRunning), "running"},
		{"TaskStatusCompleted", string(queue.TaskStatusCompleted), "completed"},
		{"TaskStatusFailed", string(queue.TaskStatusFailed), "failed"},
		{"TaskStatusCancelled", string(queue.TaskStatusCancelled), "cancelled"},
		{"TaskStatusPaused", string(queue.TaskStatusPaused), "paused"},

		{"WorkspaceCreating", string(queue.WorkspaceCreating), "creating"},
		{"WorkspaceInitializing", string(queue.WorkspaceInitializing), "initializing"},
		{"WorkspaceCloning", string(queue.WorkspaceCloning), "cloning"},
		{"WorkspaceReady", string(queue.WorkspaceReady), "ready"},
		{"WorkspaceAssigned", string(queue.WorkspaceAssigned), "assigned"},
		{"WorkspaceRunning", string(queue.WorkspaceRunning), "running"},
		{"WorkspaceCompleted", string(queue.WorkspaceCompleted), "completed"},
		{"WorkspaceFailed", string(queue.WorkspaceFailed), "failed"},
		{"WorkspacePaused", string(queue.WorkspacePaused), "paused"},
		{"WorkspaceArchived", string(queue.WorkspaceArchived), "archived"},
		{"WorkspaceCleanup", string(queue.WorkspaceCleanup), "cleanup"},

		{"ModePlanOnly", string(queue.ModePlanOnly), "plan_only"},
		{"ModeDryRun", string(queue.ModeDryRun), "dry_run"},
		{"ModeExecute", string(queue.ModeExecute), "execute"},

		{"DeviceActive", string(queue.DeviceActive), "active"},
		{"DeviceInactive", string(queue.DeviceInactive), "inactive"},
		{"DeviceMaintenance", string(queue.DeviceMaintenance), "maintenance"},
		{"DeviceDisabled", string(queue.DeviceDisabled), "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.actual, "enum value should stay stable")
		})
	}
}
