// ABOUTME: Workspace status machine and transition rules
// ABOUTME: Canonical order creating->initializing->cloning->ready->assigned->running->terminal->archived->cleanup

package workspace

import "github.com/2389/familiar/internal/queue"

// transitions maps each status to the statuses reachable from it.
// Forward skips are allowed (a workspace with no repository goes
// initializing -> ready), paused<->running is the only backward edge,
// and failed is reachable from every state before archived.
var transitions = map[queue.WorkspaceStatus][]queue.WorkspaceStatus{
	queue.WorkspaceCreating:     {queue.WorkspaceInitializing, queue.WorkspaceFailed},
	queue.WorkspaceInitializing: {queue.WorkspaceCloning, queue.WorkspaceReady, queue.WorkspaceFailed},
	queue.WorkspaceCloning:      {queue.WorkspaceReady, queue.WorkspaceFailed},
	queue.WorkspaceReady:        {queue.WorkspaceAssigned, queue.WorkspaceArchived, queue.WorkspaceFailed},
	queue.WorkspaceAssigned:     {queue.WorkspaceRunning, queue.WorkspaceFailed},
	queue.WorkspaceRunning:      {queue.WorkspaceCompleted, queue.WorkspacePaused, queue.WorkspaceFailed},
	queue.WorkspacePaused:       {queue.WorkspaceRunning, queue.WorkspaceArchived, queue.WorkspaceFailed},
	queue.WorkspaceCompleted:    {queue.WorkspaceArchived, queue.WorkspaceFailed},
	queue.WorkspaceFailed:       {queue.WorkspaceArchived},
	queue.WorkspaceArchived:     {queue.WorkspaceCleanup},
	queue.WorkspaceCleanup:      {},
}

// CanTransition reports whether a workspace may move from one status to
// another.
func CanTransition(from, to queue.WorkspaceStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the workspace lifecycle.
func IsTerminal(status queue.WorkspaceStatus) bool {
	return status == queue.WorkspaceCleanup
}

// HoldsSlot reports whether a workspace in this status occupies one of
// the device's capacity slots. A slot is held from creating until the
// workspace reaches archived.
func HoldsSlot(status queue.WorkspaceStatus) bool {
	switch status {
	case queue.WorkspaceArchived, queue.WorkspaceCleanup:
		return false
	}
	return true
}
