// Package workspace implements the lifecycle manager for isolated,
// disk-backed workspaces on this device.
//
// A workspace moves through creating, initializing, optional cloning,
// ready, assigned, running, a terminal status (completed, failed or
// paused), archived, and finally cleanup. The remote backend is the
// source of truth for status: every transition updates the backend
// first and touches the local cache only after the update is
// acknowledged. Transitions for a single workspace never interleave.
//
// Setup runs asynchronously: Create returns as soon as the backend has
// the record, and directory scaffolding plus the optional repository
// checkout proceed in the background. Each workspace occupies one
// device capacity slot from creation until it reaches archived.
package workspace
