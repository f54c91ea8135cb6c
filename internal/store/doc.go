// Package store provides the agent's local state cache using SQLite.
//
// # Architecture
//
// The Store interface covers three concerns:
//
//   - Workspaces: a cache of the lifecycle records the agent manages.
//     The remote backend owns the canonical state; a row here reflects
//     the last remotely-acknowledged transition.
//   - Events: an append-only journal of lifecycle transitions, kept
//     locally in addition to best-effort remote reporting.
//   - Usage: per-task token counts and cost, so running totals survive
//     agent restarts.
//
// SQLiteStore implements the full interface in a single struct.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 text. Use NewSQLiteStore(":memory:")
// for tests.
package store
