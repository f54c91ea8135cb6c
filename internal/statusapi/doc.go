// Package statusapi serves the agent's local HTTP status surface:
// liveness and readiness probes, a JSON snapshot of engine and
// workspace state, the recent event journal, and a live SSE stream of
// engine events.
//
// The server binds a loopback address by default. With tailscale
// enabled it instead joins the tailnet as its own node via tsnet so
// other machines can watch the agent without exposing a public port.
package statusapi
