// Package device manages this machine's identity with the backend: an
// SSH-keypair-derived fingerprint, idempotent registration, workspace
// capacity slots, and the periodic heartbeat.
package device
