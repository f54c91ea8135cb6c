// Package engine implements the agent's task execution loop.
//
// A recurring timer drives polling: each tick fetches pending tasks for
// this agent and claims them in backend order while the number of
// in-flight tasks stays under the configured bound. A claimed task is
// accepted, reported running, then executed against the capability
// provider as an independent goroutine; completion or failure is
// reported back exactly once. Task ids whose terminal report was just
// sent are shielded by a TTL set so a lagging backend cannot cause an
// immediate re-claim.
//
// A 401 from any queue call is fatal: the engine transitions to
// signed-out and stops. If the unconfirmed report was a completion or
// failure, the task's local status deliberately stays running.
//
// Stopping the engine cancels the timers but lets in-flight tasks and
// workspace setups run to their terminal state. Pausing stops new
// claims only.
package engine
