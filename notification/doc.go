// Package notification turns pipeline execution result events into
// condition-gated deliveries to external channels.
//
// Each notification config names a pipeline, a boolean condition evaluated
// against the execution result in the sandbox, a channel type, and a
// parameter whose shape is fixed by that type. Dispatch for one event fans
// out concurrently with per-channel failure isolation: a dead webhook or a
// bad credential is logged and never blocks the other deliveries.
package notification
