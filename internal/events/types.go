// Package events provides event subject names for the pivosync event system.
package events

// Subjects for execution lifecycle events pushed by the backend bridge.
const (
	ExecutionStarted   = "execution.started"
	ExecutionStopped   = "execution.stopped"
	ExecutionCompleted = "execution.completed"
	ExecutionMessage   = "execution.message"
)

// Subjects for task-level events.
const (
	// TaskSummary is the server-authoritative snapshot of a task's running
	// state. It is replayed by the backend on reconnect and pushed whenever
	// the backend's own view changes.
	TaskSummary = "task.summary"
)
