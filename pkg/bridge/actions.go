package bridge

// Action constants for bridge messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Execution commands (UI -> gateway, gateway/bridge -> backend)
	ActionExecutionStart  = "execution.start"
	ActionExecutionInput  = "execution.input"
	ActionExecutionStop   = "execution.stop"
	ActionExecutionState  = "execution.state"
	ActionExecutionActive = "execution.active"

	// Task queries
	ActionTaskState = "task.state"

	// Agent catalog
	ActionAgentList = "agent.list"

	// Watch subscriptions (UI -> gateway)
	ActionTaskWatch      = "task.watch"
	ActionTaskUnwatch    = "task.unwatch"
	ActionAttemptWatch   = "attempt.watch"
	ActionAttemptUnwatch = "attempt.unwatch"

	// Notification actions (server -> client)
	ActionTaskChanged      = "task.changed"
	ActionAttemptChanged   = "attempt.changed"
	ActionExecutionStarted = "execution.started"
	ActionExecutionStopped = "execution.stopped"
	ActionExecutionDone    = "execution.completed"
	ActionExecutionMessage = "execution.message"
	ActionTaskSummary      = "task.summary"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeTimeout       = "TIMEOUT"
)
