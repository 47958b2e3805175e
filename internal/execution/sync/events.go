package sync

import (
	"encoding/json"
	"fmt"

	"github.com/12Particles/pivosync/internal/events/bus"
	"github.com/12Particles/pivosync/internal/execution"
)

// ExecutionEventData is the payload of execution lifecycle events
// (execution.started, execution.stopped, execution.completed).
type ExecutionEventData struct {
	TaskID      string `json:"task_id"`
	AttemptID   string `json:"attempt_id"`
	ExecutionID string `json:"execution_id"`
	AgentKind   string `json:"agent_kind,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
	Success     *bool  `json:"success,omitempty"` // execution.completed only
}

func (d *ExecutionEventData) validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if d.AttemptID == "" {
		return fmt.Errorf("missing attempt_id")
	}
	if d.ExecutionID == "" {
		return fmt.Errorf("missing execution_id")
	}
	return nil
}

// validateCompleted additionally requires the success flag, so a completion
// with the outcome missing is dropped instead of silently read as a success.
func (d *ExecutionEventData) validateCompleted() error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.Success == nil {
		return fmt.Errorf("missing success flag")
	}
	return nil
}

// MessageEventData is the payload of execution.message events.
type MessageEventData struct {
	ExecutionID string            `json:"execution_id"`
	TaskID      string            `json:"task_id"`
	AttemptID   string            `json:"attempt_id"`
	Message     execution.Message `json:"message"`
}

func (d *MessageEventData) validate() error {
	if d.AttemptID == "" {
		return fmt.Errorf("missing attempt_id")
	}
	if d.Message.Type == "" {
		return fmt.Errorf("missing message type")
	}
	return nil
}

// TaskSummaryData is the payload of task.summary events: the backend's
// authoritative snapshot of a task's running state.
type TaskSummaryData struct {
	TaskID          string `json:"task_id"`
	ActiveAttemptID string `json:"active_attempt_id,omitempty"`
	IsRunning       bool   `json:"is_running"`
	AgentKind       string `json:"agent_kind,omitempty"`
}

func (d *TaskSummaryData) validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if d.IsRunning && d.ActiveAttemptID == "" {
		return fmt.Errorf("running summary missing active_attempt_id")
	}
	return nil
}

// decodeEventData converts the loosely-typed event payload into a typed struct.
func decodeEventData(event *bus.Event, v interface{}) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	return nil
}
