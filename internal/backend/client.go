// Package backend provides the client for the opaque execution backend: an
// RPC-style command surface plus an event stream that is republished onto the
// local event bus.
package backend

import (
	"context"
)

// StartExecutionRequest asks the backend to launch a coding agent for a task attempt.
type StartExecutionRequest struct {
	TaskID           string                 `json:"task_id"`
	AttemptID        string                 `json:"attempt_id"`
	WorkingDirectory string                 `json:"working_directory"`
	AgentKind        string                 `json:"agent_kind"`
	ResumeToken      string                 `json:"resume_token,omitempty"`
	Options          map[string]interface{} `json:"options,omitempty"`
}

// StartExecutionResponse is the backend's acknowledgement of a started execution.
type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	ResumeToken string `json:"resume_token,omitempty"`
}

// Attachment is a file or image attached to user input.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Path      string `json:"path,omitempty"`
	Data      string `json:"data,omitempty"` // base64, for inline content
}

// SendInputRequest forwards user input to a running execution.
type SendInputRequest struct {
	AttemptID   string       `json:"attempt_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Client is the command surface of the execution backend. All calls are
// fallible RPCs; failures are surfaced as BackendUnavailable errors and are
// never retried at this layer.
type Client interface {
	StartExecution(ctx context.Context, req StartExecutionRequest) (*StartExecutionResponse, error)
	SendInput(ctx context.Context, req SendInputRequest) error
	StopExecution(ctx context.Context, attemptID string) error
	IsAttemptActive(ctx context.Context, attemptID string) (bool, error)
}
