// Package execution defines the domain model for coding-agent executions:
// one execution is a single running or finished invocation of a coding agent
// inside a task attempt.
package execution

import (
	"time"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	// StatusStopping is a locally-applied hint while a stop request is in
	// flight. The terminal state always comes from the backend event stream.
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// IsLive reports whether the execution still occupies its task's active
// attempt slot.
func (s Status) IsLive() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// IsTerminal reports whether the execution has finished.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// AgentKind identifies which coding agent runs an execution.
type AgentKind string

const (
	AgentClaude AgentKind = "claude"
	AgentGemini AgentKind = "gemini"
	AgentCodex  AgentKind = "codex"
	AgentAmp    AgentKind = "amp"
)

// MessageType tags one unit of conversation or tool output.
type MessageType string

const (
	MessageUserInput  MessageType = "user_input"
	MessageAssistant  MessageType = "assistant"
	MessageThinking   MessageType = "thinking"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageSystem     MessageType = "system"
	MessageCompletion MessageType = "completion"
	MessageRaw        MessageType = "raw"
)

// Message is one entry in an execution's conversation log.
// Messages are immutable once appended; ordering is insertion order.
type Message struct {
	ID         string                 `json:"id"`
	Type       MessageType            `json:"type"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Execution is the last-known record of one coding-agent invocation.
// Records are owned by the registry; reads return copies.
type Execution struct {
	ID          string      `json:"id"`
	AttemptID   string      `json:"attempt_id"`
	TaskID      string      `json:"task_id"`
	AgentKind   AgentKind   `json:"agent_kind"`
	Status      Status      `json:"status"`
	Messages    []Message   `json:"messages"`
	ResumeToken string      `json:"resume_token,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Messages = make([]Message, len(e.Messages))
	copy(cp.Messages, e.Messages)
	return &cp
}

// TaskState is the derived view of a task's running state.
type TaskState struct {
	TaskID    string    `json:"task_id"`
	IsRunning bool      `json:"is_running"`
	AttemptID string    `json:"attempt_id,omitempty"`
	AgentKind AgentKind `json:"agent_kind,omitempty"`
}
