// Package facade exposes the imperative execution operations available to UI
// clients. It is the only component that initiates backend RPCs; state it
// writes eagerly into the registry is later absorbed by the synchronizer's
// idempotent merge when the corresponding events arrive.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	agentregistry "github.com/12Particles/pivosync/internal/agent/registry"
	"github.com/12Particles/pivosync/internal/backend"
	apperrors "github.com/12Particles/pivosync/internal/common/errors"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution"
	"github.com/12Particles/pivosync/internal/execution/registry"
)

// StartRequest describes a new execution to launch.
type StartRequest struct {
	TaskID           string                 `json:"task_id"`
	AttemptID        string                 `json:"attempt_id"`
	WorkingDirectory string                 `json:"working_directory"`
	AgentKind        execution.AgentKind    `json:"agent_kind"`
	ResumeToken      string                 `json:"resume_token,omitempty"`
	Options          map[string]interface{} `json:"options,omitempty"`
}

// Service is the command façade over the execution backend.
type Service struct {
	backend  backend.Client
	registry *registry.Registry
	agents   *agentregistry.Registry
	logger   *logger.Logger
}

// NewService creates the command façade.
func NewService(client backend.Client, reg *registry.Registry, agents *agentregistry.Registry, log *logger.Logger) *Service {
	return &Service{
		backend:  client,
		registry: reg,
		agents:   agents,
		logger:   log.WithFields(zap.String("component", "execution-facade")),
	}
}

// Start launches an execution for a task attempt. It rejects with
// AlreadyActive when the task already has a live attempt; on backend success
// it updates the registry eagerly rather than waiting for the started event.
//
// The task is reserved in the registry for the duration of the backend RPC,
// so two clients starting different attempts concurrently cannot both pass
// the liveness check: the loser gets AlreadyActive before the backend is ever
// called. The reservation is committed by the Reset below or released on
// failure.
func (s *Service) Start(ctx context.Context, req StartRequest) (*execution.Execution, error) {
	if req.TaskID == "" {
		return nil, apperrors.ValidationError("task_id", "must not be empty")
	}
	if req.AttemptID == "" {
		return nil, apperrors.ValidationError("attempt_id", "must not be empty")
	}
	if !s.agents.IsEnabled(req.AgentKind) {
		return nil, apperrors.ValidationError("agent_kind", fmt.Sprintf("unknown or disabled agent '%s'", req.AgentKind))
	}

	if holder, ok := s.registry.ReserveTask(req.TaskID, req.AttemptID); !ok {
		return nil, apperrors.AlreadyActive(req.TaskID, holder)
	}

	resp, err := s.backend.StartExecution(ctx, backend.StartExecutionRequest{
		TaskID:           req.TaskID,
		AttemptID:        req.AttemptID,
		WorkingDirectory: req.WorkingDirectory,
		AgentKind:        string(req.AgentKind),
		ResumeToken:      req.ResumeToken,
		Options:          req.Options,
	})
	if err != nil {
		s.registry.ReleaseTask(req.TaskID, req.AttemptID)
		return nil, err
	}

	exec := &execution.Execution{
		ID:          resp.ExecutionID,
		AttemptID:   req.AttemptID,
		TaskID:      req.TaskID,
		AgentKind:   req.AgentKind,
		Status:      execution.StatusStarting,
		ResumeToken: resp.ResumeToken,
	}
	s.registry.Reset(exec)

	s.logger.Info("execution started",
		zap.String("task_id", req.TaskID),
		zap.String("attempt_id", req.AttemptID),
		zap.String("execution_id", resp.ExecutionID),
		zap.String("agent_kind", string(req.AgentKind)))

	started, _ := s.registry.Get(req.AttemptID)
	return started, nil
}

// SendInput forwards user input to a running execution. The user message is
// appended locally before the backend call: the backend never echoes the
// user's own input back as an event, so the optimistic append is the only
// copy and can never be duplicated by the stream.
func (s *Service) SendInput(ctx context.Context, attemptID, text string, attachments []backend.Attachment) error {
	exec, ok := s.registry.Get(attemptID)
	if !ok || !exec.Status.IsLive() {
		return apperrors.NoActiveExecution(attemptID)
	}

	s.registry.AppendMessage(attemptID, execution.Message{
		ID:        uuid.New().String(),
		Type:      execution.MessageUserInput,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})

	if err := s.backend.SendInput(ctx, backend.SendInputRequest{
		AttemptID:   attemptID,
		Text:        text,
		Attachments: attachments,
	}); err != nil {
		return err
	}

	s.logger.Debug("input sent", zap.String("attempt_id", attemptID))
	return nil
}

// Stop requests cancellation of a running execution. The local status flips
// to stopping for UI responsiveness, but the terminal transition always comes
// from the event stream; a failed stop is reconciled by a later summary.
//
// When the registry has no live record (e.g. the start event was missed
// across a reconnect), the backend is asked directly whether the attempt is
// active before rejecting, so an orphaned execution can still be stopped.
func (s *Service) Stop(ctx context.Context, attemptID string) error {
	exec, ok := s.registry.Get(attemptID)
	if !ok || !exec.Status.IsLive() {
		active, err := s.backend.IsAttemptActive(ctx, attemptID)
		if err != nil || !active {
			return apperrors.NoActiveExecution(attemptID)
		}
		s.logger.Warn("stopping execution unknown to local registry",
			zap.String("attempt_id", attemptID))
		return s.backend.StopExecution(ctx, attemptID)
	}

	s.registry.ApplyStatus(attemptID, execution.StatusStopping)

	if err := s.backend.StopExecution(ctx, attemptID); err != nil {
		return err
	}

	s.logger.Info("stop requested", zap.String("attempt_id", attemptID))
	return nil
}

// Execution returns the last-known record for an attempt.
func (s *Service) Execution(attemptID string) (*execution.Execution, error) {
	exec, ok := s.registry.Get(attemptID)
	if !ok {
		return nil, apperrors.NotFound("execution", attemptID)
	}
	return exec, nil
}

// TaskState returns the derived running-state view for a task.
func (s *Service) TaskState(taskID string) execution.TaskState {
	return s.registry.TaskState(taskID)
}

// ActiveAttempt returns the attempt currently active for a task, if any.
func (s *Service) ActiveAttempt(taskID string) (string, bool) {
	return s.registry.ActiveAttempt(taskID)
}

// IsTaskRunning reports whether the task has a live attempt.
func (s *Service) IsTaskRunning(taskID string) bool {
	return s.registry.IsTaskRunning(taskID)
}

// Agents returns the available agent profiles.
func (s *Service) Agents() []*agentregistry.AgentProfile {
	return s.agents.List()
}

// Evict drops an attempt's record once the UI navigates away from it.
func (s *Service) Evict(attemptID string) {
	s.registry.Evict(attemptID)
}
