// Package websocket provides the WebSocket gateway that UI clients connect
// to: command dispatch into the execution façade plus push notifications for
// watched tasks and attempts.
package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/backend"
	apperrors "github.com/12Particles/pivosync/internal/common/errors"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution/facade"
	"github.com/12Particles/pivosync/pkg/bridge"
)

// Handlers contains the stateless bridge handlers backed by the façade.
type Handlers struct {
	service *facade.Service
	logger  *logger.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc *facade.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "gateway-handlers")),
	}
}

// RegisterHandlers registers all façade-backed handlers with the dispatcher.
func (h *Handlers) RegisterHandlers(d *bridge.Dispatcher) {
	d.RegisterFunc(bridge.ActionExecutionStart, h.StartExecution)
	d.RegisterFunc(bridge.ActionExecutionInput, h.SendInput)
	d.RegisterFunc(bridge.ActionExecutionStop, h.StopExecution)
	d.RegisterFunc(bridge.ActionExecutionState, h.ExecutionState)
	d.RegisterFunc(bridge.ActionTaskState, h.TaskState)
	d.RegisterFunc(bridge.ActionAgentList, h.ListAgents)
}

// StartExecution handles execution.start.
func (h *Handlers) StartExecution(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	var req facade.StartRequest
	if err := msg.ParsePayload(&req); err != nil {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	exec, err := h.service.Start(ctx, req)
	if err != nil {
		return errorResponse(msg, err)
	}
	return bridge.NewResponse(msg.ID, msg.Action, exec)
}

// SendInputRequest is the payload for execution.input.
type SendInputRequest struct {
	AttemptID   string               `json:"attempt_id"`
	Text        string               `json:"text"`
	Attachments []backend.Attachment `json:"attachments,omitempty"`
}

// SendInput handles execution.input.
func (h *Handlers) SendInput(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	var req SendInputRequest
	if err := msg.ParsePayload(&req); err != nil {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.AttemptID == "" {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "attempt_id is required", nil)
	}

	if err := h.service.SendInput(ctx, req.AttemptID, req.Text, req.Attachments); err != nil {
		return errorResponse(msg, err)
	}
	return bridge.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// StopExecutionRequest is the payload for execution.stop.
type StopExecutionRequest struct {
	AttemptID string `json:"attempt_id"`
}

// StopExecution handles execution.stop.
func (h *Handlers) StopExecution(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	var req StopExecutionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.AttemptID == "" {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "attempt_id is required", nil)
	}

	if err := h.service.Stop(ctx, req.AttemptID); err != nil {
		return errorResponse(msg, err)
	}
	return bridge.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// ExecutionStateRequest is the payload for execution.state.
type ExecutionStateRequest struct {
	AttemptID string `json:"attempt_id"`
}

// ExecutionState handles execution.state.
func (h *Handlers) ExecutionState(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	var req ExecutionStateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.AttemptID == "" {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "attempt_id is required", nil)
	}

	exec, err := h.service.Execution(req.AttemptID)
	if err != nil {
		return errorResponse(msg, err)
	}
	return bridge.NewResponse(msg.ID, msg.Action, exec)
}

// TaskStateRequest is the payload for task.state.
type TaskStateRequest struct {
	TaskID string `json:"task_id"`
}

// TaskState handles task.state.
func (h *Handlers) TaskState(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	var req TaskStateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.TaskID == "" {
		return bridge.NewError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "task_id is required", nil)
	}

	return bridge.NewResponse(msg.ID, msg.Action, h.service.TaskState(req.TaskID))
}

// ListAgents handles agent.list.
func (h *Handlers) ListAgents(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
	return bridge.NewResponse(msg.ID, msg.Action, h.service.Agents())
}

// errorResponse maps an application error onto a bridge error frame.
func errorResponse(msg *bridge.Message, err error) (*bridge.Message, error) {
	return bridge.NewError(msg.ID, msg.Action, apperrors.Code(err), err.Error(), nil)
}
