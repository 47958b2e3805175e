// Package sync reconciles backend-pushed execution events into the local
// execution registry. Events may arrive out of order, duplicated, or for
// attempts the registry has never seen (e.g. after a reconnect); every
// handler is written to be idempotent and to tolerate gaps in the stream.
package sync

import (
	"context"
	gosync "sync"

	"go.uber.org/zap"

	apperrors "github.com/12Particles/pivosync/internal/common/errors"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/events"
	"github.com/12Particles/pivosync/internal/events/bus"
	"github.com/12Particles/pivosync/internal/execution"
	"github.com/12Particles/pivosync/internal/execution/registry"
)

// queueName is the queue group for load balancing across synchronizer instances
const queueName = "execution-sync"

// Synchronizer subscribes to execution events and applies them to the registry.
type Synchronizer struct {
	eventBus bus.EventBus
	registry *registry.Registry
	logger   *logger.Logger

	subscriptions []bus.Subscription
	mu            gosync.Mutex
	running       bool
}

// New creates a synchronizer bound to an event bus and registry.
func New(eventBus bus.EventBus, reg *registry.Registry, log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		eventBus:      eventBus,
		registry:      reg,
		logger:        log.WithFields(zap.String("component", "execution-sync")),
		subscriptions: make([]bus.Subscription, 0),
	}
}

// Start subscribes to all execution subjects.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	subjects := []struct {
		subject string
		handler bus.EventHandler
	}{
		{events.ExecutionStarted, s.handleStarted},
		{events.ExecutionStopped, s.handleStopped},
		{events.ExecutionCompleted, s.handleCompleted},
		{events.ExecutionMessage, s.handleMessage},
		{events.TaskSummary, s.handleTaskSummary},
	}

	for _, sub := range subjects {
		subscription, err := s.eventBus.QueueSubscribe(sub.subject, queueName, sub.handler)
		if err != nil {
			s.logger.Error("Failed to subscribe",
				zap.String("subject", sub.subject),
				zap.Error(err))
			s.unsubscribeAll()
			return err
		}
		s.subscriptions = append(s.subscriptions, subscription)
	}

	s.running = true
	s.logger.Info("Execution synchronizer started",
		zap.Int("subscriptions", len(s.subscriptions)))
	return nil
}

// Stop removes all subscriptions.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.unsubscribeAll()
	s.running = false
	s.logger.Info("Execution synchronizer stopped")
	return nil
}

// IsRunning returns true if the synchronizer is active.
func (s *Synchronizer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// unsubscribeAll removes all subscriptions (must be called with lock held)
func (s *Synchronizer) unsubscribeAll() {
	for _, sub := range s.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	s.subscriptions = make([]bus.Subscription, 0)
}

// handleStarted applies execution.started: a fresh record replaces whatever
// the registry held for the attempt. A duplicate start for the same execution
// is a no-op so replayed events cannot wipe received messages.
func (s *Synchronizer) handleStarted(ctx context.Context, event *bus.Event) error {
	var data ExecutionEventData
	if !s.decode(event, &data, data.validate) {
		return nil
	}

	// A start for an execution the registry already knows is a replay: if the
	// record is live the replay must not wipe received messages, and if it is
	// terminal the replay must not resurrect it.
	if existing, ok := s.registry.Get(data.AttemptID); ok && existing.ID == data.ExecutionID {
		s.logger.Debug("ignoring duplicate start event",
			zap.String("attempt_id", data.AttemptID),
			zap.String("execution_id", data.ExecutionID))
		return nil
	}

	s.registry.Reset(&execution.Execution{
		ID:          data.ExecutionID,
		AttemptID:   data.AttemptID,
		TaskID:      data.TaskID,
		AgentKind:   execution.AgentKind(data.AgentKind),
		Status:      execution.StatusRunning,
		ResumeToken: data.ResumeToken,
	})

	s.logger.Info("execution started",
		zap.String("task_id", data.TaskID),
		zap.String("attempt_id", data.AttemptID),
		zap.String("execution_id", data.ExecutionID))
	return nil
}

// handleStopped applies execution.stopped. The record is kept so history
// stays visible; the registry clears the task mapping iff it still points at
// this attempt.
func (s *Synchronizer) handleStopped(ctx context.Context, event *bus.Event) error {
	var data ExecutionEventData
	if !s.decode(event, &data, data.validate) {
		return nil
	}

	s.applyTerminal(data, execution.StatusStopped)
	return nil
}

// handleCompleted applies execution.completed, mapping the success flag onto
// the terminal status. The flag is mandatory: a completion without it is
// malformed and dropped rather than guessed at, since defaulting it would
// report failed runs as stopped.
func (s *Synchronizer) handleCompleted(ctx context.Context, event *bus.Event) error {
	var data ExecutionEventData
	if !s.decode(event, &data, data.validateCompleted) {
		return nil
	}

	status := execution.StatusStopped
	if !*data.Success {
		status = execution.StatusFailed
	}
	s.applyTerminal(data, status)
	return nil
}

func (s *Synchronizer) applyTerminal(data ExecutionEventData, status execution.Status) {
	changed := s.registry.Upsert(data.AttemptID, registry.Patch{
		ExecutionID: &data.ExecutionID,
		TaskID:      &data.TaskID,
		Status:      &status,
	})
	if !changed {
		s.logger.Debug("ignoring duplicate terminal event",
			zap.String("attempt_id", data.AttemptID),
			zap.String("status", string(status)))
		return
	}

	s.logger.Info("execution finished",
		zap.String("task_id", data.TaskID),
		zap.String("attempt_id", data.AttemptID),
		zap.String("status", string(status)))
}

// handleMessage appends a message to the attempt's log. If the attempt is
// unknown locally (the start event was missed), a placeholder record is
// created so the message is not lost; a later task.summary backfills the
// missing metadata.
func (s *Synchronizer) handleMessage(ctx context.Context, event *bus.Event) error {
	var data MessageEventData
	if !s.decode(event, &data, data.validate) {
		return nil
	}

	patch := registry.Patch{Messages: []execution.Message{data.Message}}
	if data.TaskID != "" {
		patch.TaskID = &data.TaskID
	}
	if data.ExecutionID != "" {
		patch.ExecutionID = &data.ExecutionID
	}
	s.registry.Upsert(data.AttemptID, patch)
	return nil
}

// handleTaskSummary reconciles the backend's authoritative snapshot. A
// not-running summary overrides any locally-inferred running state; a running
// summary (re)establishes the mapping even when no start event was ever seen.
func (s *Synchronizer) handleTaskSummary(ctx context.Context, event *bus.Event) error {
	var data TaskSummaryData
	if !s.decode(event, &data, data.validate) {
		return nil
	}

	if !data.IsRunning {
		// Flip whichever attempt the task currently points at; the status
		// transition clears the mapping as a side effect.
		if attemptID, ok := s.registry.ActiveAttempt(data.TaskID); ok {
			s.registry.ApplyStatus(attemptID, execution.StatusStopped)
		}
		if data.ActiveAttemptID != "" {
			s.registry.ApplyStatus(data.ActiveAttemptID, execution.StatusStopped)
		}
		s.registry.SetTaskActiveAttempt(data.TaskID, "")
		return nil
	}

	patch := registry.Patch{TaskID: &data.TaskID}
	if data.AgentKind != "" {
		kind := execution.AgentKind(data.AgentKind)
		patch.AgentKind = &kind
	}
	if exec, ok := s.registry.Get(data.ActiveAttemptID); !ok || !exec.Status.IsLive() {
		running := execution.StatusRunning
		patch.Status = &running
	}
	s.registry.Upsert(data.ActiveAttemptID, patch)
	s.registry.SetTaskActiveAttempt(data.TaskID, data.ActiveAttemptID)
	return nil
}

// decode unmarshals and validates an event payload. Malformed events are
// logged and dropped; they never propagate an error back to the bus.
func (s *Synchronizer) decode(event *bus.Event, v interface{}, validate func() error) bool {
	err := decodeEventData(event, v)
	if err == nil {
		err = validate()
	}
	if err == nil {
		return true
	}

	s.logger.Warn("dropping malformed event",
		zap.String("event_id", event.ID),
		zap.Error(apperrors.MalformedEvent(event.Type, err.Error())))
	return false
}
