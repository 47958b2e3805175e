// Package registry holds the in-memory truth for all known executions and the
// task to active-attempt index. It performs no I/O; mutations come from the
// synchronizer (event-driven) and the command façade (eager local updates).
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution"
)

// Change describes which slice of the registry was mutated. Listeners use it
// to decide whether a watched task or attempt needs a re-read.
type Change struct {
	TaskID    string
	AttemptID string
}

// ChangeListener receives change hints after a mutation commits.
// Listeners run outside the registry lock and may call back into the registry.
type ChangeListener func(Change)

// Patch is a partial update merged into an execution record.
// Nil fields are left untouched; messages are appended, never replaced.
type Patch struct {
	ExecutionID *string
	TaskID      *string
	AgentKind   *execution.AgentKind
	Status      *execution.Status
	ResumeToken *string
	Messages    []execution.Message
}

// Registry is the in-memory execution store.
type Registry struct {
	mu             sync.RWMutex
	executions     map[string]*execution.Execution // keyed by attempt ID
	activeAttempts map[string]string               // task ID -> attempt ID
	seenMessages   map[string]map[string]struct{}  // attempt ID -> message IDs
	reservations   map[string]string               // task ID -> attempt ID, start in flight

	listenerMu sync.Mutex
	listeners  map[int]ChangeListener
	nextID     int

	logger *logger.Logger
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		executions:     make(map[string]*execution.Execution),
		activeAttempts: make(map[string]string),
		seenMessages:   make(map[string]map[string]struct{}),
		reservations:   make(map[string]string),
		listeners:      make(map[int]ChangeListener),
		logger:         log.WithFields(zap.String("component", "execution-registry")),
	}
}

// Subscribe registers a change listener and returns its removal function.
// The removal function is idempotent.
func (r *Registry) Subscribe(listener ChangeListener) func() {
	r.listenerMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	r.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenerMu.Lock()
			delete(r.listeners, id)
			r.listenerMu.Unlock()
		})
	}
}

// Get returns a copy of the execution for an attempt, if known.
func (r *Registry) Get(attemptID string) (*execution.Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executions[attemptID]
	if !ok {
		return nil, false
	}
	return exec.Clone(), true
}

// ActiveAttempt returns the attempt currently mapped as active for a task.
func (r *Registry) ActiveAttempt(taskID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attemptID, ok := r.activeAttempts[taskID]
	return attemptID, ok
}

// IsTaskRunning reports whether the task maps to a live attempt.
func (r *Registry) IsTaskRunning(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveAttemptLocked(taskID) != ""
}

// TaskState returns the derived running-state view for a task.
func (r *Registry) TaskState(taskID string) execution.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := execution.TaskState{TaskID: taskID}
	attemptID := r.liveAttemptLocked(taskID)
	if attemptID == "" {
		return state
	}
	state.IsRunning = true
	state.AttemptID = attemptID
	if exec, ok := r.executions[attemptID]; ok {
		state.AgentKind = exec.AgentKind
	}
	return state
}

// Reset replaces the whole record for an attempt, clearing any prior message
// history, and marks the attempt as its task's active one. Used for a fresh
// `starting`/`running` transition; a restart is a deliberate reset, not an
// accumulation.
func (r *Registry) Reset(exec *execution.Execution) {
	now := time.Now().UTC()

	r.mu.Lock()
	record := exec.Clone()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.UpdatedAt = now
	r.executions[record.AttemptID] = record
	r.seenMessages[record.AttemptID] = make(map[string]struct{})
	for _, msg := range record.Messages {
		if msg.ID != "" {
			r.seenMessages[record.AttemptID][msg.ID] = struct{}{}
		}
	}

	change := Change{TaskID: record.TaskID, AttemptID: record.AttemptID}
	if record.Status.IsLive() && record.TaskID != "" {
		r.activeAttempts[record.TaskID] = record.AttemptID
	}
	if record.TaskID != "" && r.reservations[record.TaskID] == record.AttemptID {
		delete(r.reservations, record.TaskID)
	}
	r.mu.Unlock()

	r.notify(change)
}

// ReserveTask claims a task for a start that is still in flight. It fails,
// returning the conflicting attempt ID, when the task already has a live
// attempt or an unreleased reservation. A successful reservation is committed
// by Reset for the same attempt, or returned by ReleaseTask.
func (r *Registry) ReserveTask(taskID, attemptID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if live := r.liveAttemptLocked(taskID); live != "" {
		return live, false
	}
	if reserved, ok := r.reservations[taskID]; ok && reserved != attemptID {
		return reserved, false
	}
	r.reservations[taskID] = attemptID
	return attemptID, true
}

// ReleaseTask drops a reservation that never committed. Releasing a
// reservation held by a different attempt, or none at all, is a no-op.
func (r *Registry) ReleaseTask(taskID, attemptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reserved, ok := r.reservations[taskID]; ok && reserved == attemptID {
		delete(r.reservations, taskID)
	}
}

// Upsert merges a patch into the record for an attempt, creating a minimal
// record when the attempt is unknown (e.g. a message arrived before the start
// event was seen). Returns false when the patch was a no-op.
func (r *Registry) Upsert(attemptID string, patch Patch) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	exec, ok := r.executions[attemptID]
	if !ok {
		exec = &execution.Execution{
			AttemptID: attemptID,
			Status:    execution.StatusRunning,
			StartedAt: now,
		}
		r.executions[attemptID] = exec
		r.seenMessages[attemptID] = make(map[string]struct{})
	}

	changed := !ok
	if patch.ExecutionID != nil && exec.ID != *patch.ExecutionID {
		exec.ID = *patch.ExecutionID
		changed = true
	}
	if patch.TaskID != nil && exec.TaskID != *patch.TaskID {
		exec.TaskID = *patch.TaskID
		changed = true
	}
	if patch.AgentKind != nil && exec.AgentKind != *patch.AgentKind {
		exec.AgentKind = *patch.AgentKind
		changed = true
	}
	if patch.ResumeToken != nil && exec.ResumeToken != *patch.ResumeToken {
		exec.ResumeToken = *patch.ResumeToken
		changed = true
	}
	for _, msg := range patch.Messages {
		if r.appendMessageLocked(exec, msg) {
			changed = true
		}
	}
	if patch.Status != nil && exec.Status != *patch.Status {
		r.applyStatusLocked(exec, *patch.Status)
		changed = true
	}

	if !changed {
		r.mu.Unlock()
		return false
	}

	exec.UpdatedAt = now
	change := Change{TaskID: exec.TaskID, AttemptID: attemptID}
	r.mu.Unlock()

	r.notify(change)
	return true
}

// AppendMessage appends one message to an attempt's log, creating a
// placeholder record for unknown attempts. Duplicate message IDs are dropped.
func (r *Registry) AppendMessage(attemptID string, msg execution.Message) bool {
	return r.Upsert(attemptID, Patch{Messages: []execution.Message{msg}})
}

// ApplyStatus transitions an attempt's status. Applying the current status is
// an idempotent no-op. A transition out of the live states clears the task's
// active-attempt mapping iff it still points at this attempt, so a late stop
// event for a superseded attempt never wipes a newer mapping.
func (r *Registry) ApplyStatus(attemptID string, status execution.Status) bool {
	r.mu.Lock()
	exec, ok := r.executions[attemptID]
	if !ok || exec.Status == status {
		r.mu.Unlock()
		return false
	}

	r.applyStatusLocked(exec, status)
	exec.UpdatedAt = time.Now().UTC()
	change := Change{TaskID: exec.TaskID, AttemptID: attemptID}
	r.mu.Unlock()

	r.notify(change)
	return true
}

// SetTaskActiveAttempt sets or clears (empty attemptID) the task mapping.
// Clearing an absent mapping is idempotent.
func (r *Registry) SetTaskActiveAttempt(taskID, attemptID string) {
	r.mu.Lock()
	current, exists := r.activeAttempts[taskID]
	if attemptID == "" {
		if !exists {
			r.mu.Unlock()
			return
		}
		delete(r.activeAttempts, taskID)
	} else {
		if exists && current == attemptID {
			r.mu.Unlock()
			return
		}
		r.activeAttempts[taskID] = attemptID
	}
	r.mu.Unlock()

	r.notify(Change{TaskID: taskID, AttemptID: attemptID})
}

// Evict removes an attempt's record entirely. History is normally retained
// after completion; eviction happens only on explicit navigation away.
func (r *Registry) Evict(attemptID string) {
	r.mu.Lock()
	exec, ok := r.executions[attemptID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.executions, attemptID)
	delete(r.seenMessages, attemptID)
	taskID := exec.TaskID
	if taskID != "" && r.activeAttempts[taskID] == attemptID {
		delete(r.activeAttempts, taskID)
	}
	r.mu.Unlock()

	r.notify(Change{TaskID: taskID, AttemptID: attemptID})
}

// Executions returns copies of all known records.
func (r *Registry) Executions() []*execution.Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*execution.Execution, 0, len(r.executions))
	for _, exec := range r.executions {
		result = append(result, exec.Clone())
	}
	return result
}

// liveAttemptLocked resolves the task mapping and verifies the mapped record
// is still live. Must be called with at least a read lock held.
func (r *Registry) liveAttemptLocked(taskID string) string {
	attemptID, ok := r.activeAttempts[taskID]
	if !ok {
		return ""
	}
	exec, ok := r.executions[attemptID]
	if !ok || !exec.Status.IsLive() {
		return ""
	}
	return attemptID
}

// applyStatusLocked sets the status and maintains the task mapping invariant.
func (r *Registry) applyStatusLocked(exec *execution.Execution, status execution.Status) {
	exec.Status = status
	if status.IsLive() {
		return
	}
	if exec.TaskID == "" {
		return
	}
	if current, ok := r.activeAttempts[exec.TaskID]; ok && current == exec.AttemptID {
		delete(r.activeAttempts, exec.TaskID)
	}
}

// appendMessageLocked appends a message, dropping duplicates by message ID.
func (r *Registry) appendMessageLocked(exec *execution.Execution, msg execution.Message) bool {
	seen, ok := r.seenMessages[exec.AttemptID]
	if !ok {
		seen = make(map[string]struct{})
		r.seenMessages[exec.AttemptID] = seen
	}
	if msg.ID != "" {
		if _, dup := seen[msg.ID]; dup {
			r.logger.Debug("dropping duplicate message",
				zap.String("attempt_id", exec.AttemptID),
				zap.String("message_id", msg.ID))
			return false
		}
		seen[msg.ID] = struct{}{}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	exec.Messages = append(exec.Messages, msg)
	return true
}

// notify fans a change hint out to listeners, outside the registry lock.
func (r *Registry) notify(change Change) {
	r.listenerMu.Lock()
	listeners := make([]ChangeListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.listenerMu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}
