// Package watch exposes subscription views over registry slices. A watch
// delivers an initial snapshot plus one snapshot per relevant change on a
// conflated channel (intermediate snapshots may be skipped, the latest never
// is). Every watch must be cancelled on teardown; cancel is idempotent.
package watch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution"
	"github.com/12Particles/pivosync/internal/execution/registry"
)

// AttemptSnapshot is the view of a single attempt's execution.
type AttemptSnapshot struct {
	AttemptID string              `json:"attempt_id"`
	Known     bool                `json:"known"`
	TaskID    string              `json:"task_id,omitempty"`
	Status    execution.Status    `json:"status,omitempty"`
	AgentKind execution.AgentKind `json:"agent_kind,omitempty"`
	Messages  []execution.Message `json:"messages,omitempty"`
}

// Watcher builds watches over a registry.
type Watcher struct {
	registry *registry.Registry
	logger   *logger.Logger
}

// New creates a watcher for the given registry.
func New(reg *registry.Registry, log *logger.Logger) *Watcher {
	return &Watcher{
		registry: reg,
		logger:   log.WithFields(zap.String("component", "execution-watch")),
	}
}

// WatchTask subscribes to a task's running-state view. The returned cancel
// function must be called on teardown and is safe to call more than once.
func (w *Watcher) WatchTask(taskID string) (<-chan execution.TaskState, func()) {
	ch := make(chan execution.TaskState, 1)
	sink := newSink(func() { close(ch) })

	push := func() {
		state := w.registry.TaskState(taskID)
		sink.deliver(func() {
			select {
			case <-ch:
			default:
			}
			ch <- state
		})
	}

	push()
	unsubscribe := w.registry.Subscribe(func(c registry.Change) {
		if c.TaskID != taskID {
			return
		}
		push()
	})

	return ch, sink.cancelFunc(unsubscribe)
}

// WatchAttempt subscribes to an attempt's execution view.
func (w *Watcher) WatchAttempt(attemptID string) (<-chan AttemptSnapshot, func()) {
	ch := make(chan AttemptSnapshot, 1)
	sink := newSink(func() { close(ch) })

	push := func() {
		snapshot := w.snapshotAttempt(attemptID)
		sink.deliver(func() {
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		})
	}

	push()
	unsubscribe := w.registry.Subscribe(func(c registry.Change) {
		if c.AttemptID != attemptID {
			return
		}
		push()
	})

	return ch, sink.cancelFunc(unsubscribe)
}

// TaskState reads the current task view without subscribing.
func (w *Watcher) TaskState(taskID string) execution.TaskState {
	return w.registry.TaskState(taskID)
}

// AttemptState reads the current attempt view without subscribing.
func (w *Watcher) AttemptState(attemptID string) AttemptSnapshot {
	return w.snapshotAttempt(attemptID)
}

func (w *Watcher) snapshotAttempt(attemptID string) AttemptSnapshot {
	snapshot := AttemptSnapshot{AttemptID: attemptID}
	exec, ok := w.registry.Get(attemptID)
	if !ok {
		return snapshot
	}
	snapshot.Known = true
	snapshot.TaskID = exec.TaskID
	snapshot.Status = exec.Status
	snapshot.AgentKind = exec.AgentKind
	snapshot.Messages = exec.Messages
	return snapshot
}

// sink serializes deliveries against cancellation so a late change
// notification can never send on a closed channel.
type sink struct {
	mu      sync.Mutex
	closed  bool
	onClose func()
}

func newSink(onClose func()) *sink {
	return &sink{onClose: onClose}
}

func (s *sink) deliver(send func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	send()
}

func (s *sink) cancelFunc(unsubscribe func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.onClose()
		})
	}
}
