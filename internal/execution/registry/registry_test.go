package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution"
)

func setupRegistry(t *testing.T) *Registry {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return New(log)
}

func strPtr(s string) *string { return &s }

func statusPtr(s execution.Status) *execution.Status { return &s }

func TestReset(t *testing.T) {
	t.Run("stores record and maps task to attempt", func(t *testing.T) {
		reg := setupRegistry(t)

		reg.Reset(&execution.Execution{
			ID:        "exec-1",
			AttemptID: "attempt-1",
			TaskID:    "task-1",
			AgentKind: execution.AgentClaude,
			Status:    execution.StatusRunning,
		})

		exec, ok := reg.Get("attempt-1")
		require.True(t, ok)
		assert.Equal(t, "exec-1", exec.ID)
		assert.Equal(t, execution.StatusRunning, exec.Status)
		assert.NotZero(t, exec.StartedAt)
		assert.NotZero(t, exec.UpdatedAt)

		active, ok := reg.ActiveAttempt("task-1")
		require.True(t, ok)
		assert.Equal(t, "attempt-1", active)
		assert.True(t, reg.IsTaskRunning("task-1"))
	})

	t.Run("clears prior message history on restart", func(t *testing.T) {
		reg := setupRegistry(t)

		reg.Reset(&execution.Execution{
			ID: "exec-1", AttemptID: "attempt-1", TaskID: "task-1",
			Status: execution.StatusRunning,
		})
		reg.AppendMessage("attempt-1", execution.Message{ID: "m1", Type: execution.MessageAssistant, Content: "old"})
		reg.ApplyStatus("attempt-1", execution.StatusStopped)

		// Restart of the same attempt begins a fresh transcript
		reg.Reset(&execution.Execution{
			ID: "exec-2", AttemptID: "attempt-1", TaskID: "task-1",
			Status: execution.StatusRunning,
		})

		exec, ok := reg.Get("attempt-1")
		require.True(t, ok)
		assert.Equal(t, "exec-2", exec.ID)
		assert.Empty(t, exec.Messages)

		// Message IDs from the previous run are accepted again
		assert.True(t, reg.AppendMessage("attempt-1", execution.Message{ID: "m1", Content: "new"}))
	})

	t.Run("terminal record does not claim the task mapping", func(t *testing.T) {
		reg := setupRegistry(t)

		reg.Reset(&execution.Execution{
			ID: "exec-1", AttemptID: "attempt-1", TaskID: "task-1",
			Status: execution.StatusStopped,
		})

		assert.False(t, reg.IsTaskRunning("task-1"))
	})
}

func TestReserveTask(t *testing.T) {
	t.Run("reservation blocks a competing attempt", func(t *testing.T) {
		reg := setupRegistry(t)

		holder, ok := reg.ReserveTask("task-1", "attempt-1")
		require.True(t, ok)
		assert.Equal(t, "attempt-1", holder)

		holder, ok = reg.ReserveTask("task-1", "attempt-2")
		assert.False(t, ok)
		assert.Equal(t, "attempt-1", holder)
	})

	t.Run("live attempt blocks reservation", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		holder, ok := reg.ReserveTask("task-1", "attempt-2")
		assert.False(t, ok)
		assert.Equal(t, "attempt-1", holder)
	})

	t.Run("release frees the task", func(t *testing.T) {
		reg := setupRegistry(t)

		_, ok := reg.ReserveTask("task-1", "attempt-1")
		require.True(t, ok)
		reg.ReleaseTask("task-1", "attempt-1")

		_, ok = reg.ReserveTask("task-1", "attempt-2")
		assert.True(t, ok)
	})

	t.Run("release by a non-holder is a no-op", func(t *testing.T) {
		reg := setupRegistry(t)

		_, ok := reg.ReserveTask("task-1", "attempt-1")
		require.True(t, ok)
		reg.ReleaseTask("task-1", "attempt-2")

		_, ok = reg.ReserveTask("task-1", "attempt-3")
		assert.False(t, ok)
	})

	t.Run("reset commits the reservation", func(t *testing.T) {
		reg := setupRegistry(t)

		_, ok := reg.ReserveTask("task-1", "attempt-1")
		require.True(t, ok)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusStarting})

		// The record now holds the task; once it finishes the task is free
		// again with no leftover reservation.
		reg.ApplyStatus("attempt-1", execution.StatusStopped)
		_, ok = reg.ReserveTask("task-1", "attempt-2")
		assert.True(t, ok)
	})
}

func TestUpsert(t *testing.T) {
	t.Run("creates placeholder for unknown attempt", func(t *testing.T) {
		reg := setupRegistry(t)

		changed := reg.Upsert("attempt-1", Patch{
			Messages: []execution.Message{{ID: "m1", Type: execution.MessageAssistant, Content: "hello"}},
		})
		require.True(t, changed)

		exec, ok := reg.Get("attempt-1")
		require.True(t, ok)
		assert.Equal(t, execution.StatusRunning, exec.Status)
		require.Len(t, exec.Messages, 1)
		assert.Equal(t, "hello", exec.Messages[0].Content)
	})

	t.Run("merges only non-nil fields", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{
			ID: "exec-1", AttemptID: "attempt-1", TaskID: "task-1",
			AgentKind: execution.AgentClaude, Status: execution.StatusRunning,
		})

		changed := reg.Upsert("attempt-1", Patch{ResumeToken: strPtr("token-1")})
		require.True(t, changed)

		exec, _ := reg.Get("attempt-1")
		assert.Equal(t, "token-1", exec.ResumeToken)
		assert.Equal(t, "exec-1", exec.ID)
		assert.Equal(t, execution.AgentClaude, exec.AgentKind)
	})

	t.Run("identical patch is a no-op", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{
			ID: "exec-1", AttemptID: "attempt-1", TaskID: "task-1",
			Status: execution.StatusRunning,
		})

		var notified int
		remove := reg.Subscribe(func(Change) { notified++ })
		defer remove()

		changed := reg.Upsert("attempt-1", Patch{
			ExecutionID: strPtr("exec-1"),
			TaskID:      strPtr("task-1"),
			Status:      statusPtr(execution.StatusRunning),
		})
		assert.False(t, changed)
		assert.Zero(t, notified)
	})
}

func TestAppendMessage(t *testing.T) {
	t.Run("preserves arrival order", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		reg.AppendMessage("attempt-1", execution.Message{ID: "m1", Content: "one"})
		reg.AppendMessage("attempt-1", execution.Message{ID: "m2", Content: "two"})
		reg.AppendMessage("attempt-1", execution.Message{ID: "m3", Content: "three"})

		exec, _ := reg.Get("attempt-1")
		require.Len(t, exec.Messages, 3)
		assert.Equal(t, "one", exec.Messages[0].Content)
		assert.Equal(t, "two", exec.Messages[1].Content)
		assert.Equal(t, "three", exec.Messages[2].Content)
	})

	t.Run("drops duplicate message IDs", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		assert.True(t, reg.AppendMessage("attempt-1", execution.Message{ID: "m1", Content: "one"}))
		assert.False(t, reg.AppendMessage("attempt-1", execution.Message{ID: "m1", Content: "one again"}))

		exec, _ := reg.Get("attempt-1")
		require.Len(t, exec.Messages, 1)
		assert.Equal(t, "one", exec.Messages[0].Content)
	})
}

func TestApplyStatus(t *testing.T) {
	t.Run("terminal transition clears the task mapping", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		changed := reg.ApplyStatus("attempt-1", execution.StatusStopped)
		require.True(t, changed)

		assert.False(t, reg.IsTaskRunning("task-1"))
		_, ok := reg.ActiveAttempt("task-1")
		assert.False(t, ok)

		// History is retained after completion
		exec, ok := reg.Get("attempt-1")
		require.True(t, ok)
		assert.Equal(t, execution.StatusStopped, exec.Status)
	})

	t.Run("same status is idempotent", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		var notified int
		remove := reg.Subscribe(func(Change) { notified++ })
		defer remove()

		assert.False(t, reg.ApplyStatus("attempt-1", execution.StatusRunning))
		assert.Zero(t, notified)
	})

	t.Run("late stop for superseded attempt keeps newer mapping", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})
		reg.Reset(&execution.Execution{AttemptID: "attempt-2", TaskID: "task-1", Status: execution.StatusRunning})

		// A stop for the old attempt arrives after the new one started
		reg.ApplyStatus("attempt-1", execution.StatusStopped)

		active, ok := reg.ActiveAttempt("task-1")
		require.True(t, ok)
		assert.Equal(t, "attempt-2", active)
		assert.True(t, reg.IsTaskRunning("task-1"))
	})

	t.Run("unknown attempt is ignored", func(t *testing.T) {
		reg := setupRegistry(t)
		assert.False(t, reg.ApplyStatus("nope", execution.StatusStopped))
	})
}

func TestTaskState(t *testing.T) {
	t.Run("reflects live mapped attempt", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{
			AttemptID: "attempt-1", TaskID: "task-1",
			AgentKind: execution.AgentGemini, Status: execution.StatusRunning,
		})

		state := reg.TaskState("task-1")
		assert.True(t, state.IsRunning)
		assert.Equal(t, "attempt-1", state.AttemptID)
		assert.Equal(t, execution.AgentGemini, state.AgentKind)
	})

	t.Run("unknown task reads as not running", func(t *testing.T) {
		reg := setupRegistry(t)

		state := reg.TaskState("task-x")
		assert.False(t, state.IsRunning)
		assert.Empty(t, state.AttemptID)
	})

	t.Run("stale mapping to terminal record reads as not running", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})
		reg.SetTaskActiveAttempt("task-1", "attempt-1")
		reg.Upsert("attempt-1", Patch{Status: statusPtr(execution.StatusFailed)})

		assert.False(t, reg.IsTaskRunning("task-1"))
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("listener receives change hints", func(t *testing.T) {
		reg := setupRegistry(t)

		var changes []Change
		remove := reg.Subscribe(func(c Change) { changes = append(changes, c) })
		defer remove()

		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})
		reg.AppendMessage("attempt-1", execution.Message{ID: "m1"})

		require.Len(t, changes, 2)
		assert.Equal(t, "task-1", changes[0].TaskID)
		assert.Equal(t, "attempt-1", changes[0].AttemptID)
	})

	t.Run("removal is idempotent and stops delivery", func(t *testing.T) {
		reg := setupRegistry(t)

		var notified int
		remove := reg.Subscribe(func(Change) { notified++ })
		remove()
		remove()

		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})
		assert.Zero(t, notified)
	})

	t.Run("listener may call back into the registry", func(t *testing.T) {
		reg := setupRegistry(t)

		var seenRunning bool
		remove := reg.Subscribe(func(c Change) {
			seenRunning = reg.IsTaskRunning(c.TaskID)
		})
		defer remove()

		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})
		assert.True(t, seenRunning)
	})
}

func TestEvict(t *testing.T) {
	t.Run("removes record and mapping", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Reset(&execution.Execution{AttemptID: "attempt-1", TaskID: "task-1", Status: execution.StatusRunning})

		reg.Evict("attempt-1")

		_, ok := reg.Get("attempt-1")
		assert.False(t, ok)
		assert.False(t, reg.IsTaskRunning("task-1"))
	})

	t.Run("evicting unknown attempt is a no-op", func(t *testing.T) {
		reg := setupRegistry(t)
		reg.Evict("nope")
		assert.Empty(t, reg.Executions())
	})
}
