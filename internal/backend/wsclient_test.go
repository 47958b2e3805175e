package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/12Particles/pivosync/internal/common/config"
	apperrors "github.com/12Particles/pivosync/internal/common/errors"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/events/bus"
)

func setupClient(t *testing.T) *WSClient {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	return NewWSClient(config.BackendConfig{
		URL:            "ws://localhost:0/bridge",
		RequestTimeout: 1,
		ReconnectWait:  1,
	}, eventBus, log)
}

func TestRequestWhileDisconnected(t *testing.T) {
	t.Run("never-connected client rejects calls", func(t *testing.T) {
		c := setupClient(t)

		_, err := c.StartExecution(context.Background(), StartExecutionRequest{
			TaskID:    "task-1",
			AttemptID: "attempt-1",
			AgentKind: "claude",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsBackendUnavailable(err))
	})

	t.Run("call racing a disconnect fails instead of panicking", func(t *testing.T) {
		c := setupClient(t)

		// Worst-case disconnect interleaving: the flag still reads true but
		// the conn is already gone. The call must get an error, not a nil
		// dereference.
		c.connMu.Lock()
		c.connected = true
		c.conn = nil
		c.connMu.Unlock()

		_, err := c.StartExecution(context.Background(), StartExecutionRequest{
			TaskID:    "task-1",
			AttemptID: "attempt-1",
			AgentKind: "claude",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsBackendUnavailable(err))
	})
}
