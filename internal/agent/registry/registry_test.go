package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/12Particles/pivosync/internal/execution"
)

func TestDefaults(t *testing.T) {
	reg, err := New("")
	require.NoError(t, err)

	assert.True(t, reg.IsEnabled(execution.AgentClaude))
	assert.True(t, reg.IsEnabled(execution.AgentGemini))
	assert.False(t, reg.IsEnabled(execution.AgentAmp))
	assert.False(t, reg.IsEnabled("mystery"))

	claude, ok := reg.Get(execution.AgentClaude)
	require.True(t, ok)
	assert.True(t, claude.Resumable)

	assert.Len(t, reg.List(), 4)
}

func TestCatalogOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	catalog := `agents:
  - kind: amp
    name: Amp
    enabled: true
  - kind: custom
    name: In-house Agent
    resumable: true
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	reg, err := New(path)
	require.NoError(t, err)

	// Override flips amp on, defaults stay intact
	assert.True(t, reg.IsEnabled(execution.AgentAmp))
	assert.True(t, reg.IsEnabled(execution.AgentClaude))

	custom, ok := reg.Get("custom")
	require.True(t, ok)
	assert.True(t, custom.Resumable)
}

func TestCatalogErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("entry without kind", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: nameless\n"), 0o644))

		_, err := New(path)
		require.Error(t, err)
	})
}
