package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvEndpoint, "http://127.0.0.1:7432")
	t.Setenv(EnvSwarmID, "swarm-20260115-103000-a1b2c3")
	t.Setenv(EnvPacketID, "2")
}

func TestFromEnv(t *testing.T) {
	setWorkerEnv(t)
	worktree := t.TempDir()

	h, err := FromEnv("auth-api", worktree, 12)
	require.NoError(t, err)

	assert.Equal(t, "swarm-20260115-103000-a1b2c3", h.swarmID)
	assert.Equal(t, 2, h.packetID)
	assert.Equal(t, "http://127.0.0.1:7432", h.client.baseURL)
	assert.Equal(t,
		filepath.Join(worktree, ".spellbook", "checkpoints", "packet-2-auth-api.json"),
		h.CheckpointPath())
}

func TestFromEnv_MissingVariables(t *testing.T) {
	for _, name := range []string{EnvEndpoint, EnvSwarmID, EnvPacketID} {
		t.Run(name, func(t *testing.T) {
			setWorkerEnv(t)
			t.Setenv(name, "")

			_, err := FromEnv("auth-api", t.TempDir(), 12)
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestFromEnv_BadPacketID(t *testing.T) {
	setWorkerEnv(t)
	t.Setenv(EnvPacketID, "two")

	_, err := FromEnv("auth-api", t.TempDir(), 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"two"`)
}
