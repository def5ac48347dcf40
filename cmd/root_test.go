package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellbook-dev/spellbook/internal/config"
)

// resetConfig clears the package-level viper singleton and config state so
// each test resolves configuration from scratch.
func resetConfig(t *testing.T) {
	t.Helper()
	reset := func() {
		viper.Reset()
		cfgFile = ""
		cfg = config.Config{}
	}
	reset()
	t.Cleanup(reset)
}

// chdirTemp moves the test into an empty directory, away from any real
// .spellbook directory, and points HOME at a second empty one.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	t.Setenv("HOME", t.TempDir())
	return dir
}

func TestInitConfig_WritesDefaultOnFirstRun(t *testing.T) {
	resetConfig(t)
	dir := chdirTemp(t)

	initConfig()

	written := filepath.Join(dir, ".spellbook", "config.yaml")
	data, err := os.ReadFile(written)
	require.NoError(t, err, "first run should leave a commented template behind")
	assert.Contains(t, string(data), "port: 7432")
	assert.Equal(t, filepath.Join(".spellbook", "config.yaml"), viper.ConfigFileUsed())

	// The template carries the defaults, so the loaded config matches them.
	assert.Equal(t, config.Defaults().Server, cfg.Server)
	assert.Equal(t, config.Defaults().Retry, cfg.Retry)
	assert.NoError(t, cfg.Validate())
}

func TestInitConfig_ExplicitFlagWins(t *testing.T) {
	resetConfig(t)
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  port: 9999\nlog:\n  level: debug\n"), 0o600))
	cfgFile = path

	initConfig()

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Everything the file omits keeps its default.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay)
}

func TestInitConfig_CurrentDirectoryFile(t *testing.T) {
	resetConfig(t)
	dir := chdirTemp(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".spellbook"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".spellbook", "config.yaml"), []byte(
		"server:\n  port: 8888\ncleanup:\n  enabled: true\n  interval: 30m\n  max_age: 24h\n"), 0o600))

	initConfig()

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.MaxAge)
}

func TestInitConfig_UserConfigDirectory(t *testing.T) {
	resetConfig(t)
	chdirTemp(t)

	home := os.Getenv("HOME")
	userDir := filepath.Join(home, ".config", "spellbook")
	require.NoError(t, os.MkdirAll(userDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(
		"server:\n  poll_interval: 5s\n"), 0o600))

	initConfig()

	assert.Equal(t, 5*time.Second, cfg.Server.PollInterval)
	assert.Equal(t, filepath.Join(userDir, "config.yaml"), viper.ConfigFileUsed())

	// A user config means no template gets written into the working dir.
	_, err := os.Stat(filepath.Join(".spellbook", "config.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitConfig_EnvOverridesFile(t *testing.T) {
	resetConfig(t)
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600))
	cfgFile = path

	t.Setenv("SPELLBOOK_SERVER_PORT", "9001")
	t.Setenv("SPELLBOOK_RETRY_BASE_DELAY", "5s")

	initConfig()

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
}

func TestServerEndpoint(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{name: "loopback", host: "127.0.0.1", port: 7432, want: "http://127.0.0.1:7432"},
		{name: "custom port", host: "127.0.0.1", port: 9000, want: "http://127.0.0.1:9000"},
		{name: "wildcard maps to loopback", host: "0.0.0.0", port: 7432, want: "http://127.0.0.1:7432"},
		{name: "v6 wildcard maps to loopback", host: "::", port: 7432, want: "http://127.0.0.1:7432"},
		{name: "empty host maps to loopback", host: "", port: 7432, want: "http://127.0.0.1:7432"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetConfig(t)
			cfg.Server.Host = tt.host
			cfg.Server.Port = tt.port
			assert.Equal(t, tt.want, serverEndpoint())
		})
	}
}
