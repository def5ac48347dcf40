// Package cmd wires the spellbook CLI: the serve daemon plus one-shot
// commands that talk to it (create, status) or to its database (cleanup).
package cmd

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spellbook-dev/spellbook/internal/config"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "spellbook",
	Short: "Coordination server for swarms of parallel workers",
	Long: `Spellbook coordinates swarms of workers running in parallel on one
machine. It runs a loopback HTTP server backed by a crash-safe SQLite
store: workers register, report progress, and stream each other's events;
orchestrators create swarms and watch them finish.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.spellbook/config.yaml, then ~/.config/spellbook/config.yaml)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.poll_interval", defaults.Server.PollInterval)
	viper.SetDefault("server.keepalive_interval", defaults.Server.KeepaliveInterval)
	viper.SetDefault("server.status_cache_ttl", defaults.Server.StatusCacheTTL)
	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("retry.base_delay", defaults.Retry.BaseDelay)
	viper.SetDefault("retry.multiplier", defaults.Retry.Multiplier)
	viper.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	viper.SetDefault("cleanup.enabled", defaults.Cleanup.Enabled)
	viper.SetDefault("cleanup.interval", defaults.Cleanup.Interval)
	viper.SetDefault("cleanup.max_age", defaults.Cleanup.MaxAge)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.path", defaults.Log.Path)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	// SPELLBOOK_SERVER_PORT and friends override any file.
	viper.SetEnvPrefix("SPELLBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .spellbook/config.yaml (current directory)
		// 2. ~/.config/spellbook/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".spellbook", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".spellbook", "config.yaml"))
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "spellbook"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .spellbook/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(".spellbook", "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// serverEndpoint is where one-shot commands reach the daemon, derived from
// the same configuration the daemon listens on.
func serverEndpoint() string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
