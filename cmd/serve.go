package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/server"
	"github.com/spellbook-dev/spellbook/internal/store"
	"github.com/spellbook-dev/spellbook/internal/tracing"
	"github.com/spellbook-dev/spellbook/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server",
	Long: `Run the coordination server as a foreground daemon. Workers and
orchestrators on this machine connect to its loopback HTTP API to create
swarms, report progress, and stream events.

The server listens on the configured address (default: 127.0.0.1:7432).
Port 0 asks the OS for a free port; the bound address is printed and
echoed in every create response.

Example:
  spellbook serve                      # Listen on the configured address
  spellbook serve --addr 127.0.0.1:0  # Let the OS pick a port`,
	RunE: runServe,
}

var (
	serveAddr      string
	serveLogStderr bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveLogStderr, "log-stderr", false, "Log to stderr instead of the log file")
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if serveLogStderr {
		log.InitWithWriter(os.Stderr)
	} else {
		cleanup, err := log.Init(cfg.LogFilePath())
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
	}
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	log.Info(log.CatServer, "spellbook starting", "version", version)

	// Tracing is a no-op provider unless enabled in config.
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	dbPath := cfg.DBPath()
	db, err := store.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", dbPath, err)
	}

	broker := pubsub.NewBroker[store.Change]()
	st := store.NewStore(db, broker)

	// Watch the database files so streams wake up when another process
	// (the cleanup CLI, mostly) writes the same database.
	w, err := watcher.New(watcher.DefaultConfig(dbPath))
	if err != nil {
		return fmt.Errorf("creating db watcher: %w", err)
	}
	changeCh, err := w.Start()
	if err != nil {
		return fmt.Errorf("starting db watcher: %w", err)
	}

	bridgeDone := make(chan struct{})
	log.SafeGo("watcher-bridge", func() {
		for {
			select {
			case <-bridgeDone:
				return
			case _, ok := <-changeCh:
				if !ok {
					return
				}
				broker.Publish(pubsub.TickEvent, store.Change{})
			}
		}
	})

	addr := serveAddr
	if addr == "" {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}

	srv, err := server.NewServer(server.ServerConfig{
		Addr:              addr,
		Store:             st,
		Broker:            broker,
		Policy:            cfg.Retry.Policy(),
		Version:           version,
		PollInterval:      cfg.Server.PollInterval,
		KeepaliveInterval: cfg.Server.KeepaliveInterval,
		StatusCacheTTL:    cfg.Server.StatusCacheTTL,
		Tracer:            provider.Tracer(),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	janitorDone := make(chan struct{})
	if cfg.Cleanup.Enabled {
		log.SafeGo("cleanup-janitor", func() {
			runJanitor(st, cfg.Cleanup.Interval, cfg.Cleanup.MaxAge, janitorDone)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("spellbook server listening on %s\n", srv.Endpoint())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatServer, "Error stopping server", err)
	}

	close(janitorDone)
	close(bridgeDone)
	if err := w.Stop(); err != nil {
		log.ErrorErr(log.CatWatcher, "Error stopping db watcher", err)
	}
	broker.Close()
	if err := db.Close(); err != nil {
		log.ErrorErr(log.CatStore, "Error closing store", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatTrace, "Error shutting down tracing", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// runJanitor prunes old terminal swarms on a fixed interval until done is
// closed. The first prune happens one full interval after startup.
func runJanitor(st *store.Store, interval, maxAge time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := st.CleanupOldSwarms(ctx, maxAge)
			cancel()
			if err != nil {
				log.ErrorErr(log.CatCleanup, "Janitor run failed", err)
				continue
			}
			if removed > 0 {
				log.Info(log.CatCleanup, "Janitor pruned old swarms", "removed", removed, "max_age", maxAge)
			}
		}
	}
}
