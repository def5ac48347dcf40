package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spellbook-dev/spellbook/internal/store"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old finished swarms from the store",
	Long: `Remove complete and failed swarms whose last update is older than the
given age, along with their workers and events. Running swarms are never
touched.

This opens the database directly, so it works whether or not a server is
running. A running server notices the external write and refreshes its
streams.

Examples:
  spellbook cleanup                    # Prune swarms older than 7 days
  spellbook cleanup --older-than 48h   # Prune swarms older than 2 days`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %v", cleanupOlderThan)
	}

	dbPath := cfg.DBPath()
	db, err := store.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	removed, err := store.NewStore(db, nil).CleanupOldSwarms(ctx, cleanupOlderThan)
	if err != nil {
		return fmt.Errorf("cleaning up swarms: %w", err)
	}

	fmt.Printf("Removed %d swarm(s) older than %v\n", removed, cleanupOlderThan)
	return nil
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 7*24*time.Hour, "Remove terminal swarms older than this")
	rootCmd.AddCommand(cleanupCmd)
}
