package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/spellbook-dev/spellbook/client"
)

var statusEndpoint string

var statusCmd = &cobra.Command{
	Use:   "status <swarm-id>",
	Short: "Print the status of a swarm",
	Long: `Fetch a swarm's status from a running spellbook server and print it
as JSON: swarm state, per-status worker counts, aggregate task progress,
and a per-worker breakdown.

Examples:
  spellbook status swarm-20260115-103000-a1b2c3

  # Just the swarm state
  spellbook status swarm-20260115-103000-a1b2c3 | jq -r '.status'`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	endpoint := statusEndpoint
	if endpoint == "" {
		endpoint = serverEndpoint()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
	defer cancel()

	resp, err := client.New(endpoint).GetStatus(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func init() {
	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", "", "Server endpoint (default: derived from config)")
	rootCmd.AddCommand(statusCmd)
}
