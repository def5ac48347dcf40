package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/client"
)

var (
	createFeature      string
	createManifestPath string
	createAutoMerge    bool
	createNoNotify     bool
	createEndpoint     string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a swarm on a running server",
	Long: `Create a swarm on a running spellbook server and print the result
as JSON. The swarm id in the output is what workers need to register.

Required inputs:
  --feature (-f): Feature being built, e.g., "user-authentication"
  --manifest (-m): Path to the work packet manifest

Examples:
  # Create a swarm for a feature
  spellbook create --feature user-auth --manifest .spellbook/packets.yaml

  # Parse the swarm id with jq
  spellbook create -f user-auth -m packets.yaml | jq -r '.swarm_id'`,
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	if createFeature == "" {
		return cmd.Help()
	}
	if createManifestPath == "" {
		return cmd.Help()
	}

	endpoint := createEndpoint
	if endpoint == "" {
		endpoint = serverEndpoint()
	}

	req := api.CreateSwarmRequest{
		Feature:      createFeature,
		ManifestPath: createManifestPath,
		AutoMerge:    createAutoMerge,
	}
	if createNoNotify {
		notify := false
		req.NotifyOnComplete = &notify
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
	defer cancel()

	resp, err := client.New(endpoint).CreateSwarm(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func init() {
	createCmd.Flags().StringVarP(&createFeature, "feature", "f", "", "Feature being built (required)")
	createCmd.Flags().StringVarP(&createManifestPath, "manifest", "m", "", "Path to the work packet manifest (required)")
	createCmd.Flags().BoolVar(&createAutoMerge, "auto-merge", false, "Merge worker branches automatically when the swarm completes")
	createCmd.Flags().BoolVar(&createNoNotify, "no-notify", false, "Skip the completion notification")
	createCmd.Flags().StringVar(&createEndpoint, "endpoint", "", "Server endpoint (default: derived from config)")
	rootCmd.AddCommand(createCmd)
}
