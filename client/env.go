package client

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables the orchestrator injects into worker processes.
const (
	EnvEndpoint = "SPELLBOOK_ENDPOINT"
	EnvSwarmID  = "SPELLBOOK_SWARM_ID"
	EnvPacketID = "SPELLBOOK_PACKET_ID"
)

// FromEnv builds a Helper from the orchestrator-injected environment:
// SPELLBOOK_ENDPOINT, SPELLBOOK_SWARM_ID and SPELLBOOK_PACKET_ID identify
// the server and the packet; name, worktree and task count describe the
// work and come from the packet manifest the worker already holds.
func FromEnv(packetName, worktree string, tasksTotal int, opts ...Option) (*Helper, error) {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("helper: %s is not set", EnvEndpoint)
	}
	swarmID := os.Getenv(EnvSwarmID)
	if swarmID == "" {
		return nil, fmt.Errorf("helper: %s is not set", EnvSwarmID)
	}
	rawPacket := os.Getenv(EnvPacketID)
	if rawPacket == "" {
		return nil, fmt.Errorf("helper: %s is not set", EnvPacketID)
	}
	packetID, err := strconv.Atoi(rawPacket)
	if err != nil {
		return nil, fmt.Errorf("helper: %s=%q is not an integer: %w", EnvPacketID, rawPacket, err)
	}

	return NewHelper(New(endpoint, opts...), HelperConfig{
		SwarmID:    swarmID,
		PacketID:   packetID,
		PacketName: packetName,
		Worktree:   worktree,
		TasksTotal: tasksTotal,
	})
}
