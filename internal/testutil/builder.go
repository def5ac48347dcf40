package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellbook-dev/spellbook/internal/retry"
	"github.com/spellbook-dev/spellbook/internal/store"
	"github.com/spellbook-dev/spellbook/internal/swarm"
)

// SwarmBuilder accumulates a swarm description and materializes it through
// the real store operations, so seeded fixtures carry the same events and
// status transitions production traffic would.
type SwarmBuilder struct {
	t            *testing.T
	store        *store.Store
	feature      string
	manifestPath string
	autoMerge    bool
	workers      []workerSpec
}

// NewSwarmBuilder creates a builder writing through the given store.
func NewSwarmBuilder(t *testing.T, s *store.Store) *SwarmBuilder {
	t.Helper()
	return &SwarmBuilder{
		t:            t,
		store:        s,
		feature:      "user-auth",
		manifestPath: "manifests/user-auth.yaml",
	}
}

// WithFeature sets the swarm's feature name.
func (b *SwarmBuilder) WithFeature(feature string) *SwarmBuilder {
	b.feature = feature
	return b
}

// WithManifestPath sets the swarm's manifest path.
func (b *SwarmBuilder) WithManifestPath(path string) *SwarmBuilder {
	b.manifestPath = path
	return b
}

// WithAutoMerge enables auto-merge on the swarm.
func (b *SwarmBuilder) WithAutoMerge() *SwarmBuilder {
	b.autoMerge = true
	return b
}

// WithWorker adds a worker registration with optional post-registration
// state.
func (b *SwarmBuilder) WithWorker(packetID int, packetName string, tasksTotal int, opts ...WorkerOption) *SwarmBuilder {
	w := defaultWorker(packetID, packetName, tasksTotal)
	for _, opt := range opts {
		opt(&w)
	}
	b.workers = append(b.workers, w)
	return b
}

// Build runs the accumulated operations in order: create, register each
// worker, then apply each worker's progress and terminal state. Returns the
// swarm as stored after all operations.
func (b *SwarmBuilder) Build() *swarm.Swarm {
	b.t.Helper()
	ctx := context.Background()

	sw, err := b.store.CreateSwarm(ctx, store.CreateSwarmParams{
		Feature:          b.feature,
		ManifestPath:     b.manifestPath,
		AutoMerge:        b.autoMerge,
		NotifyOnComplete: true,
	})
	require.NoError(b.t, err)

	for _, w := range b.workers {
		b.registerWorker(ctx, sw.ID, w)
	}
	for _, w := range b.workers {
		b.applyWorkerState(ctx, sw.ID, w)
	}

	out, err := b.store.GetSwarm(ctx, sw.ID)
	require.NoError(b.t, err)
	return out
}

func (b *SwarmBuilder) registerWorker(ctx context.Context, swarmID string, w workerSpec) {
	b.t.Helper()
	_, _, err := b.store.RegisterWorker(ctx, swarmID, store.RegisterWorkerParams{
		PacketID:   w.packetID,
		PacketName: w.packetName,
		Worktree:   w.worktree,
		TasksTotal: w.tasksTotal,
	})
	require.NoError(b.t, err)
}

func (b *SwarmBuilder) applyWorkerState(ctx context.Context, swarmID string, w workerSpec) {
	b.t.Helper()

	if w.progress > 0 {
		_, err := b.store.UpdateProgress(ctx, swarmID, store.ProgressParams{
			PacketID:       w.packetID,
			TaskID:         "task-setup",
			TaskName:       "initial tasks",
			Status:         "completed",
			TasksCompleted: w.progress,
		})
		require.NoError(b.t, err)
	}

	switch {
	case w.completed:
		_, err := b.store.MarkComplete(ctx, swarmID, store.CompleteParams{
			PacketID:     w.packetID,
			FinalCommit:  w.finalCommit,
			TestsPassed:  w.testsPassed,
			ReviewPassed: w.reviewPassed,
		})
		require.NoError(b.t, err)
	case w.failed:
		_, err := b.store.RecordError(ctx, swarmID, store.ErrorParams{
			PacketID:           w.packetID,
			TaskID:             w.failedTaskID,
			ErrorType:          w.errorType,
			Message:            w.errorMessage,
			Recoverable:        retry.IsRecoverable(w.errorType),
			ClaimedRecoverable: retry.IsRecoverable(w.errorType),
		})
		require.NoError(b.t, err)
	}
}
