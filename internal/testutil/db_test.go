package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spellbook-dev/spellbook/internal/store"
)

func TestNewDB_CreatesSchema(t *testing.T) {
	db := NewDB(t)

	var count int
	err := db.Connection().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('swarms', 'workers', 'events')`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 3, count, "expected 3 tables")
}

func TestNewStore_Usable(t *testing.T) {
	s := NewStore(t)

	sw, err := s.CreateSwarm(context.Background(), store.CreateSwarmParams{
		Feature:          "smoke",
		ManifestPath:     "manifests/smoke.yaml",
		NotifyOnComplete: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sw.ID)
}

func TestNewStoreWithBroker_PublishesChanges(t *testing.T) {
	s, broker := NewStoreWithBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	_, err := s.CreateSwarm(context.Background(), store.CreateSwarmParams{
		Feature:          "smoke",
		ManifestPath:     "manifests/smoke.yaml",
		NotifyOnComplete: true,
	})
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.NotEmpty(t, ev.Payload.SwarmID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}
}
