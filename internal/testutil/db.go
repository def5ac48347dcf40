// Package testutil provides shared store fixtures and swarm builders for
// tests. Fixtures use file-backed databases under t.TempDir() because the
// pooled driver hands pure in-memory databases a fresh empty store per
// connection.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/store"
)

// NewDB opens a migrated database in a temp directory and closes it when
// the test ends.
func NewDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "spellbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewStore returns a store over a fresh database with no broker attached.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	return store.NewStore(NewDB(t), nil)
}

// NewStoreWithBroker returns a store publishing change notifications, plus
// the broker to subscribe on. The broker is closed when the test ends.
func NewStoreWithBroker(t *testing.T) (*store.Store, *pubsub.Broker[store.Change]) {
	t.Helper()
	broker := pubsub.NewBroker[store.Change]()
	t.Cleanup(broker.Close)
	return store.NewStore(NewDB(t), broker), broker
}
