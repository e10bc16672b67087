package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strazto/jellyfin/internal/network"
	"github.com/strazto/jellyfin/internal/storage"
)

func newMemoryJournal(t *testing.T) *Journal {
	t.Helper()
	store, err := storage.NewManager(&storage.StorageConfig{Type: storage.StorageTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewJournal(store)
}

func testSnapshot(at time.Time) *network.Snapshot {
	return &network.Snapshot{
		State:      network.State{IPv4Enabled: true},
		Generation: uuid.New(),
		CreatedAt:  at,
	}
}

func TestJournalFollow(t *testing.T) {
	journal := newMemoryJournal(t)
	now := time.Now().UTC()
	first := testSnapshot(now)
	second := testSnapshot(now.Add(time.Second))

	events := make(chan network.ChangeEvent, 3)
	events <- network.ChangeEvent{Generation: first.Generation, Reason: "address_changed", Snapshot: first}
	events <- network.ChangeEvent{Generation: first.Generation, Reason: "availability_changed", Err: errors.New("scan failed")}
	events <- network.ChangeEvent{Generation: second.Generation, Reason: "config", Full: true, Snapshot: second}
	close(events)

	journal.Follow(context.Background(), events)

	ctx := context.Background()
	recs, err := journal.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2, "failed refreshes are not journaled")

	rec, err := journal.Get(ctx, second.Generation.String())
	require.NoError(t, err)
	assert.Equal(t, "config", rec.Reason)
	assert.True(t, rec.Full)

	rec, err = journal.Get(ctx, first.Generation.String())
	require.NoError(t, err)
	assert.Equal(t, "address_changed", rec.Reason)
	assert.False(t, rec.Full)
}

func TestJournalFollowStopsWithContext(t *testing.T) {
	journal := newMemoryJournal(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		journal.Follow(ctx, make(chan network.ChangeEvent))
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestServerOnlyReadsJournal(t *testing.T) {
	env := newTestEnv(t, nil)
	snap := env.manager.Snapshot()

	env.server.handleChange(network.ChangeEvent{Generation: snap.Generation, Reason: "address_changed", Snapshot: snap})

	recs, err := env.journal.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
