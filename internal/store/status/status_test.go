package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehall/stagehall/internal/domain"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Unknown events read as not live.
	ls, err := store.Get(ctx, "event-1")
	require.NoError(t, err)
	assert.False(t, ls.Live)

	require.NoError(t, store.SetLive(ctx, "event-1", "org-1"))
	ls, err = store.Get(ctx, "event-1")
	require.NoError(t, err)
	assert.True(t, ls.Live)
	assert.Equal(t, domain.UserID("org-1"), ls.Broadcaster)

	require.NoError(t, store.SetEnded(ctx, "event-1"))
	ls, err = store.Get(ctx, "event-1")
	require.NoError(t, err)
	assert.False(t, ls.Live)
	assert.Empty(t, ls.Broadcaster)
}

func TestStatusIsPerEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SetLive(ctx, "event-1", "org-1"))

	ls, err := store.Get(ctx, "event-2")
	require.NoError(t, err)
	assert.False(t, ls.Live)
}

func TestRoomNotifierPersistsTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	notifier := NewRoomNotifier(store)

	notifier.BroadcastStarted("event-1", "org-1")
	ls, err := store.Get(ctx, "event-1")
	require.NoError(t, err)
	assert.True(t, ls.Live)
	assert.Equal(t, domain.UserID("org-1"), ls.Broadcaster)

	notifier.BroadcastEnded("event-1")
	ls, err = store.Get(ctx, "event-1")
	require.NoError(t, err)
	assert.False(t, ls.Live)
}
