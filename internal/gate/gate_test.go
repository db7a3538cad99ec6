package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/store/events"
)

func newTestGate() (*Gate, *events.MemoryStore) {
	store := events.NewMemoryStore()
	store.PutEvent(domain.Event{ID: "free-event", Title: "Meetup", OrganizerID: "org-1"})
	store.PutEvent(domain.Event{ID: "paid-event", Title: "Workshop", OrganizerID: "org-1", PriceCents: 2500})
	return New(store, store), store
}

func TestCanJoinRoom(t *testing.T) {
	g, store := newTestGate()
	store.MarkPaid("paid-event", "payer")
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   domain.UserID
		eventID  domain.EventID
		wantRole domain.Role
		wantErr  error
	}{
		{name: "organizer on own free event", userID: "org-1", eventID: "free-event", wantRole: domain.RoleOrganizer},
		{name: "organizer on own paid event without payment", userID: "org-1", eventID: "paid-event", wantRole: domain.RoleOrganizer},
		{name: "attendee on free event", userID: "alice", eventID: "free-event", wantRole: domain.RoleAttendee},
		{name: "paid attendee on paid event", userID: "payer", eventID: "paid-event", wantRole: domain.RoleAttendee},
		{name: "unpaid attendee on paid event", userID: "alice", eventID: "paid-event", wantErr: ErrPaymentRequired},
		{name: "unknown event", userID: "alice", eventID: "missing", wantErr: ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := g.CanJoinRoom(ctx, tt.userID, tt.eventID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, dec.Role)
		})
	}
}

func TestCanViewBroadcastSharesJoinRule(t *testing.T) {
	g, _ := newTestGate()
	ctx := context.Background()

	dec, err := g.CanViewBroadcast(ctx, "alice", "free-event")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAttendee, dec.Role)

	_, err = g.CanViewBroadcast(ctx, "alice", "paid-event")
	assert.ErrorIs(t, err, ErrPaymentRequired)
}

func TestCachedReEvaluatesDenial(t *testing.T) {
	g, store := newTestGate()
	ctx := context.Background()
	cached := NewCached(g, "bob")

	_, err := cached.CanJoinRoom(ctx, "paid-event")
	require.ErrorIs(t, err, ErrPaymentRequired)

	// Payment settles out of band; the same connection retries.
	store.MarkPaid("paid-event", "bob")
	dec, err := cached.CanJoinRoom(ctx, "paid-event")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAttendee, dec.Role)
}

type countingLedger struct {
	*events.MemoryStore
	calls int
}

func (l *countingLedger) HasPaid(ctx context.Context, eventID domain.EventID, userID domain.UserID) (bool, error) {
	l.calls++
	return l.MemoryStore.HasPaid(ctx, eventID, userID)
}

func TestCachedMemoizesAllow(t *testing.T) {
	store := events.NewMemoryStore()
	store.PutEvent(domain.Event{ID: "paid-event", Title: "Workshop", OrganizerID: "org-1", PriceCents: 2500})
	store.MarkPaid("paid-event", "payer")
	ledger := &countingLedger{MemoryStore: store}
	cached := NewCached(New(store, ledger), "payer")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dec, err := cached.CanJoinRoom(ctx, "paid-event")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAttendee, dec.Role)
	}
	assert.Equal(t, 1, ledger.calls, "an Allow decision is looked up once per connection")
}
