package status

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/domain"
)

// RoomNotifier persists broadcast transitions reported by rooms. It
// satisfies the room's notifier contract; failures are logged, never
// propagated back into room state.
type RoomNotifier struct {
	store   Store
	timeout time.Duration
}

func NewRoomNotifier(store Store) *RoomNotifier {
	return &RoomNotifier{store: store, timeout: 5 * time.Second}
}

func (n *RoomNotifier) BroadcastStarted(eventID domain.EventID, broadcaster domain.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.store.SetLive(ctx, eventID, broadcaster); err != nil {
		log.Error().Err(err).Str("module", "status").Str("event", string(eventID)).Msg("failed to persist live status")
	}
}

func (n *RoomNotifier) BroadcastEnded(eventID domain.EventID) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.store.SetEnded(ctx, eventID); err != nil {
		log.Error().Err(err).Str("module", "status").Str("event", string(eventID)).Msg("failed to clear live status")
	}
}
