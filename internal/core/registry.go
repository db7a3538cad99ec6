package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/store/events"
)

var ErrUnknownEvent = errors.New("unknown event")

// Registry maps event ids to room actors. It is the only place rooms
// are created or torn down, which is what guarantees a single room per
// event id even under concurrent first joins.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.EventID]*Room

	dir      events.Directory
	roomOpts Options
	grace    time.Duration
}

func NewRegistry(dir events.Directory, roomOpts Options, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Registry{
		rooms:    make(map[domain.EventID]*Room),
		dir:      dir,
		roomOpts: roomOpts,
		grace:    grace,
	}
}

// GetOrCreate returns the event's room, creating it on first join.
// Creation resolves the event so the room knows its organizer.
func (g *Registry) GetOrCreate(ctx context.Context, eventID domain.EventID) (*Room, error) {
	g.mu.RLock()
	room, ok := g.rooms[eventID]
	g.mu.RUnlock()
	if ok {
		return room, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok = g.rooms[eventID]; ok {
		return room, nil
	}

	ev, err := g.dir.Event(ctx, eventID)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			return nil, ErrUnknownEvent
		}
		return nil, fmt.Errorf("event lookup failed: %w", err)
	}

	room = NewRoom(eventID, ev.OrganizerID, g.roomOpts)
	g.rooms[eventID] = room
	go room.Run()
	log.Info().Str("module", "core.registry").Str("event", string(eventID)).Msg("room created")
	return room, nil
}

// Lookup never creates.
func (g *Registry) Lookup(eventID domain.EventID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[eventID]
	return room, ok
}

func (g *Registry) Snapshot() []Info {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		if info, err := r.Snapshot(); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// Start launches the reaper that removes rooms which have been empty
// and broadcast-idle past the grace period, plus ended rooms. Removal
// holds the registry lock, so it cannot race a concurrent GetOrCreate.
func (g *Registry) Start(ctx context.Context) {
	interval := g.grace / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.Close()
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Registry) sweep() {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, room := range g.rooms {
		info, err := room.Snapshot()
		if err != nil {
			// Already stopped; just drop the entry.
			delete(g.rooms, id)
			continue
		}
		if info.State == StateEnded || (info.State == StateEmpty && !info.Live && now.Sub(info.IdleSince) >= g.grace) {
			room.Stop()
			delete(g.rooms, id)
			log.Info().Str("module", "core.registry").Str("event", string(id)).
				Str("state", string(info.State)).Msg("room reaped")
		}
	}
}

// Close stops every room. Used on shutdown.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, room := range g.rooms {
		room.Stop()
		delete(g.rooms, id)
	}
}
