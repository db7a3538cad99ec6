// Package gate makes the admission decision for joining a room and
// viewing a broadcast. It is a pure query over the event directory and
// payment ledger; it never mutates anything.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/store/events"
)

var (
	ErrPaymentRequired = errors.New("payment-required")
	ErrUnknownEvent    = errors.New("unknown-event")
)

// Decision is a positive admission result. Role tells the caller which
// hat the participant wears in this event's room.
type Decision struct {
	Role domain.Role
}

type Gate struct {
	dir    events.Directory
	ledger events.Ledger
}

func New(dir events.Directory, ledger events.Ledger) *Gate {
	return &Gate{dir: dir, ledger: ledger}
}

// CanJoinRoom allows the event's organizer unconditionally, and anyone
// else iff the event is free or the ledger shows a settled payment.
func (g *Gate) CanJoinRoom(ctx context.Context, userID domain.UserID, eventID domain.EventID) (Decision, error) {
	ev, err := g.dir.Event(ctx, eventID)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			return Decision{}, ErrUnknownEvent
		}
		return Decision{}, fmt.Errorf("event lookup failed: %w", err)
	}

	if ev.IsOrganizer(userID) {
		return Decision{Role: domain.RoleOrganizer}, nil
	}
	if ev.IsFree() {
		return Decision{Role: domain.RoleAttendee}, nil
	}

	paid, err := g.ledger.HasPaid(ctx, eventID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("payment lookup failed: %w", err)
	}
	if !paid {
		return Decision{}, ErrPaymentRequired
	}
	return Decision{Role: domain.RoleAttendee}, nil
}

// CanViewBroadcast shares the join rule: a participant admitted to the
// room gets the broadcast too.
func (g *Gate) CanViewBroadcast(ctx context.Context, userID domain.UserID, eventID domain.EventID) (Decision, error) {
	return g.CanJoinRoom(ctx, userID, eventID)
}

// Cached wraps a Gate with per-connection memoization so admission is
// looked up once per event for a connection's lifetime, not per message.
// Only Allow is cached: a denied participant may pay and retry on the
// same connection, so Deny must be re-evaluated on every join attempt.
// Not safe for concurrent use; each connection owns its own Cached.
type Cached struct {
	gate    *Gate
	userID  domain.UserID
	allowed map[domain.EventID]Decision
}

func NewCached(g *Gate, userID domain.UserID) *Cached {
	return &Cached{gate: g, userID: userID, allowed: make(map[domain.EventID]Decision)}
}

func (c *Cached) CanJoinRoom(ctx context.Context, eventID domain.EventID) (Decision, error) {
	if dec, ok := c.allowed[eventID]; ok {
		return dec, nil
	}
	dec, err := c.gate.CanJoinRoom(ctx, c.userID, eventID)
	if err == nil {
		c.allowed[eventID] = dec
	}
	return dec, err
}

func (c *Cached) CanViewBroadcast(ctx context.Context, eventID domain.EventID) (Decision, error) {
	return c.CanJoinRoom(ctx, eventID)
}
