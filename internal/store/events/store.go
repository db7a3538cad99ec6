// Package events is the lookup boundary to the platform's event and
// payment records. The service only reads here; event CRUD and the
// checkout flow that writes payments live elsewhere.
package events

import (
	"context"
	"errors"

	"github.com/stagehall/stagehall/internal/domain"
)

var ErrEventNotFound = errors.New("event not found")

// Directory resolves event metadata.
type Directory interface {
	Event(ctx context.Context, id domain.EventID) (*domain.Event, error)
}

// Ledger answers whether a user has paid for an event.
type Ledger interface {
	HasPaid(ctx context.Context, eventID domain.EventID, userID domain.UserID) (bool, error)
}
