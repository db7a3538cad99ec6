package domain

// Event is the metadata slice of an event this service needs for
// admission decisions. The full event record lives elsewhere.
type Event struct {
	ID          EventID
	Title       string
	OrganizerID UserID
	PriceCents  int64
}

func (e *Event) IsFree() bool { return e.PriceCents == 0 }

func (e *Event) IsOrganizer(uid UserID) bool { return e.OrganizerID == uid }
