// Package domain contains entity types without behavior beyond small helpers.
package domain

type (
	UserID  string
	EventID string
)

type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleAttendee  Role = "attendee"
)

// Participant is a joined, authenticated identity within a room.
// Ownership lives with the room; connections hold it as a value only.
type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}
