// Package protocol defines the closed set of JSON frames exchanged over
// a client connection. Frames carry a "type" discriminant; anything not
// listed here is rejected at the connection boundary.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/stagehall/stagehall/internal/domain"
)

// Frame is a single marshaled protocol message.
type Frame []byte

// Inbound frame types.
const (
	TypeAuth            = "auth"
	TypeJoinRoom        = "join-room"
	TypeChatMessage     = "chat-message"
	TypeStartBroadcast  = "start-broadcast"
	TypeStopBroadcast   = "stop-broadcast"
	TypeBroadcastSignal = "broadcast-signal"
	TypeLeave           = "leave"
)

// Outbound frame types.
const (
	TypeRoomJoined        = "room-joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeBroadcastStarted  = "broadcast-started"
	TypeBroadcastEnded    = "broadcast-ended"
	TypeEventEnded        = "event-ended"
	TypeError             = "error"
)

// Envelope carries only the discriminant; handlers re-unmarshal the
// full payload once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type JoinRoom struct {
	Type    string         `json:"type"`
	EventID domain.EventID `json:"eventId"`
}

type ChatMessageIn struct {
	Type       string                `json:"type"`
	EventID    domain.EventID        `json:"eventId"`
	Body       string                `json:"body"`
	SentAt     time.Time             `json:"sentAt"`
	Attachment *domain.AttachmentRef `json:"attachmentRef,omitempty"`
}

type StartBroadcast struct {
	Type    string         `json:"type"`
	EventID domain.EventID `json:"eventId"`
}

type StopBroadcast struct {
	Type    string         `json:"type"`
	EventID domain.EventID `json:"eventId"`
}

type BroadcastSignal struct {
	Type    string          `json:"type"`
	EventID domain.EventID  `json:"eventId"`
	Payload json.RawMessage `json:"payload"`
	Target  domain.UserID   `json:"targetParticipant,omitempty"`
}

type Leave struct {
	Type    string         `json:"type"`
	EventID domain.EventID `json:"eventId"`
}

type RoomJoined struct {
	Type        string               `json:"type"`
	EventID     domain.EventID       `json:"eventId"`
	History     []domain.ChatMessage `json:"history"`
	Broadcaster domain.UserID        `json:"broadcaster,omitempty"`
}

type ChatMessageOut struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

type ParticipantJoined struct {
	Type        string        `json:"type"`
	Identity    domain.UserID `json:"identity"`
	DisplayName string        `json:"displayName"`
}

type ParticipantLeft struct {
	Type     string        `json:"type"`
	Identity domain.UserID `json:"identity"`
}

type BroadcastStarted struct {
	Type        string        `json:"type"`
	Broadcaster domain.UserID `json:"broadcasterIdentity"`
}

type BroadcastEnded struct {
	Type string `json:"type"`
}

type EventEnded struct {
	Type string `json:"type"`
}

type BroadcastSignalOut struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	From    domain.UserID   `json:"fromParticipant"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MustMarshal marshals an outbound frame. The frame structs contain
// nothing json.Marshal can fail on, so errors are treated as programmer
// mistakes.
func MustMarshal(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Frame(b)
}
