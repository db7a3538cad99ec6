package domain

import "time"

// AttachmentRef points at out-of-band uploaded bytes. The room only
// ever stores references, never file content.
type AttachmentRef struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Token       string `json:"token"`
}

// ChatMessage is immutable once a sequence number has been assigned.
// Seq is room-scoped, monotonic and gap-free; it is the sole ordering
// and dedup key. SentAt comes from the client and is display-only.
type ChatMessage struct {
	EventID    EventID        `json:"eventId"`
	Sender     UserID         `json:"sender"`
	SenderName string         `json:"senderName"`
	Seq        uint64         `json:"seq"`
	SentAt     time.Time      `json:"sentAt"`
	Body       string         `json:"body"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}
