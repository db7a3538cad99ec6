package core

import "errors"

var (
	ErrRoomClosed     = errors.New("room closed")
	ErrNotMember      = errors.New("not a room member")
	ErrEmptyMessage   = errors.New("message body and attachment both empty")
	ErrNotOrganizer   = errors.New("operation reserved for the event organizer")
	ErrNotBroadcaster = errors.New("operation reserved for the active broadcaster")
	ErrAlreadyLive    = errors.New("a broadcast is already live")
	ErrNoBroadcast    = errors.New("no broadcast is live")
	ErrUnknownTarget  = errors.New("target participant not in room")
)
