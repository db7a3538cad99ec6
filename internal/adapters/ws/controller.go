// Package ws is the connection actor: it authenticates a socket, parses
// inbound frames into room operations and relays room fan-out back out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/auth"
	"github.com/stagehall/stagehall/internal/config"
	"github.com/stagehall/stagehall/internal/core"
	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/gate"
	"github.com/stagehall/stagehall/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Verifier *auth.Verifier
	Gate     *gate.Gate
	Registry *core.Registry
	Cfg      *config.Config
}

// session is the per-connection state owned by the read loop.
type session struct {
	conn     *Conn
	identity auth.Identity
	gate     *gate.Cached
	room     *core.Room
	eventID  domain.EventID
	role     domain.Role
}

func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	conn := newConn(uuid.NewString(), sock, ctl.Cfg.WS.SendQueueSize, ctl.Cfg.WS.WriteWait, ctl.Cfg.WS.PingPeriod)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go conn.writePump(connCtx)
	ctl.readPump(connCtx, conn, sock)
}

func (ctl *Controller) readPump(ctx context.Context, conn *Conn, sock *websocket.Conn) {
	sock.SetReadLimit(ctl.Cfg.WS.ReadLimit)

	sess, ok := ctl.authenticate(conn, sock)
	if !ok {
		conn.CloseAfterFlush()
		return
	}

	defer func() {
		if sess.room != nil {
			sess.room.Leave(sess.identity.UserID, sess.conn)
		}
		conn.CloseAfterFlush()
		log.Info().Str("module", "ws").Str("conn", conn.id).
			Str("user", string(sess.identity.UserID)).Msg("connection closed")
	}()

	// From here on, liveness is pong-based: a crashed peer trips the
	// read deadline and goes through the normal leave path above.
	_ = sock.SetReadDeadline(time.Now().Add(ctl.Cfg.WS.PongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(ctl.Cfg.WS.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		ctl.dispatch(ctx, sess, data)
	}
}

// authenticate expects an auth frame as the very first message, within
// the handshake timeout. Anything else closes the connection.
func (ctl *Controller) authenticate(conn *Conn, sock *websocket.Conn) (*session, bool) {
	_ = sock.SetReadDeadline(time.Now().Add(ctl.Cfg.Auth.HandshakeTimeout))
	_, data, err := sock.ReadMessage()
	if err != nil {
		return nil, false
	}

	var frame protocol.Auth
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != protocol.TypeAuth {
		conn.Deliver(errorFrame("unauthorized", "expected auth frame"))
		return nil, false
	}

	identity, err := ctl.Verifier.Verify(frame.Token)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", conn.id).Msg("authentication failed")
		conn.Deliver(errorFrame("unauthorized", "invalid credentials"))
		return nil, false
	}

	log.Info().Str("module", "ws").Str("conn", conn.id).
		Str("user", string(identity.UserID)).Msg("authenticated")
	return &session{
		conn:     conn,
		identity: identity,
		gate:     gate.NewCached(ctl.Gate, identity.UserID),
	}, true
}

func (ctl *Controller) dispatch(ctx context.Context, sess *session, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Malformed frames are dropped, never fatal.
		log.Warn().Err(err).Str("module", "ws").Str("conn", sess.conn.id).Msg("malformed frame")
		sess.conn.Deliver(errorFrame("validation", "malformed frame"))
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		ctl.handleJoin(ctx, sess, data)
	case protocol.TypeChatMessage:
		ctl.handleChat(sess, data)
	case protocol.TypeStartBroadcast:
		ctl.handleStartBroadcast(sess, data)
	case protocol.TypeStopBroadcast:
		ctl.handleStopBroadcast(sess, data)
	case protocol.TypeBroadcastSignal:
		ctl.handleSignal(sess, data)
	case protocol.TypeLeave:
		ctl.handleLeave(sess)
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown frame type")
		sess.conn.Deliver(errorFrame("validation", "unknown frame type"))
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, sess *session, data []byte) {
	var frame protocol.JoinRoom
	if err := json.Unmarshal(data, &frame); err != nil || frame.EventID == "" {
		sess.conn.Deliver(errorFrame("validation", "bad join-room frame"))
		return
	}

	// A connection serves one room at a time.
	if sess.room != nil && sess.eventID != frame.EventID {
		sess.conn.Deliver(errorFrame("conflict", "already joined another event"))
		return
	}

	dec, err := sess.gate.CanJoinRoom(ctx, frame.EventID)
	if err != nil {
		sess.conn.Deliver(toErrorFrame(err))
		return
	}

	p := domain.Participant{
		ID:          sess.identity.UserID,
		DisplayName: sess.identity.DisplayName,
		Role:        dec.Role,
	}

	room, res, err := ctl.joinRoom(ctx, frame.EventID, p, sess.conn)
	if err != nil {
		sess.conn.Deliver(toErrorFrame(err))
		return
	}

	sess.room = room
	sess.eventID = frame.EventID
	sess.role = dec.Role
	sess.conn.Deliver(protocol.MustMarshal(protocol.RoomJoined{
		Type:        protocol.TypeRoomJoined,
		EventID:     frame.EventID,
		History:     res.History,
		Broadcaster: res.Broadcaster,
	}))
}

// joinRoom retries once if the registry reaped the room between lookup
// and join.
func (ctl *Controller) joinRoom(ctx context.Context, eventID domain.EventID, p domain.Participant, sink core.Sink) (*core.Room, core.JoinResult, error) {
	for attempt := 0; ; attempt++ {
		room, err := ctl.Registry.GetOrCreate(ctx, eventID)
		if err != nil {
			return nil, core.JoinResult{}, err
		}
		res, err := room.Join(p, sink)
		if errors.Is(err, core.ErrRoomClosed) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, core.JoinResult{}, err
		}
		return room, res, nil
	}
}

func (ctl *Controller) handleChat(sess *session, data []byte) {
	var frame protocol.ChatMessageIn
	if err := json.Unmarshal(data, &frame); err != nil {
		sess.conn.Deliver(errorFrame("validation", "bad chat-message frame"))
		return
	}
	if sess.room == nil || sess.eventID != frame.EventID {
		sess.conn.Deliver(errorFrame("not-joined", "join the event's room first"))
		return
	}

	// Fan-out (including to the sender) is handled by the room; nothing
	// extra to send on success.
	if _, err := sess.room.SubmitChatMessage(sess.identity.UserID, frame.Body, frame.SentAt, frame.Attachment); err != nil {
		sess.conn.Deliver(toErrorFrame(err))
	}
}

func (ctl *Controller) handleStartBroadcast(sess *session, data []byte) {
	var frame protocol.StartBroadcast
	if err := json.Unmarshal(data, &frame); err != nil {
		sess.conn.Deliver(errorFrame("validation", "bad start-broadcast frame"))
		return
	}
	if sess.room == nil || sess.eventID != frame.EventID {
		sess.conn.Deliver(errorFrame("not-joined", "join the event's room first"))
		return
	}
	if err := sess.room.StartBroadcast(sess.identity.UserID); err != nil {
		sess.conn.Deliver(toErrorFrame(err))
	}
}

func (ctl *Controller) handleStopBroadcast(sess *session, data []byte) {
	var frame protocol.StopBroadcast
	if err := json.Unmarshal(data, &frame); err != nil {
		sess.conn.Deliver(errorFrame("validation", "bad stop-broadcast frame"))
		return
	}
	if sess.room == nil || sess.eventID != frame.EventID {
		sess.conn.Deliver(errorFrame("not-joined", "join the event's room first"))
		return
	}
	if err := sess.room.StopBroadcast(sess.identity.UserID); err != nil {
		sess.conn.Deliver(toErrorFrame(err))
	}
}

func (ctl *Controller) handleSignal(sess *session, data []byte) {
	var frame protocol.BroadcastSignal
	if err := json.Unmarshal(data, &frame); err != nil || len(frame.Payload) == 0 {
		sess.conn.Deliver(errorFrame("validation", "bad broadcast-signal frame"))
		return
	}
	if sess.room == nil || sess.eventID != frame.EventID {
		sess.conn.Deliver(errorFrame("not-joined", "join the event's room first"))
		return
	}
	if err := sess.room.RelaySignal(sess.identity.UserID, frame.Payload, frame.Target); err != nil {
		sess.conn.Deliver(toErrorFrame(err))
	}
}

func (ctl *Controller) handleLeave(sess *session) {
	if sess.room == nil {
		return
	}
	sess.room.Leave(sess.identity.UserID, sess.conn)
	sess.room = nil
	sess.eventID = ""
}

func errorFrame(code, message string) protocol.Frame {
	return protocol.MustMarshal(protocol.ErrorFrame{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
}

func toErrorFrame(err error) protocol.Frame {
	switch {
	case errors.Is(err, gate.ErrPaymentRequired):
		return errorFrame("payment-required", "payment required to join this event")
	case errors.Is(err, gate.ErrUnknownEvent), errors.Is(err, core.ErrUnknownEvent):
		return errorFrame("not-found", "event does not exist")
	case errors.Is(err, core.ErrUnknownTarget):
		return errorFrame("not-found", "target participant not in room")
	case errors.Is(err, core.ErrEmptyMessage):
		return errorFrame("validation", "message needs a body or an attachment")
	case errors.Is(err, core.ErrNotMember):
		return errorFrame("not-joined", "not a member of this room")
	case errors.Is(err, core.ErrNotOrganizer),
		errors.Is(err, core.ErrNotBroadcaster),
		errors.Is(err, core.ErrAlreadyLive),
		errors.Is(err, core.ErrNoBroadcast):
		return errorFrame("conflict", err.Error())
	case errors.Is(err, core.ErrRoomClosed):
		return errorFrame("room-closed", "this event's room has ended")
	default:
		return errorFrame("internal", "internal error")
	}
}
