// Package core owns room state. Every mutation of a room flows through
// its single op loop, which is what makes sequence numbers and the
// broadcaster slot correct without per-field locking.
package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/protocol"
)

// Sink delivers outbound frames to one connection. Implementations must
// never block; on overflow they drop their own oldest frames so one
// slow reader cannot stall the room.
type Sink interface {
	Deliver(f protocol.Frame)
}

type State string

const (
	StateEmpty  State = "empty"
	StateActive State = "active"
	StateEnded  State = "ended"
)

type BroadcastState string

const (
	BroadcastIdle  BroadcastState = "idle"
	BroadcastLive  BroadcastState = "live"
	BroadcastEnded BroadcastState = "ended"
)

// Notifier observes broadcast transitions, e.g. to persist livestream
// status for clients that are not connected. Calls happen on a
// dedicated per-room goroutine in transition order, so slow stores
// never block the room loop and a stop can never be persisted before
// the start it follows.
type Notifier interface {
	BroadcastStarted(eventID domain.EventID, broadcaster domain.UserID)
	BroadcastEnded(eventID domain.EventID)
}

// NopNotifier is used where no status persistence is wired.
type NopNotifier struct{}

func (NopNotifier) BroadcastStarted(domain.EventID, domain.UserID) {}
func (NopNotifier) BroadcastEnded(domain.EventID)                  {}

type Options struct {
	ReplayDepth int
	DedupWindow time.Duration
	Notifier    Notifier
	// now is swappable in tests.
	now func() time.Time
}

type member struct {
	p    domain.Participant
	sink Sink
}

type broadcastSession struct {
	state       BroadcastState
	broadcaster domain.UserID
	viewers     map[domain.UserID]struct{}
}

// notifyEvent is one broadcast transition queued for the notifier.
type notifyEvent struct {
	live        bool
	broadcaster domain.UserID
}

type recentSend struct {
	sender   domain.UserID
	body     string
	attToken string
	at       time.Time
	msg      domain.ChatMessage
}

// Room is the actor for one event. All exported methods enqueue an op
// and, where a result is needed, block until the loop has processed it.
type Room struct {
	eventID   domain.EventID
	organizer domain.UserID
	opts      Options

	ops     chan roomOp
	notifs  chan notifyEvent
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool

	// Everything below is owned by the run loop.
	state      State
	members    map[domain.UserID]*member
	seq        uint64
	history    []domain.ChatMessage
	recent     []recentSend
	bcast      broadcastSession
	idleSince  time.Time
}

func NewRoom(eventID domain.EventID, organizer domain.UserID, opts Options) *Room {
	if opts.ReplayDepth <= 0 {
		opts.ReplayDepth = 200
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Room{
		eventID:   eventID,
		organizer: organizer,
		opts:      opts,
		ops:       make(chan roomOp, 256),
		notifs:    make(chan notifyEvent, 16),
		stopped:   make(chan struct{}),
		state:     StateEmpty,
		members:   make(map[domain.UserID]*member),
		bcast:     broadcastSession{state: BroadcastIdle},
		idleSince: opts.now(),
	}
}

func (r *Room) EventID() domain.EventID { return r.eventID }

// Run processes ops until Stop. One goroutine per room.
func (r *Room) Run() {
	go r.notifyLoop()
	for {
		select {
		case op := <-r.ops:
			op.apply(r)
		case <-r.stopped:
			// Fail anything still queued so no caller hangs.
			for {
				select {
				case op := <-r.ops:
					op.fail(ErrRoomClosed)
				default:
					close(r.notifs)
					log.Debug().Str("module", "core.room").Str("event", string(r.eventID)).Msg("room loop exited")
					return
				}
			}
		}
	}
}

// notifyLoop drains queued transitions one at a time, preserving the
// order the run loop produced them in.
func (r *Room) notifyLoop() {
	for ev := range r.notifs {
		if ev.live {
			r.opts.Notifier.BroadcastStarted(r.eventID, ev.broadcaster)
		} else {
			r.opts.Notifier.BroadcastEnded(r.eventID)
		}
	}
}

// Stop closes the room. Safe to call more than once.
func (r *Room) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.stopped)
}

func (r *Room) do(op roomOp) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRoomClosed
	}
	r.ops <- op
	return nil
}

// ---- ops ----

type roomOp interface {
	apply(r *Room)
	fail(err error)
}

type joinResult struct {
	history     []domain.ChatMessage
	broadcaster domain.UserID
	err         error
}

type joinOp struct {
	p     domain.Participant
	sink  Sink
	reply chan joinResult
}

func (op joinOp) fail(err error) { op.reply <- joinResult{err: err} }

func (op joinOp) apply(r *Room) {
	if r.state == StateEnded {
		op.fail(ErrRoomClosed)
		return
	}

	_, rejoin := r.members[op.p.ID]
	r.members[op.p.ID] = &member{p: op.p, sink: op.sink}
	r.state = StateActive

	if r.bcast.state == BroadcastLive && op.p.ID != r.bcast.broadcaster {
		r.bcast.viewers[op.p.ID] = struct{}{}
	}

	history := make([]domain.ChatMessage, len(r.history))
	copy(history, r.history)

	res := joinResult{history: history}
	if r.bcast.state == BroadcastLive {
		res.broadcaster = r.bcast.broadcaster
	}

	if !rejoin {
		r.fanout(protocol.MustMarshal(protocol.ParticipantJoined{
			Type:        protocol.TypeParticipantJoined,
			Identity:    op.p.ID,
			DisplayName: op.p.DisplayName,
		}), op.p.ID)
	}

	log.Info().Str("module", "core.room").Str("event", string(r.eventID)).
		Str("user", string(op.p.ID)).Bool("rejoin", rejoin).Msg("member joined")
	op.reply <- res
}

type leaveOp struct {
	id   domain.UserID
	sink Sink
}

func (op leaveOp) fail(error) {}

func (op leaveOp) apply(r *Room) {
	m, ok := r.members[op.id]
	if !ok {
		return
	}
	// A rejoin replaces the sink; a stale connection tearing down later
	// must not evict the member's current connection.
	if op.sink != nil && m.sink != op.sink {
		log.Debug().Str("module", "core.room").Str("event", string(r.eventID)).
			Str("user", string(op.id)).Msg("ignoring leave from superseded connection")
		return
	}
	delete(r.members, op.id)
	delete(r.bcast.viewers, op.id)

	// A disconnected broadcaster must not leave viewers hanging.
	if r.bcast.state == BroadcastLive && r.bcast.broadcaster == op.id {
		r.endBroadcast()
	}

	r.fanout(protocol.MustMarshal(protocol.ParticipantLeft{
		Type:     protocol.TypeParticipantLeft,
		Identity: op.id,
	}))

	if len(r.members) == 0 && r.state != StateEnded {
		r.state = StateEmpty
		r.idleSince = r.opts.now()
	}
	log.Info().Str("module", "core.room").Str("event", string(r.eventID)).
		Str("user", string(op.id)).Msg("member left")
}

type submitResult struct {
	msg domain.ChatMessage
	err error
}

type submitOp struct {
	sender domain.UserID
	body   string
	sentAt time.Time
	att    *domain.AttachmentRef
	reply  chan submitResult
}

func (op submitOp) fail(err error) { op.reply <- submitResult{err: err} }

func (op submitOp) apply(r *Room) {
	if r.state == StateEnded {
		op.fail(ErrRoomClosed)
		return
	}
	m, ok := r.members[op.sender]
	if !ok {
		op.fail(ErrNotMember)
		return
	}
	if op.body == "" && op.att == nil {
		op.fail(ErrEmptyMessage)
		return
	}

	now := r.opts.now()
	r.pruneRecent(now)

	// A retry after an ambiguous network failure must be idempotent:
	// same sender, body and attachment within the window resolves to
	// the already-sequenced message, delivered to the submitter only.
	attToken := ""
	if op.att != nil {
		attToken = op.att.Token
	}
	for i := len(r.recent) - 1; i >= 0; i-- {
		e := r.recent[i]
		if e.sender == op.sender && e.body == op.body && e.attToken == attToken {
			m.sink.Deliver(protocol.MustMarshal(protocol.ChatMessageOut{
				Type:    protocol.TypeChatMessage,
				Message: e.msg,
			}))
			op.reply <- submitResult{msg: e.msg}
			return
		}
	}

	r.seq++
	msg := domain.ChatMessage{
		EventID:    r.eventID,
		Sender:     op.sender,
		SenderName: m.p.DisplayName,
		Seq:        r.seq,
		SentAt:     op.sentAt,
		Body:       op.body,
		Attachment: op.att,
	}

	r.history = append(r.history, msg)
	if len(r.history) > r.opts.ReplayDepth {
		r.history = r.history[len(r.history)-r.opts.ReplayDepth:]
	}
	r.recent = append(r.recent, recentSend{
		sender: op.sender, body: op.body, attToken: attToken, at: now, msg: msg,
	})

	r.fanout(protocol.MustMarshal(protocol.ChatMessageOut{
		Type:    protocol.TypeChatMessage,
		Message: msg,
	}))
	op.reply <- submitResult{msg: msg}
}

type startBroadcastOp struct {
	who   domain.UserID
	reply chan error
}

func (op startBroadcastOp) fail(err error) { op.reply <- err }

func (op startBroadcastOp) apply(r *Room) {
	if r.state == StateEnded {
		op.fail(ErrRoomClosed)
		return
	}
	if op.who != r.organizer {
		op.fail(ErrNotOrganizer)
		return
	}
	if r.bcast.state == BroadcastLive {
		op.fail(ErrAlreadyLive)
		return
	}

	viewers := make(map[domain.UserID]struct{}, len(r.members))
	for id := range r.members {
		if id != op.who {
			viewers[id] = struct{}{}
		}
	}
	r.bcast = broadcastSession{state: BroadcastLive, broadcaster: op.who, viewers: viewers}

	r.fanout(protocol.MustMarshal(protocol.BroadcastStarted{
		Type:        protocol.TypeBroadcastStarted,
		Broadcaster: op.who,
	}))
	r.notifs <- notifyEvent{live: true, broadcaster: op.who}
	log.Info().Str("module", "core.room").Str("event", string(r.eventID)).
		Str("broadcaster", string(op.who)).Msg("broadcast started")
	op.reply <- nil
}

type stopBroadcastOp struct {
	who   domain.UserID
	reply chan error
}

func (op stopBroadcastOp) fail(err error) { op.reply <- err }

func (op stopBroadcastOp) apply(r *Room) {
	if r.bcast.state != BroadcastLive {
		op.fail(ErrNoBroadcast)
		return
	}
	if op.who != r.bcast.broadcaster {
		op.fail(ErrNotBroadcaster)
		return
	}
	r.endBroadcast()
	op.reply <- nil
}

type relayOp struct {
	from    domain.UserID
	payload []byte
	target  domain.UserID
	reply   chan error
}

func (op relayOp) fail(err error) { op.reply <- err }

func (op relayOp) apply(r *Room) {
	if r.bcast.state != BroadcastLive {
		op.fail(ErrNoBroadcast)
		return
	}
	if _, ok := r.members[op.from]; !ok {
		op.fail(ErrNotMember)
		return
	}

	frame := protocol.MustMarshal(protocol.BroadcastSignalOut{
		Type:    protocol.TypeBroadcastSignal,
		Payload: op.payload,
		From:    op.from,
	})

	if op.from == r.bcast.broadcaster {
		if op.target != "" {
			if _, viewer := r.bcast.viewers[op.target]; !viewer {
				op.fail(ErrUnknownTarget)
				return
			}
			r.deliverTo(op.target, frame)
			op.reply <- nil
			return
		}
		for id := range r.bcast.viewers {
			r.deliverTo(id, frame)
		}
		op.reply <- nil
		return
	}

	// Viewer signals always address the broadcaster. The payload is
	// opaque; the room is a relay, not a media endpoint.
	if _, viewer := r.bcast.viewers[op.from]; !viewer {
		op.fail(ErrNotMember)
		return
	}
	r.deliverTo(r.bcast.broadcaster, frame)
	op.reply <- nil
}

type endEventOp struct {
	who   domain.UserID
	reply chan error
}

func (op endEventOp) fail(err error) { op.reply <- err }

func (op endEventOp) apply(r *Room) {
	if op.who != r.organizer {
		op.fail(ErrNotOrganizer)
		return
	}
	if r.state == StateEnded {
		op.reply <- nil
		return
	}
	if r.bcast.state == BroadcastLive {
		r.endBroadcast()
	}
	r.state = StateEnded
	r.idleSince = r.opts.now()
	r.fanout(protocol.MustMarshal(protocol.EventEnded{Type: protocol.TypeEventEnded}))
	log.Info().Str("module", "core.room").Str("event", string(r.eventID)).Msg("event ended")
	op.reply <- nil
}

type infoOp struct {
	reply chan Info
}

func (op infoOp) fail(error) { op.reply <- Info{} }

func (op infoOp) apply(r *Room) {
	info := Info{
		EventID:     r.eventID,
		State:       r.state,
		MemberCount: len(r.members),
		Live:        r.bcast.state == BroadcastLive,
		IdleSince:   r.idleSince,
	}
	if info.Live {
		info.Broadcaster = r.bcast.broadcaster
	}
	op.reply <- info
}

type hasMemberOp struct {
	id    domain.UserID
	reply chan bool
}

func (op hasMemberOp) fail(error) { op.reply <- false }

func (op hasMemberOp) apply(r *Room) {
	_, ok := r.members[op.id]
	op.reply <- ok
}

// ---- loop-internal helpers ----

func (r *Room) endBroadcast() {
	ended := protocol.MustMarshal(protocol.BroadcastEnded{Type: protocol.TypeBroadcastEnded})
	for id := range r.bcast.viewers {
		r.deliverTo(id, ended)
	}
	r.bcast = broadcastSession{state: BroadcastEnded}
	r.notifs <- notifyEvent{}
	log.Info().Str("module", "core.room").Str("event", string(r.eventID)).Msg("broadcast ended")
}

func (r *Room) fanout(frame protocol.Frame, except ...domain.UserID) {
	for id, m := range r.members {
		skip := false
		for _, ex := range except {
			if id == ex {
				skip = true
				break
			}
		}
		if !skip {
			m.sink.Deliver(frame)
		}
	}
}

func (r *Room) deliverTo(id domain.UserID, frame protocol.Frame) {
	if m, ok := r.members[id]; ok {
		m.sink.Deliver(frame)
	}
}

func (r *Room) pruneRecent(now time.Time) {
	cutoff := now.Add(-r.opts.DedupWindow)
	i := 0
	for ; i < len(r.recent); i++ {
		if r.recent[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		r.recent = append(r.recent[:0], r.recent[i:]...)
	}
}

// ---- public API ----

type JoinResult struct {
	History     []domain.ChatMessage
	Broadcaster domain.UserID
}

func (r *Room) Join(p domain.Participant, sink Sink) (JoinResult, error) {
	op := joinOp{p: p, sink: sink, reply: make(chan joinResult, 1)}
	if err := r.do(op); err != nil {
		return JoinResult{}, err
	}
	res := <-op.reply
	if res.err != nil {
		return JoinResult{}, res.err
	}
	return JoinResult{History: res.history, Broadcaster: res.broadcaster}, nil
}

// Leave is fire-and-forget; a closed room has nothing left to leave.
// sink identifies the leaving connection: the op is ignored when the
// member has since rejoined on a different sink. A nil sink leaves
// unconditionally.
func (r *Room) Leave(id domain.UserID, sink Sink) {
	_ = r.do(leaveOp{id: id, sink: sink})
}

func (r *Room) SubmitChatMessage(sender domain.UserID, body string, sentAt time.Time, att *domain.AttachmentRef) (domain.ChatMessage, error) {
	op := submitOp{sender: sender, body: body, sentAt: sentAt, att: att, reply: make(chan submitResult, 1)}
	if err := r.do(op); err != nil {
		return domain.ChatMessage{}, err
	}
	res := <-op.reply
	return res.msg, res.err
}

func (r *Room) StartBroadcast(who domain.UserID) error {
	op := startBroadcastOp{who: who, reply: make(chan error, 1)}
	if err := r.do(op); err != nil {
		return err
	}
	return <-op.reply
}

func (r *Room) StopBroadcast(who domain.UserID) error {
	op := stopBroadcastOp{who: who, reply: make(chan error, 1)}
	if err := r.do(op); err != nil {
		return err
	}
	return <-op.reply
}

func (r *Room) RelaySignal(from domain.UserID, payload []byte, target domain.UserID) error {
	op := relayOp{from: from, payload: payload, target: target, reply: make(chan error, 1)}
	if err := r.do(op); err != nil {
		return err
	}
	return <-op.reply
}

// EndEvent marks the room Ended on the organizer's signal. The registry
// removes ended rooms on its next sweep.
func (r *Room) EndEvent(who domain.UserID) error {
	op := endEventOp{who: who, reply: make(chan error, 1)}
	if err := r.do(op); err != nil {
		return err
	}
	return <-op.reply
}

// Info is a point-in-time snapshot for REST surfaces and the registry.
type Info struct {
	EventID     domain.EventID `json:"eventId"`
	State       State          `json:"state"`
	MemberCount int            `json:"memberCount"`
	Live        bool           `json:"live"`
	Broadcaster domain.UserID  `json:"broadcaster,omitempty"`
	IdleSince   time.Time      `json:"-"`
}

func (r *Room) Snapshot() (Info, error) {
	op := infoOp{reply: make(chan Info, 1)}
	if err := r.do(op); err != nil {
		return Info{}, err
	}
	return <-op.reply, nil
}

func (r *Room) HasMember(id domain.UserID) bool {
	op := hasMemberOp{id: id, reply: make(chan bool, 1)}
	if err := r.do(op); err != nil {
		return false
	}
	return <-op.reply
}
