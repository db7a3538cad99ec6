package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehall/stagehall/internal/auth"
	"github.com/stagehall/stagehall/internal/config"
	"github.com/stagehall/stagehall/internal/core"
	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/gate"
	"github.com/stagehall/stagehall/internal/protocol"
	"github.com/stagehall/stagehall/internal/store/events"
)

const testSecret = "test-secret"

type wsEnv struct {
	server *httptest.Server
	events *events.MemoryStore
}

func newWSEnv(t *testing.T, handshakeTimeout time.Duration) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eventStore := events.NewMemoryStore()
	eventStore.PutEvent(domain.Event{ID: "free-event", Title: "Meetup", OrganizerID: "org-1"})
	eventStore.PutEvent(domain.Event{ID: "paid-event", Title: "Workshop", OrganizerID: "org-1", PriceCents: 2500})

	registry := core.NewRegistry(eventStore, core.Options{}, time.Minute)
	t.Cleanup(registry.Close)

	cfg := &config.Config{}
	cfg.Auth.HandshakeTimeout = handshakeTimeout
	cfg.WS.ReadLimit = 65536
	cfg.WS.PingPeriod = 50 * time.Millisecond
	cfg.WS.PongWait = 5 * time.Second
	cfg.WS.WriteWait = time.Second
	cfg.WS.SendQueueSize = 64

	ctl := &Controller{
		Verifier: auth.NewVerifier(testSecret),
		Gate:     gate.New(eventStore, eventStore),
		Registry: registry,
		Cfg:      cfg,
	}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.Handle(context.Background(), c) })
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &wsEnv{server: server, events: eventStore}
}

type wsClient struct {
	t    *testing.T
	sock *websocket.Conn
}

func (e *wsEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })
	return &wsClient{t: t, sock: sock}
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "name": sub})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.sock.WriteJSON(v))
}

func (c *wsClient) read() map[string]json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.sock.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.sock.ReadMessage()
	require.NoError(c.t, err)
	var m map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

func frameType(t *testing.T, m map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(m["type"], &typ))
	return typ
}

func (c *wsClient) expect(want string) map[string]json.RawMessage {
	c.t.Helper()
	m := c.read()
	require.Equal(c.t, want, frameType(c.t, m))
	return m
}

func (c *wsClient) expectError(code string) {
	c.t.Helper()
	m := c.expect(protocol.TypeError)
	var got string
	require.NoError(c.t, json.Unmarshal(m["code"], &got))
	assert.Equal(c.t, code, got)
}

func (c *wsClient) auth(sub string) {
	c.t.Helper()
	c.send(protocol.Auth{Type: protocol.TypeAuth, Token: signToken(c.t, testSecret, sub)})
}

func (c *wsClient) join(eventID domain.EventID) map[string]json.RawMessage {
	c.t.Helper()
	c.send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, EventID: eventID})
	return c.expect(protocol.TypeRoomJoined)
}

func TestRejectsInvalidToken(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)

	client.send(protocol.Auth{Type: protocol.TypeAuth, Token: "garbage"})
	client.expectError("unauthorized")

	_ = client.sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.sock.ReadMessage()
	assert.Error(t, err, "connection must close after a failed handshake")
}

func TestFirstFrameMustBeAuth(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)

	client.send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, EventID: "free-event"})
	client.expectError("unauthorized")
}

func TestHandshakeTimeout(t *testing.T) {
	env := newWSEnv(t, 200*time.Millisecond)
	client := env.dial(t)

	// Say nothing; the server hangs up once the handshake window closes.
	_ = client.sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.sock.ReadMessage()
	assert.Error(t, err)
}

func TestChatRequiresJoin(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)
	client.auth("alice")

	client.send(protocol.ChatMessageIn{Type: protocol.TypeChatMessage, EventID: "free-event", Body: "hello"})
	client.expectError("not-joined")
}

func TestPaidEventDenyThenAllowAfterPayment(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)
	client.auth("bob")

	client.send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, EventID: "paid-event"})
	client.expectError("payment-required")

	// Payment settles out of band; the same connection retries.
	env.events.MarkPaid("paid-event", "bob")
	client.join("paid-event")
}

func TestJoinUnknownEvent(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)
	client.auth("alice")

	client.send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, EventID: "missing"})
	client.expectError("not-found")
}

func TestFreeEventSession(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)

	org := env.dial(t)
	org.auth("org-1")
	joined := org.join("free-event")
	var history []domain.ChatMessage
	require.NoError(t, json.Unmarshal(joined["history"], &history))
	assert.Empty(t, history)

	alice := env.dial(t)
	alice.auth("alice")
	alice.join("free-event")
	org.expect(protocol.TypeParticipantJoined)

	org.send(protocol.ChatMessageIn{
		Type: protocol.TypeChatMessage, EventID: "free-event", Body: "hello", SentAt: time.Now(),
	})
	for _, c := range []*wsClient{org, alice} {
		m := c.expect(protocol.TypeChatMessage)
		var msg domain.ChatMessage
		require.NoError(t, json.Unmarshal(m["message"], &msg))
		assert.Equal(t, uint64(1), msg.Seq)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, domain.UserID("org-1"), msg.Sender)
	}

	org.send(protocol.StartBroadcast{Type: protocol.TypeStartBroadcast, EventID: "free-event"})
	org.expect(protocol.TypeBroadcastStarted)
	alice.expect(protocol.TypeBroadcastStarted)

	// Viewer signaling lands on the broadcaster.
	alice.send(protocol.BroadcastSignal{
		Type: protocol.TypeBroadcastSignal, EventID: "free-event", Payload: json.RawMessage(`{"sdp":"offer"}`),
	})
	m := org.expect(protocol.TypeBroadcastSignal)
	var from string
	require.NoError(t, json.Unmarshal(m["fromParticipant"], &from))
	assert.Equal(t, "alice", from)

	// The broadcaster dropping ends the stream for every viewer.
	require.NoError(t, org.sock.Close())
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		seen[frameType(t, alice.read())]++
	}
	assert.Equal(t, 1, seen[protocol.TypeBroadcastEnded])
	assert.Equal(t, 1, seen[protocol.TypeParticipantLeft])
}

func TestAttendeeCannotStartBroadcast(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)
	client := env.dial(t)
	client.auth("alice")
	client.join("free-event")

	client.send(protocol.StartBroadcast{Type: protocol.TypeStartBroadcast, EventID: "free-event"})
	client.expectError("conflict")
}

func TestLateJoinerSeesHistoryAndBroadcaster(t *testing.T) {
	env := newWSEnv(t, 2*time.Second)

	org := env.dial(t)
	org.auth("org-1")
	org.join("free-event")
	for _, body := range []string{"one", "two", "three"} {
		org.send(protocol.ChatMessageIn{
			Type: protocol.TypeChatMessage, EventID: "free-event", Body: body, SentAt: time.Now(),
		})
		org.expect(protocol.TypeChatMessage)
	}
	org.send(protocol.StartBroadcast{Type: protocol.TypeStartBroadcast, EventID: "free-event"})
	org.expect(protocol.TypeBroadcastStarted)

	late := env.dial(t)
	late.auth("alice")
	joined := late.join("free-event")

	var history []domain.ChatMessage
	require.NoError(t, json.Unmarshal(joined["history"], &history))
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
	var broadcaster string
	require.NoError(t, json.Unmarshal(joined["broadcaster"], &broadcaster))
	assert.Equal(t, "org-1", broadcaster)
}
