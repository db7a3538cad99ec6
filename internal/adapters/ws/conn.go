package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/protocol"
)

// Conn owns one client socket. The room loop hands frames to Deliver,
// which never blocks: when the queue is full the oldest undelivered
// frame is dropped, so one slow reader only loses its own backlog.
type Conn struct {
	id   string
	sock *websocket.Conn
	send chan protocol.Frame

	closing   chan struct{}
	closeOnce sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration
}

func newConn(id string, sock *websocket.Conn, queueSize int, writeWait, pingPeriod time.Duration) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		id:         id,
		sock:       sock,
		send:       make(chan protocol.Frame, queueSize),
		closing:    make(chan struct{}),
		writeWait:  writeWait,
		pingPeriod: pingPeriod,
	}
}

// Deliver implements core.Sink.
func (c *Conn) Deliver(f protocol.Frame) {
	for {
		select {
		case c.send <- f:
			return
		default:
			select {
			case <-c.send:
				log.Debug().Str("module", "ws.conn").Str("conn", c.id).Msg("send queue full, dropped oldest frame")
			default:
			}
		}
	}
}

// CloseAfterFlush asks the write pump to drain the queue and close the
// socket. Used for terminal conditions where a final frame (e.g. an
// unauthorized error) should still reach the client.
func (c *Conn) CloseAfterFlush() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closing:
			for {
				select {
				case f := <-c.send:
					if !c.write(websocket.TextMessage, f) {
						return
					}
				default:
					_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeWait))
					_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case f := <-c.send:
			if !c.write(websocket.TextMessage, f) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Conn) write(mt int, data []byte) bool {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.sock.WriteMessage(mt, data); err != nil {
		log.Debug().Err(err).Str("module", "ws.conn").Str("conn", c.id).Msg("write failed")
		return false
	}
	return true
}
