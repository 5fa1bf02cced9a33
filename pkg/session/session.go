package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-drive/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// maxMessageSize bounds one inbound frame; telemetry carries a base64 image
	maxMessageSize = 4 * 1024 * 1024
)

// errClosed ends the read loop after a close or disconnect packet.
var errClosed = errors.New("session: closed by peer")

// Session is a single simulator connection.
type Session struct {
	ID        string
	EIO       int
	Connected time.Time

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	joined    atomic.Bool  // connected to the default namespace
	lastSeen  atomic.Int64 // unix nanos
}

func newSession(id string, eio int, conn *websocket.Conn, buffer int) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		EIO:       eio,
		Connected: now,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// LastSeen returns when the last frame arrived from the peer.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Joined reports whether the session has joined the default namespace.
func (s *Session) Joined() bool {
	return s.joined.Load()
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue queues a frame for the writer. It reports false when the session
// is closed or its buffer is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) enqueuePacket(p protocol.Packet) bool {
	return s.enqueue(p.Bytes())
}

// close stops the writer. The send channel is never closed so concurrent
// emits cannot panic.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump writes queued frames to the websocket. Only this goroutine
// writes to the connection. For EIO4 it also sends the heartbeat pings.
func (s *Session) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if s.EIO >= 4 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}

		case <-tick:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			ping := protocol.Packet{Type: protocol.PacketPing}
			if err := s.conn.WriteMessage(websocket.TextMessage, ping.Bytes()); err != nil {
				s.close()
				return
			}
		}
	}
}
