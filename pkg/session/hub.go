package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/protocol"
)

// Config configures the transport.
type Config struct {
	Path         string        // Socket.IO endpoint, e.g. "/socket.io/"
	PingInterval time.Duration // heartbeat period advertised in the handshake
	PingTimeout  time.Duration // grace period after a missed heartbeat
	SendBuffer   int           // per-session outbound queue
	QueueSize    int           // inbound event queue shared by all sessions
}

// DefaultConfig returns the Engine.IO defaults.
func DefaultConfig() Config {
	return Config{
		Path:         "/socket.io/",
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		SendBuffer:   64,
		QueueSize:    256,
	}
}

// Hub owns the live sessions and the single dispatcher that runs handlers.
type Hub struct {
	cfg    Config
	routes Dispatch
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	events chan Event

	// Stats
	packetsReceived atomic.Uint64
	eventsReceived  atomic.Uint64
	eventsHandled   atomic.Uint64
	eventsFailed    atomic.Uint64
	messagesSent    atomic.Uint64
	slowDropped     atomic.Uint64
}

// NewHub creates a hub that routes events through routes. A nil logger
// uses the package default.
func NewHub(routes Dispatch, cfg Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = log.L()
	}
	if routes == nil {
		routes = Dispatch{}
	}

	return &Hub{
		cfg:      cfg,
		routes:   routes,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
		events:   make(chan Event, cfg.QueueSize),
	}
}

// Run dispatches queued events until ctx is cancelled. Handlers run on
// this goroutine only, one event at a time, in arrival order.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev Event) {
	fn, ok := h.routes[ev.Name]
	if !ok {
		h.logger.Debug("unhandled event", "event", ev.Name, "session", ev.SessionID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.eventsFailed.Add(1)
			h.logger.Error("handler panic", "event", ev.Name, "session", ev.SessionID, "panic", r)
		}
	}()

	if err := fn(ctx, ev, h); err != nil {
		h.eventsFailed.Add(1)
		h.logger.Warn("event failed", "event", ev.Name, "session", ev.SessionID, "error", err)
		return
	}
	h.eventsHandled.Add(1)
}

// Emit encodes the event once and queues it on every joined session
// except skip. Sessions whose queue is full are disconnected.
func (h *Hub) Emit(event string, data any, skip string) error {
	msg, err := protocol.NewMessage(event, data)
	if err != nil {
		return fmt.Errorf("session: emit %s: %w", event, err)
	}
	frame, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("session: emit %s: %w", event, err)
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.ID == skip || !s.Joined() || s.closed() {
			continue
		}
		if s.enqueue(frame) {
			h.messagesSent.Add(1)
			continue
		}
		// Client's buffer is full - they're too slow
		h.slowDropped.Add(1)
		h.logger.Warn("dropping slow session", "session", s.ID, "event", event)
		s.close()
	}
	return nil
}

// RegisterRoutes registers the Socket.IO websocket endpoint on a Fiber app.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use(h.cfg.Path, h.upgrade)
	app.Get(h.cfg.Path, websocket.New(h.handleConn))
}

// upgrade rejects requests the websocket transport cannot serve, using
// Engine.IO error codes.
func (h *Hub) upgrade(c *fiber.Ctx) error {
	if v := c.Query("EIO"); v != "" && v != "3" && v != "4" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    5,
			"message": "Unsupported protocol version",
		})
	}
	if t := c.Query("transport"); !websocket.IsWebSocketUpgrade(c) || (t != "" && t != "websocket") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    0,
			"message": "Transport unknown",
		})
	}
	return c.Next()
}

// handleConn runs one session until the peer goes away.
func (h *Hub) handleConn(c *websocket.Conn) {
	eio := 3
	if c.Query("EIO") == "4" {
		eio = 4
	}

	s := newSession(uuid.NewString(), eio, c, h.cfg.SendBuffer)
	h.register(s)
	defer h.unregister(s)

	open := protocol.OpenData{
		SID:          s.ID,
		PingInterval: h.cfg.PingInterval.Milliseconds(),
		PingTimeout:  h.cfg.PingTimeout.Milliseconds(),
	}
	if eio >= 4 {
		open.MaxPayload = maxMessageSize
	}
	p, err := protocol.NewOpenPacket(open)
	if err != nil {
		h.logger.Error("handshake failed", "session", s.ID, "error", err)
		return
	}
	s.enqueuePacket(p)

	// EIO3 servers connect the default namespace without being asked
	if eio == 3 {
		h.join(s, protocol.NewConnectMessage(""))
	}

	writerDone := make(chan struct{})
	go func() {
		s.writePump(h.cfg.PingInterval)
		close(writerDone)
	}()

	h.readPump(s)
	s.close()
	<-writerDone
}

// readPump reads packets until the connection fails, the peer closes, or
// no heartbeat arrives in time.
func (h *Hub) readPump(s *Session) {
	c := s.conn
	timeout := h.cfg.PingInterval + h.cfg.PingTimeout

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(timeout))

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("session read ended", "session", s.ID, "error", err)
			return
		}
		c.SetReadDeadline(time.Now().Add(timeout))
		s.lastSeen.Store(time.Now().UnixNano())
		h.packetsReceived.Add(1)

		if err := h.handlePacket(s, data); err != nil {
			if err == errClosed {
				return
			}
			h.logger.Debug("bad packet", "session", s.ID, "error", err)
		}
	}
}

// handlePacket processes one Engine.IO packet.
func (h *Hub) handlePacket(s *Session, data []byte) error {
	p, err := protocol.ParsePacket(data)
	if err != nil {
		return err
	}

	switch p.Type {
	case protocol.PacketPing:
		// EIO3 clients drive the heartbeat; probes are answered for either version
		if s.EIO == 3 || string(p.Data) == "probe" {
			s.enqueuePacket(protocol.Packet{Type: protocol.PacketPong, Data: p.Data})
		}
	case protocol.PacketPong:
		// Read deadline already extended
	case protocol.PacketClose:
		return errClosed
	case protocol.PacketMessage:
		return h.handleMessage(s, p.Data)
	}
	return nil
}

// handleMessage processes one Socket.IO packet.
func (h *Hub) handleMessage(s *Session, data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}

	if msg.Namespace != "" {
		if msg.Type == protocol.MessageConnect {
			s.enqueue(namespaceError(s.EIO, msg.Namespace))
		}
		return fmt.Errorf("namespace %s not served", msg.Namespace)
	}

	switch msg.Type {
	case protocol.MessageConnect:
		if s.EIO >= 4 && !s.Joined() {
			h.join(s, protocol.NewConnectMessage(s.ID))
		}
	case protocol.MessageDisconnect:
		return errClosed
	case protocol.MessageEvent:
		if !s.Joined() {
			return fmt.Errorf("event %q before namespace connect", msg.Event)
		}
		h.eventsReceived.Add(1)
		h.raise(s, Event{SessionID: s.ID, Name: msg.Event, Data: msg.Data})
	}
	return nil
}

// join acknowledges the namespace connect and raises the connect event.
func (h *Hub) join(s *Session, ack *protocol.Message) {
	frame, err := ack.Bytes()
	if err != nil {
		h.logger.Error("connect ack failed", "session", s.ID, "error", err)
		return
	}
	s.enqueue(frame)
	s.joined.Store(true)
	h.raise(s, Event{SessionID: s.ID, Name: protocol.EventConnect})
}

// raise queues an event for the dispatcher, giving up if the session ends.
func (h *Hub) raise(s *Session, ev Event) {
	select {
	case h.events <- ev:
	case <-s.done:
	}
}

func namespaceError(eio int, nsp string) []byte {
	payload := json.RawMessage(`"Invalid namespace"`)
	if eio >= 4 {
		payload = json.RawMessage(`{"message":"Invalid namespace"}`)
	}
	msg := &protocol.Message{
		Type:      protocol.MessageConnectError,
		Namespace: nsp,
		AckID:     -1,
		Payload:   payload,
	}
	frame, _ := msg.Bytes()
	return frame
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("session connected", "session", s.ID, "eio", s.EIO, "total", count)
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	count := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("session disconnected", "session", s.ID, "total", count)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.close()
	}
}

// GetSession returns a session by ID
func (h *Hub) GetSession(id string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// SessionCount returns the number of connected sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats contains hub statistics
type Stats struct {
	Sessions        int    `json:"sessions"`
	PacketsReceived uint64 `json:"packets_received"`
	EventsReceived  uint64 `json:"events_received"`
	EventsHandled   uint64 `json:"events_handled"`
	EventsFailed    uint64 `json:"events_failed"`
	MessagesSent    uint64 `json:"messages_sent"`
	SlowDropped     uint64 `json:"slow_dropped"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Sessions:        h.SessionCount(),
		PacketsReceived: h.packetsReceived.Load(),
		EventsReceived:  h.eventsReceived.Load(),
		EventsHandled:   h.eventsHandled.Load(),
		EventsFailed:    h.eventsFailed.Load(),
		MessagesSent:    h.messagesSent.Load(),
		SlowDropped:     h.slowDropped.Load(),
	}
}

// SessionInfo contains info about a connected session
type SessionInfo struct {
	ID        string    `json:"id"`
	EIO       int       `json:"eio"`
	Joined    bool      `json:"joined"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetSessionInfos returns info about all connected sessions
func (h *Hub) GetSessionInfos() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			EIO:       s.EIO,
			Joined:    s.Joined(),
			Connected: s.Connected,
			LastSeen:  s.LastSeen(),
		})
	}
	return infos
}

// RegisterAPIRoutes registers read-only session routes
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	sessions := api.Group("/sessions")

	// List connected sessions
	sessions.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": h.GetSessionInfos(),
			"count":    h.SessionCount(),
		})
	})

	// Get hub stats
	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
