package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/protocol"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())

	require.NotNil(t, hub)
	assert.Equal(t, 0, hub.SessionCount())
	assert.Equal(t, DefaultConfig(), hub.cfg)
	assert.Nil(t, hub.GetSession("nonexistent"))
	assert.Empty(t, hub.GetSessionInfos())
}

func TestGetStats(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())

	stats := hub.GetStats()
	assert.Equal(t, Stats{}, stats)
}

func TestEmit_NoSessions(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())

	assert.NoError(t, hub.Emit(protocol.EventManual, protocol.ManualData{}, ""))
	assert.Error(t, hub.Emit("bad", make(chan int), ""), "unencodable data should fail")
}

func TestDispatch_UnknownAndFailing(t *testing.T) {
	boom := errors.New("boom")
	hub := NewHub(Dispatch{
		"fails":  func(ctx context.Context, ev Event, out Emitter) error { return boom },
		"panics": func(ctx context.Context, ev Event, out Emitter) error { panic("bad handler") },
		"ok":     func(ctx context.Context, ev Event, out Emitter) error { return nil },
	}, Config{}, log.Discard())

	ctx := context.Background()
	hub.dispatch(ctx, Event{Name: "unknown"})
	hub.dispatch(ctx, Event{Name: "fails"})
	hub.dispatch(ctx, Event{Name: "panics"})
	hub.dispatch(ctx, Event{Name: "ok"})

	stats := hub.GetStats()
	assert.Equal(t, uint64(2), stats.EventsFailed)
	assert.Equal(t, uint64(1), stats.EventsHandled)
}

func TestUpgradeRejections(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode int
		wantBody string
	}{
		{"polling", "/socket.io/?EIO=3&transport=polling", 400, "Transport unknown"},
		{"plain get", "/socket.io/", 400, "Transport unknown"},
		{"bad version", "/socket.io/?EIO=5&transport=websocket", 400, "Unsupported protocol version"},
	}

	hub := NewHub(nil, Config{}, log.Discard())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tc.target, nil))
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), tc.wantBody)
		})
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	for _, path := range []string{"/api/sessions/", "/api/sessions/stats"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode, path)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/sessions/", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `"count":0`))
}

func TestEIO3Handshake(t *testing.T) {
	hub := NewHub(Dispatch{
		protocol.EventConnect: func(ctx context.Context, ev Event, out Emitter) error {
			return out.Emit(protocol.EventSteer, protocol.NewSteerData(0, 0), "")
		},
	}, Config{}, log.Discard())
	startServer(t, hub, 18470)

	ws := dial(t, 18470, 3)

	open := readOpen(t, ws)
	assert.NotEmpty(t, open.SID)
	assert.Equal(t, int64(25000), open.PingInterval)
	assert.Equal(t, int64(20000), open.PingTimeout)
	assert.Empty(t, open.Upgrades)

	assert.Equal(t, "40", readFrame(t, ws))
	assert.Equal(t, `42["steer",{"steering_angle":"0","throttle":"0"}]`, readFrame(t, ws))

	// Client-driven heartbeat
	write(t, ws, "2")
	assert.Equal(t, "3", readFrame(t, ws))

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	s := hub.GetSession(open.SID)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.EIO)
	assert.True(t, s.Joined())
}

func TestEIO4Handshake(t *testing.T) {
	var connects atomic.Int32
	hub := NewHub(Dispatch{
		protocol.EventConnect: func(ctx context.Context, ev Event, out Emitter) error {
			connects.Add(1)
			return nil
		},
	}, Config{PingInterval: 100 * time.Millisecond, PingTimeout: 500 * time.Millisecond}, log.Discard())
	startServer(t, hub, 18471)

	ws := dial(t, 18471, 4)

	open := readOpen(t, ws)
	assert.Equal(t, int64(100), open.PingInterval)
	assert.Positive(t, open.MaxPayload)

	// Nothing is connected until the client asks
	write(t, ws, `42["telemetry",{}]`)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), connects.Load())
	assert.Equal(t, uint64(0), hub.GetStats().EventsReceived)

	write(t, ws, "40")
	frame := readSkippingPings(t, ws)
	require.True(t, strings.HasPrefix(frame, "40"), "got %q", frame)

	var ack struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.Unmarshal([]byte(frame[2:]), &ack))
	assert.Equal(t, open.SID, ack.SID)

	require.Eventually(t, func() bool { return connects.Load() == 1 }, time.Second, 10*time.Millisecond)

	// Server-driven heartbeat
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
	write(t, ws, "3")
}

func TestEIO4_MissedHeartbeatDisconnects(t *testing.T) {
	hub := NewHub(nil, Config{PingInterval: 50 * time.Millisecond, PingTimeout: 50 * time.Millisecond}, log.Discard())
	startServer(t, hub, 18472)

	ws := dial(t, 18472, 4)
	readOpen(t, ws)

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	// Never answer pings
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestEventsDispatchedInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		got     []string
		running atomic.Int32
		overlap atomic.Bool
	)
	hub := NewHub(Dispatch{
		protocol.EventTelemetry: func(ctx context.Context, ev Event, out Emitter) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			defer running.Add(-1)
			time.Sleep(2 * time.Millisecond)

			var n struct {
				Seq int `json:"seq"`
			}
			if err := json.Unmarshal(ev.Data, &n); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, fmt.Sprintf("%s:%d", ev.SessionID, n.Seq))
			mu.Unlock()
			return nil
		},
	}, Config{}, log.Discard())
	startServer(t, hub, 18473)

	a := dial(t, 18473, 3)
	b := dial(t, 18473, 3)
	sidA := readOpen(t, a).SID
	sidB := readOpen(t, b).SID

	for i := 0; i < 10; i++ {
		write(t, a, fmt.Sprintf(`42["telemetry",{"seq":%d}]`, i))
		write(t, b, fmt.Sprintf(`42["telemetry",{"seq":%d}]`, i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, 3*time.Second, 10*time.Millisecond)

	assert.False(t, overlap.Load(), "handlers must never run concurrently")

	// Per-session order is preserved
	mu.Lock()
	defer mu.Unlock()
	next := map[string]int{sidA: 0, sidB: 0}
	for _, entry := range got {
		var sid string
		var seq int
		parts := strings.SplitN(entry, ":", 2)
		sid = parts[0]
		fmt.Sscanf(parts[1], "%d", &seq)
		assert.Equal(t, next[sid], seq, "session %s out of order", sid)
		next[sid]++
	}
}

func TestHandlerErrorKeepsSession(t *testing.T) {
	hub := NewHub(Dispatch{
		protocol.EventTelemetry: func(ctx context.Context, ev Event, out Emitter) error {
			if protocol.IsEmptyPayload(ev.Data) {
				return out.Emit(protocol.EventManual, protocol.ManualData{}, "")
			}
			return errors.New("bad telemetry")
		},
	}, Config{}, log.Discard())
	startServer(t, hub, 18474)

	ws := dial(t, 18474, 3)
	readOpen(t, ws)
	assert.Equal(t, "40", readFrame(t, ws))

	write(t, ws, `42["telemetry",{"speed":"x"}]`)
	write(t, ws, `42["telemetry",{}]`)

	assert.Equal(t, `42["manual",{}]`, readFrame(t, ws))
	assert.Equal(t, uint64(1), hub.GetStats().EventsFailed)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestEmitSkip(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())
	startServer(t, hub, 18475)

	a := dial(t, 18475, 3)
	b := dial(t, 18475, 3)
	sidA := readOpen(t, a).SID
	sidB := readOpen(t, b).SID
	assert.Equal(t, "40", readFrame(t, a))
	assert.Equal(t, "40", readFrame(t, b))
	require.Eventually(t, func() bool {
		sa, sb := hub.GetSession(sidA), hub.GetSession(sidB)
		return sa != nil && sb != nil && sa.Joined() && sb.Joined()
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Emit(protocol.EventManual, protocol.ManualData{}, sidA))
	assert.Equal(t, `42["manual",{}]`, readFrame(t, b))

	// a receives only the broadcast that follows
	require.NoError(t, hub.Emit(protocol.EventSteer, protocol.NewSteerData(0.5, 1), ""))
	assert.Equal(t, `42["steer",{"steering_angle":"0.5","throttle":"1"}]`, readFrame(t, a))
	assert.Equal(t, `42["steer",{"steering_angle":"0.5","throttle":"1"}]`, readFrame(t, b))

	assert.Equal(t, uint64(3), hub.GetStats().MessagesSent)
}

func TestUnknownNamespaceRejected(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())
	startServer(t, hub, 18476)

	ws := dial(t, 18476, 4)
	readOpen(t, ws)

	write(t, ws, "40/admin,")
	frame := readSkippingPings(t, ws)
	assert.Equal(t, `44/admin,{"message":"Invalid namespace"}`, frame)
}

func TestDisconnect(t *testing.T) {
	hub := NewHub(nil, Config{}, log.Discard())
	startServer(t, hub, 18477)

	ws := dial(t, 18477, 3)
	readOpen(t, ws)
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	// Socket.IO disconnect packet
	write(t, ws, "41")
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, time.Second, 10*time.Millisecond)

	ws2 := dial(t, 18477, 3)
	readOpen(t, ws2)
	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	ws2.Close()
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

// Helper functions

func startServer(t *testing.T, hub *Hub, port int) {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go app.Listen(fmt.Sprintf(":%d", port))
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		hub.Close()
		app.Shutdown()
		cancel()
	})
}

func dial(t *testing.T, port, eio int) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://localhost:%d/socket.io/?EIO=%d&transport=websocket", port, eio)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "WebSocket dial error")
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err, "Read error")
	return string(data)
}

func readSkippingPings(t *testing.T, ws *websocket.Conn) string {
	t.Helper()

	for {
		frame := readFrame(t, ws)
		if frame != "2" {
			return frame
		}
	}
}

func readOpen(t *testing.T, ws *websocket.Conn) protocol.OpenData {
	t.Helper()

	frame := readFrame(t, ws)
	require.True(t, strings.HasPrefix(frame, "0"), "want open packet, got %q", frame)

	var open protocol.OpenData
	require.NoError(t, json.Unmarshal([]byte(frame[1:]), &open))
	return open
}

func write(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}
