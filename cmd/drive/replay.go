package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-drive/pkg/protocol"
	"github.com/teslashibe/go-drive/pkg/video"
)

const defaultReplayURL = "ws://localhost:4567/socket.io/?EIO=3&transport=websocket"

var replayCmd = &cobra.Command{
	Use:   "replay <dir|video>",
	Short: "Stream recorded frames to a server as simulator telemetry",
	Long: `replay stands in for the simulator: it connects to a drive server,
sends every PNG or JPEG in <dir> (sorted by name), or every frame of a video
file, as a telemetry event at a fixed rate, and prints the steer and manual
events it gets back.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("url", defaultReplayURL, "Socket.IO websocket URL")
	replayCmd.Flags().Float64("fps", 10, "Frames per second")
	replayCmd.Flags().Float64("speed", 8, "Speed reported with every frame")
	replayCmd.Flags().Duration("wait", 2*time.Second, "How long to wait for outstanding replies")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	src, err := video.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	if ds, ok := src.(*video.DirSource); ok {
		cmd.Printf("replaying %d frames from %s\n", ds.Len(), args[0])
	}

	opts := replayOptions{Source: src}
	opts.URL, _ = cmd.Flags().GetString("url")
	opts.FPS, _ = cmd.Flags().GetFloat64("fps")
	opts.Speed, _ = cmd.Flags().GetFloat64("speed")
	opts.Wait, _ = cmd.Flags().GetDuration("wait")

	res, err := replay(cmd.Context(), opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	cmd.Printf("sent %d frames, received %d steer, %d manual\n", res.Sent, res.Steer, res.Manual)
	return nil
}

type replayOptions struct {
	URL    string
	Source video.Source
	FPS    float64
	Speed  float64
	Wait   time.Duration
}

type replayResult struct {
	Sent   int
	Steer  int
	Manual int
}

// replayClient is a minimal Socket.IO client over one websocket.
type replayClient struct {
	conn *websocket.Conn
	out  io.Writer

	mu sync.Mutex // gorilla allows one concurrent writer

	steer  atomic.Int64
	manual atomic.Int64
}

func (c *replayClient) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *replayClient) replies() int {
	return int(c.steer.Load() + c.manual.Load())
}

// readLoop prints server events until the connection ends.
func (c *replayClient) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		p, err := protocol.ParsePacket(data)
		if err != nil {
			continue
		}

		switch p.Type {
		case protocol.PacketPing:
			// EIO4 servers drive the heartbeat
			c.write(protocol.Packet{Type: protocol.PacketPong, Data: p.Data}.Bytes())
		case protocol.PacketClose:
			return
		case protocol.PacketMessage:
			c.handleMessage(p.Data)
		}
	}
}

func (c *replayClient) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.MessageEvent {
		return
	}
	switch msg.Event {
	case protocol.EventSteer:
		steer, err := msg.GetSteerData()
		if err != nil {
			fmt.Fprintf(c.out, "bad steer: %v\n", err)
			return
		}
		c.steer.Add(1)
		fmt.Fprintf(c.out, "steer   steering_angle=%s throttle=%s\n", steer.SteeringAngle, steer.Throttle)
	case protocol.EventManual:
		c.manual.Add(1)
		fmt.Fprintln(c.out, "manual")
	}
}

// heartbeat sends EIO3 client pings.
func (c *replayClient) heartbeat(ctx context.Context, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(protocol.Packet{Type: protocol.PacketPing}.Bytes()); err != nil {
				return
			}
		}
	}
}

// replay streams every frame of opts.Source to the server and counts the replies.
func replay(ctx context.Context, opts replayOptions, out io.Writer) (replayResult, error) {
	var res replayResult

	u, err := url.Parse(opts.URL)
	if err != nil {
		return res, fmt.Errorf("parse url: %w", err)
	}
	eio := 3
	if u.Query().Get("EIO") == "4" {
		eio = 4
	}
	if opts.FPS <= 0 {
		return res, fmt.Errorf("fps must be positive")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return res, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()

	c := &replayClient{conn: conn, out: out}

	// Handshake
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return res, fmt.Errorf("handshake: %w", err)
	}
	p, err := protocol.ParsePacket(data)
	if err != nil || p.Type != protocol.PacketOpen {
		return res, fmt.Errorf("handshake: expected open packet, got %q", data)
	}
	var open protocol.OpenData
	if err := json.Unmarshal(p.Data, &open); err != nil {
		return res, fmt.Errorf("handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	fmt.Fprintf(out, "connected sid=%s eio=%d\n", open.SID, eio)

	if eio == 4 {
		connect, _ := protocol.NewConnectMessage("").Bytes()
		if err := c.write(connect); err != nil {
			return res, err
		}
	}

	done := make(chan struct{})
	go c.readLoop(done)
	if eio == 3 && open.PingInterval > 0 {
		go c.heartbeat(ctx, time.Duration(open.PingInterval)*time.Millisecond, done)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.FPS), 1)
	for {
		img, name, err := opts.Source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		msg, err := protocol.NewTelemetryMessage(opts.Speed, img)
		if err != nil {
			return res, err
		}
		frame, err := msg.Bytes()
		if err != nil {
			return res, err
		}
		if err := c.write(frame); err != nil {
			return res, fmt.Errorf("send %s: %w", name, err)
		}
		res.Sent++
	}

	// One reply per frame plus the greeting on connect
	want := res.Sent + 1
	deadline := time.Now().Add(opts.Wait)
	for c.replies() < want && time.Now().Before(deadline) {
		select {
		case <-done:
			deadline = time.Now()
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	res.Steer = int(c.steer.Load())
	res.Manual = int(c.manual.Load())

	c.mu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return res, nil
}
