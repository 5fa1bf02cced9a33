// Package session serves simulator connections over the Socket.IO websocket
// transport and feeds their events, one at a time, to registered handlers.
package session

import (
	"context"
	"encoding/json"
)

// Event is one inbound Socket.IO event, or the synthetic "connect" event
// raised when a session joins the default namespace.
type Event struct {
	SessionID string
	Name      string
	Data      json.RawMessage
}

// Emitter sends an event to connected sessions. skip names a session to
// leave out; empty means everyone.
type Emitter interface {
	Emit(event string, data any, skip string) error
}

// HandlerFunc handles a single event. A returned error is logged by the
// dispatcher and the session keeps running.
type HandlerFunc func(ctx context.Context, ev Event, out Emitter) error

// Dispatch maps event names to handlers.
type Dispatch map[string]HandlerFunc
