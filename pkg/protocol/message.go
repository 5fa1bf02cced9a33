// Package protocol implements the subset of the Engine.IO / Socket.IO text
// protocol spoken by the driving simulator, plus the event payloads exchanged
// with it.
//
// A websocket text frame carries one Engine.IO packet: a single type digit
// followed by its data. Socket.IO messages ride inside Engine.IO "message"
// packets, so an event on the default namespace looks like:
//
//	42["steer",{"steering_angle":"0.1","throttle":"0.2"}]
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PacketType is an Engine.IO packet type.
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// MessageType is a Socket.IO packet type.
type MessageType byte

const (
	MessageConnect      MessageType = '0'
	MessageDisconnect   MessageType = '1'
	MessageEvent        MessageType = '2'
	MessageAck          MessageType = '3'
	MessageConnectError MessageType = '4'
	MessageBinaryEvent  MessageType = '5'
	MessageBinaryAck    MessageType = '6'
)

// Errors returned by the parsers.
var (
	ErrEmptyPacket   = errors.New("protocol: empty packet")
	ErrUnknownPacket = errors.New("protocol: unknown packet type")
	ErrBadEvent      = errors.New("protocol: malformed event")
	ErrUnsupported   = errors.New("protocol: unsupported packet")
)

// Packet is an Engine.IO packet.
type Packet struct {
	Type PacketType
	Data []byte
}

// ParsePacket parses one Engine.IO text packet.
func ParsePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	t := PacketType(frame[0])
	if t < PacketOpen || t > PacketNoop {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacket, frame[0])
	}
	return Packet{Type: t, Data: frame[1:]}, nil
}

// Bytes returns the wire form of the packet.
func (p Packet) Bytes() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte(p.Type))
	return append(out, p.Data...)
}

// OpenData is the payload of the Engine.IO open packet.
type OpenData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"` // milliseconds
	PingTimeout  int64    `json:"pingTimeout"`  // milliseconds
	MaxPayload   int64    `json:"maxPayload,omitempty"`
}

// NewOpenPacket builds the handshake packet sent when a session starts.
func NewOpenPacket(open OpenData) (Packet, error) {
	if open.Upgrades == nil {
		open.Upgrades = []string{}
	}
	data, err := json.Marshal(open)
	if err != nil {
		return Packet{}, fmt.Errorf("failed to marshal open data: %w", err)
	}
	return Packet{Type: PacketOpen, Data: data}, nil
}

// Message is a Socket.IO packet carried in an Engine.IO message.
type Message struct {
	Type      MessageType
	Namespace string // empty means the default namespace "/"
	AckID     int    // -1 when no acknowledgement is requested

	// Event and Data are set for event packets.
	Event string
	Data  json.RawMessage

	// Payload holds the raw JSON of non-event packets (e.g. connect auth).
	Payload json.RawMessage
}

// NewMessage creates an event message on the default namespace.
func NewMessage(event string, data interface{}) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}
	return &Message{
		Type:  MessageEvent,
		AckID: -1,
		Event: event,
		Data:  raw,
	}, nil
}

// NewConnectMessage creates a namespace connect packet. A non-empty sid is
// included as the EIO4 connect acknowledgement payload.
func NewConnectMessage(sid string) *Message {
	m := &Message{Type: MessageConnect, AckID: -1}
	if sid != "" {
		m.Payload, _ = json.Marshal(map[string]string{"sid": sid})
	}
	return m
}

// ParseMessage parses the data of an Engine.IO message packet.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	msg := &Message{Type: MessageType(data[0]), AckID: -1}
	if msg.Type < MessageConnect || msg.Type > MessageBinaryAck {
		return nil, fmt.Errorf("%w: socket.io type %q", ErrUnknownPacket, data[0])
	}
	if msg.Type == MessageBinaryEvent || msg.Type == MessageBinaryAck {
		return nil, fmt.Errorf("%w: binary attachments", ErrUnsupported)
	}
	rest := data[1:]

	// Optional namespace, terminated by a comma
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			msg.Namespace = string(rest)
			rest = nil
		} else {
			msg.Namespace = string(rest[:end])
			rest = rest[end+1:]
		}
	}
	if msg.Namespace == "/" {
		msg.Namespace = ""
	}

	// Optional ack id
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.Atoi(string(rest[:n]))
		if err != nil {
			return nil, fmt.Errorf("%w: ack id: %v", ErrBadEvent, err)
		}
		msg.AckID = id
		rest = rest[n:]
	}

	if msg.Type != MessageEvent {
		if len(rest) > 0 {
			msg.Payload = json.RawMessage(rest)
		}
		return msg, nil
	}

	var args []json.RawMessage
	if err := json.Unmarshal(rest, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing event name", ErrBadEvent)
	}
	if err := json.Unmarshal(args[0], &msg.Event); err != nil {
		return nil, fmt.Errorf("%w: event name: %v", ErrBadEvent, err)
	}
	if len(args) > 1 {
		msg.Data = args[1]
	}
	return msg, nil
}

// ParseData unmarshals the event data into v.
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Packet wraps the message in an Engine.IO message packet.
func (m *Message) Packet() (Packet, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type))
	if m.Namespace != "" && m.Namespace != "/" {
		buf.WriteString(m.Namespace)
		buf.WriteByte(',')
	}
	if m.AckID >= 0 {
		buf.WriteString(strconv.Itoa(m.AckID))
	}

	switch m.Type {
	case MessageEvent:
		name, err := json.Marshal(m.Event)
		if err != nil {
			return Packet{}, err
		}
		args := []json.RawMessage{name}
		if m.Data != nil {
			args = append(args, m.Data)
		}
		body, err := json.Marshal(args)
		if err != nil {
			return Packet{}, fmt.Errorf("failed to marshal event: %w", err)
		}
		buf.Write(body)
	default:
		buf.Write(m.Payload)
	}

	return Packet{Type: PacketMessage, Data: buf.Bytes()}, nil
}

// Bytes returns the complete websocket frame for the message.
func (m *Message) Bytes() ([]byte, error) {
	p, err := m.Packet()
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}
