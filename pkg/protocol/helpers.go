package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event names exchanged with the simulator.
const (
	// Simulator → server
	EventConnect   = "connect"
	EventTelemetry = "telemetry"

	// Server → simulator
	EventSteer  = "steer"
	EventManual = "manual"
)

// ErrMissingField is returned when a required payload field is absent.
var ErrMissingField = errors.New("protocol: missing field")

// =============================================================================
// Simulator → Server payloads
// =============================================================================

// Number is a numeric field the simulator may send either as a JSON number
// or as a decimal string. The raw text is kept as received.
type Number string

// UnmarshalJSON accepts "1.5", 1.5 and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("protocol: number: %w", err)
	}
	*n = Number(num)
	return nil
}

// Float64 parses the value. An empty Number reports ErrMissingField.
func (n Number) Float64() (float64, error) {
	if n == "" {
		return 0, ErrMissingField
	}
	return strconv.ParseFloat(string(n), 64)
}

// TelemetryData is one simulator tick.
type TelemetryData struct {
	Speed Number `json:"speed"`
	Image string `json:"image"` // base64 PNG or JPEG

	// Echo of the simulator's current actuator state; informational only.
	SteeringAngle Number `json:"steering_angle,omitempty"`
	Throttle      Number `json:"throttle,omitempty"`
}

// SpeedValue returns the parsed speed.
func (t *TelemetryData) SpeedValue() (float64, error) {
	v, err := t.Speed.Float64()
	if err != nil {
		return 0, fmt.Errorf("speed: %w", err)
	}
	return v, nil
}

// DecodeImage decodes the base64 image data.
func (t *TelemetryData) DecodeImage() ([]byte, error) {
	if t.Image == "" {
		return nil, fmt.Errorf("image: %w", ErrMissingField)
	}
	return base64.StdEncoding.DecodeString(t.Image)
}

// NewTelemetryData builds a telemetry payload from raw image bytes.
func NewTelemetryData(speed float64, image []byte) TelemetryData {
	return TelemetryData{
		Speed: Number(FormatFloat(speed)),
		Image: base64.StdEncoding.EncodeToString(image),
	}
}

// IsEmptyPayload reports whether raw event data counts as "no data":
// absent, null, false, zero, or an empty string, object or array, in any
// JSON spelling. Malformed JSON is not empty.
func IsEmptyPayload(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

// =============================================================================
// Server → Simulator payloads
// =============================================================================

// SteerData is the control command. Values travel as decimal strings.
type SteerData struct {
	SteeringAngle string `json:"steering_angle"`
	Throttle      string `json:"throttle"`
}

// NewSteerData formats a steering angle and throttle for the wire.
func NewSteerData(steeringAngle, throttle float64) SteerData {
	return SteerData{
		SteeringAngle: FormatFloat(steeringAngle),
		Throttle:      FormatFloat(throttle),
	}
}

// Values parses both fields back to floats.
func (s SteerData) Values() (steeringAngle, throttle float64, err error) {
	if steeringAngle, err = strconv.ParseFloat(s.SteeringAngle, 64); err != nil {
		return 0, 0, fmt.Errorf("steering_angle: %w", err)
	}
	if throttle, err = strconv.ParseFloat(s.Throttle, 64); err != nil {
		return 0, 0, fmt.Errorf("throttle: %w", err)
	}
	return steeringAngle, throttle, nil
}

// ManualData is the (empty) payload of the manual-mode signal.
type ManualData struct{}

// NewTelemetryMessage creates a telemetry event message.
func NewTelemetryMessage(speed float64, image []byte) (*Message, error) {
	return NewMessage(EventTelemetry, NewTelemetryData(speed, image))
}

// GetSteerData extracts a steer command from a message.
func (m *Message) GetSteerData() (*SteerData, error) {
	var data SteerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FormatFloat renders v in the shortest form that parses back to v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
