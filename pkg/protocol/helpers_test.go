package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTelemetryData_Speed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantErr bool
	}{
		{name: "string speed", payload: `{"speed":"8.5","image":""}`, want: 8.5},
		{name: "number speed", payload: `{"speed":8,"image":""}`, want: 8},
		{name: "zero speed", payload: `{"speed":"0"}`, want: 0},
		{name: "missing speed", payload: `{"image":"abc"}`, wantErr: true},
		{name: "null speed", payload: `{"speed":null}`, wantErr: true},
		{name: "garbage speed", payload: `{"speed":"fast"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data TelemetryData
			if err := json.Unmarshal([]byte(tt.payload), &data); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			got, err := data.SpeedValue()
			if (err != nil) != tt.wantErr {
				t.Fatalf("SpeedValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("SpeedValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTelemetryData_MissingSpeedIsMissingField(t *testing.T) {
	var data TelemetryData
	_, err := data.SpeedValue()
	if !errors.Is(err, ErrMissingField) {
		t.Errorf("error = %v, want ErrMissingField", err)
	}
}

func TestTelemetryMessage(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}

	msg, err := NewTelemetryMessage(8, image)
	if err != nil {
		t.Fatalf("NewTelemetryMessage() error = %v", err)
	}
	if msg.Event != EventTelemetry {
		t.Errorf("Event = %q, want telemetry", msg.Event)
	}

	var data TelemetryData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	speed, err := data.SpeedValue()
	if err != nil || speed != 8 {
		t.Errorf("speed = %v, %v; want 8", speed, err)
	}

	decoded, err := data.DecodeImage()
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	if string(decoded) != string(image) {
		t.Errorf("decoded = %v, want %v", decoded, image)
	}
}

func TestDecodeImage_Errors(t *testing.T) {
	if _, err := (&TelemetryData{}).DecodeImage(); !errors.Is(err, ErrMissingField) {
		t.Errorf("empty image: error = %v, want ErrMissingField", err)
	}
	if _, err := (&TelemetryData{Image: "%%%"}).DecodeImage(); err == nil {
		t.Error("invalid base64 should fail")
	}
}

func TestIsEmptyPayload(t *testing.T) {
	empty := []string{"", " ", "null", "{}", "{ }", "{\n}", "[]", "[ ]", `""`, "false", "0", "0.0", "-0", "0e3"}
	for _, raw := range empty {
		if !IsEmptyPayload(json.RawMessage(raw)) {
			t.Errorf("IsEmptyPayload(%q) = false, want true", raw)
		}
	}

	present := []string{`{"speed":"1"}`, `{"speed":null}`, `[1]`, `[null]`, `"x"`, `" "`, "true", "1", "0.5", "{", "nul"}
	for _, raw := range present {
		if IsEmptyPayload(json.RawMessage(raw)) {
			t.Errorf("IsEmptyPayload(%q) = true, want false", raw)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	speed := 8.0
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{0.5, "0.5"},
		{-1, "-1"},
		{1.0 - speed/10, "0.19999999999999996"},
		{-0.0123, "-0.0123"},
		{-2, "-2"},
		{1234567, "1.234567e+06"},
	}

	for _, tt := range tests {
		if got := FormatFloat(tt.in); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
