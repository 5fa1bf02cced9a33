// Package autopilot turns simulator telemetry into steering commands.
//
// Each telemetry event is handled on its own: the camera frame is
// preprocessed, the model predicts a steering angle, and the throttle
// follows from the current speed. Events without data put the simulator
// into manual mode.
package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-drive/internal/log"
	"github.com/teslashibe/go-drive/pkg/control"
	"github.com/teslashibe/go-drive/pkg/model"
	"github.com/teslashibe/go-drive/pkg/preprocess"
	"github.com/teslashibe/go-drive/pkg/protocol"
	"github.com/teslashibe/go-drive/pkg/session"
)

// Config holds handler parameters.
type Config struct {
	SpeedLimit float64
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() Config {
	return Config{SpeedLimit: control.DefaultSpeedLimit}
}

// Command is one control command.
type Command struct {
	SteeringAngle float64
	Throttle      float64
}

// Wire returns the command as the simulator expects it.
func (c Command) Wire() protocol.SteerData {
	return protocol.NewSteerData(c.SteeringAngle, c.Throttle)
}

// Handler handles simulator events.
type Handler struct {
	policy  control.Policy
	model   model.Predictor
	logger  *slog.Logger
	metrics *MetricsCollector
}

// NewHandler creates a handler around a loaded predictor. A nil logger
// uses the package default.
func NewHandler(cfg Config, predictor model.Predictor, logger *slog.Logger) *Handler {
	if cfg.SpeedLimit == 0 {
		cfg.SpeedLimit = control.DefaultSpeedLimit
	}
	if logger == nil {
		logger = log.L()
	}
	return &Handler{
		policy:  control.NewPolicy(cfg.SpeedLimit),
		model:   predictor,
		logger:  logger.With("component", "autopilot"),
		metrics: NewMetricsCollector(),
	}
}

// Routes returns the event table for the session hub.
func (h *Handler) Routes() session.Dispatch {
	return session.Dispatch{
		protocol.EventConnect:   h.Connect,
		protocol.EventTelemetry: h.Telemetry,
	}
}

// Connect greets a new session with a neutral command.
func (h *Handler) Connect(ctx context.Context, ev session.Event, out session.Emitter) error {
	h.logger.Info("connect", "session", ev.SessionID)
	return out.Emit(protocol.EventSteer, Command{}.Wire(), "")
}

// Telemetry answers one telemetry event with exactly one steer command, or
// with a manual signal when the event carries no data. On error nothing
// is emitted.
func (h *Handler) Telemetry(ctx context.Context, ev session.Event, out session.Emitter) error {
	if protocol.IsEmptyPayload(ev.Data) {
		if err := out.Emit(protocol.EventManual, protocol.ManualData{}, ""); err != nil {
			h.metrics.RecordFailure()
			return fmt.Errorf("autopilot: emit manual: %w", err)
		}
		h.metrics.RecordManual()
		return nil
	}

	start := time.Now()
	cmd, timings, err := h.drive(ctx, ev.Data)
	if err != nil {
		h.metrics.RecordFailure()
		return err
	}

	if err := out.Emit(protocol.EventSteer, cmd.Wire(), ""); err != nil {
		h.metrics.RecordFailure()
		return fmt.Errorf("autopilot: emit steer: %w", err)
	}
	timings.Total = time.Since(start)
	h.metrics.RecordSteer(cmd, timings)

	h.logger.Info("steer",
		"steering_angle", fmt.Sprintf("%.4f", cmd.SteeringAngle),
		"throttle", fmt.Sprintf("%.4f", cmd.Throttle))
	h.logger.Debug("latency", "session", ev.SessionID, "timings", timings.String())
	return nil
}

// drive decodes a telemetry payload and computes the command for it.
func (h *Handler) drive(ctx context.Context, raw json.RawMessage) (Command, Timings, error) {
	start := time.Now()

	var data protocol.TelemetryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Command{}, Timings{}, fmt.Errorf("autopilot: decode telemetry: %w", err)
	}
	speed, err := data.SpeedValue()
	if err != nil {
		return Command{}, Timings{}, fmt.Errorf("autopilot: decode telemetry: %w", err)
	}
	img, err := data.DecodeImage()
	if err != nil {
		return Command{}, Timings{}, fmt.Errorf("autopilot: decode telemetry: %w", err)
	}
	frame, err := preprocess.Decode(img)
	defer frame.Close()
	if err != nil {
		return Command{}, Timings{}, fmt.Errorf("autopilot: decode telemetry: %w", err)
	}

	timings := Timings{Decode: time.Since(start)}
	cmd, err := h.step(ctx, frame, speed, &timings)
	if err != nil {
		return Command{}, Timings{}, err
	}
	return cmd, timings, nil
}

// Step computes the command for an already decoded RGB frame.
func (h *Handler) Step(ctx context.Context, frame gocv.Mat, speed float64) (Command, error) {
	var timings Timings
	return h.step(ctx, frame, speed, &timings)
}

func (h *Handler) step(ctx context.Context, frame gocv.Mat, speed float64, timings *Timings) (Command, error) {
	t0 := time.Now()
	tensor, err := preprocess.Preprocess(frame)
	if err != nil {
		return Command{}, fmt.Errorf("autopilot: preprocess: %w", err)
	}
	t1 := time.Now()
	timings.Preprocess = t1.Sub(t0)

	angle, err := h.model.Predict(ctx, tensor)
	if err != nil {
		return Command{}, fmt.Errorf("autopilot: predict: %w", err)
	}
	timings.Inference = time.Since(t1)

	return Command{
		SteeringAngle: angle,
		Throttle:      h.policy.Throttle(speed),
	}, nil
}

// Stats returns a snapshot of the handler metrics.
func (h *Handler) Stats() Metrics {
	return h.metrics.Snapshot()
}
