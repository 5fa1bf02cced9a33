package autopilot

import (
	"sync"
	"time"
)

// historySize is how many steered events the rolling averages cover.
const historySize = 100

// Timings tracks latency at each stage of one telemetry event.
type Timings struct {
	Decode     time.Duration `json:"decode_ns"`     // base64 + image decode
	Preprocess time.Duration `json:"preprocess_ns"` // crop, YUV, blur, resize, scale
	Inference  time.Duration `json:"inference_ns"`  // model forward pass
	Total      time.Duration `json:"total_ns"`      // event received to steer queued
}

// String returns a formatted summary of the stage latencies.
func (t Timings) String() string {
	return formatDuration(t.Decode) + " decode | " +
		formatDuration(t.Preprocess) + " preprocess | " +
		formatDuration(t.Inference) + " inference | " +
		formatDuration(t.Total) + " total"
}

// Metrics is a snapshot of handler activity.
type Metrics struct {
	Steer  uint64 `json:"steer"`
	Manual uint64 `json:"manual"`
	Failed uint64 `json:"failed"`

	Last    Timings `json:"last"`
	Average Timings `json:"average"`

	// Last command sent
	SteeringAngle float64 `json:"steering_angle"`
	Throttle      float64 `json:"throttle"`
}

// MetricsCollector collects handler metrics. It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Timings // Recent events for averaging
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Timings, 0, historySize),
	}
}

// RecordSteer records a steered event and its timings.
func (m *MetricsCollector) RecordSteer(cmd Command, t Timings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.Steer++
	m.current.Last = t
	m.current.SteeringAngle = cmd.SteeringAngle
	m.current.Throttle = cmd.Throttle

	m.history = append(m.history, t)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
}

// RecordManual counts a manual-mode signal.
func (m *MetricsCollector) RecordManual() {
	m.mu.Lock()
	m.current.Manual++
	m.mu.Unlock()
}

// RecordFailure counts an event that produced no command.
func (m *MetricsCollector) RecordFailure() {
	m.mu.Lock()
	m.current.Failed++
	m.mu.Unlock()
}

// Snapshot returns the counters, the last timings and the rolling average.
func (m *MetricsCollector) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.current
	out.Average = m.average()
	return out
}

// average must be called with mutex held.
func (m *MetricsCollector) average() Timings {
	if len(m.history) == 0 {
		return Timings{}
	}

	var avg Timings
	for _, h := range m.history {
		avg.Decode += h.Decode
		avg.Preprocess += h.Preprocess
		avg.Inference += h.Inference
		avg.Total += h.Total
	}

	n := time.Duration(len(m.history))
	avg.Decode /= n
	avg.Preprocess /= n
	avg.Inference /= n
	avg.Total /= n

	return avg
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Microsecond).String()
}
