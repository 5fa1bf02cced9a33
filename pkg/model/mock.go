package model

import (
	"context"
	"sync"

	"github.com/teslashibe/go-drive/pkg/preprocess"
)

// Mock implements Predictor for testing.
type Mock struct {
	// PredictFunc is called when Predict is invoked. When nil, Predict
	// returns Angle.
	PredictFunc func(ctx context.Context, t *preprocess.Tensor) (float64, error)

	// Angle is the fixed steering angle returned without PredictFunc.
	Angle float64

	mu     sync.Mutex
	calls  int
	closed bool
}

// NewMock returns a mock that always predicts angle.
func NewMock(angle float64) *Mock {
	return &Mock{Angle: angle}
}

// Predict implements Predictor.
func (m *Mock) Predict(ctx context.Context, t *preprocess.Tensor) (float64, error) {
	m.mu.Lock()
	m.calls++
	fn := m.PredictFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, t)
	}
	return m.Angle, nil
}

// Close implements Predictor.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls returns how many times Predict was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Ensure implementations satisfy Predictor
var (
	_ Predictor = (*NetModel)(nil)
	_ Predictor = (*RemoteModel)(nil)
	_ Predictor = (*Mock)(nil)
)
