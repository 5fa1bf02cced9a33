// Package model wraps the pretrained steering model behind a single
// capability: predict a steering angle from a normalized frame.
//
// Backends:
//   - NetModel: an ONNX or TensorFlow graph run in-process with OpenCV DNN
//   - RemoteModel: a TensorFlow Serving compatible REST endpoint
//   - Mock: a function, for tests
//
// Models are loaded once at startup and never mutated afterwards.
package model

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-drive/pkg/preprocess"
)

// Predictor is the inference interface used by the autopilot.
type Predictor interface {
	// Predict returns the model's steering angle for the tensor, unclamped.
	Predict(ctx context.Context, t *preprocess.Tensor) (float64, error)

	// Close releases resources
	Close() error
}

// Layout is the memory order the model expects its input in.
type Layout string

const (
	LayoutNHWC Layout = "nhwc" // Keras default
	LayoutNCHW Layout = "nchw"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendRemote = "remote"
)

// Config holds model configuration
type Config struct {
	Backend string // "file" or "remote"
	Path    string // Path to .onnx / .pb artifact
	URL     string // Remote predict endpoint
	Layout  Layout // Input layout for the file backend
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Backend: BackendFile,
		Path:    "model/model.onnx",
		Layout:  LayoutNHWC,
	}
}

// Load creates the predictor described by cfg. Any error here is fatal for
// the process.
func Load(cfg Config) (Predictor, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return LoadNet(cfg)
	case BackendRemote:
		return NewRemote(cfg.URL, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
