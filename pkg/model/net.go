package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-drive/pkg/preprocess"
)

// NetModel runs an exported steering network with OpenCV's DNN module.
type NetModel struct {
	net    gocv.Net
	config Config
	size   int64 // artifact size in bytes
	mu     sync.Mutex
	closed bool
}

// LoadNet loads an ONNX (.onnx) or frozen TensorFlow (.pb) graph.
func LoadNet(cfg Config) (*NetModel, error) {
	// Check if model file exists first
	info, err := os.Stat(cfg.Path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("model: stat %s: %w", cfg.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnknownFormat, cfg.Path)
	}

	if cfg.Layout == "" {
		cfg.Layout = LayoutNHWC
	}
	if cfg.Layout != LayoutNHWC && cfg.Layout != LayoutNCHW {
		return nil, fmt.Errorf("model: unknown layout %q", cfg.Layout)
	}

	var net gocv.Net
	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".onnx":
		net = gocv.ReadNetFromONNX(cfg.Path)
	case ".pb":
		net = gocv.ReadNetFromTensorflow(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s (want .onnx or .pb)", ErrUnknownFormat, cfg.Path)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w from %s", ErrEmptyModel, cfg.Path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &NetModel{
		net:    net,
		config: cfg,
		size:   info.Size(),
	}, nil
}

// Predict runs one forward pass and returns the first output value.
func (m *NetModel) Predict(ctx context.Context, t *preprocess.Tensor) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	// The blob borrows buf; it must stay reachable until Forward returns.
	blob, buf, err := m.blob(t)
	if err != nil {
		return 0, fmt.Errorf("model: build input: %w", err)
	}
	defer blob.Close()

	m.net.SetInput(blob, "")

	output := m.net.Forward("")
	defer output.Close()
	runtime.KeepAlive(buf)

	if output.Empty() || output.Total() < 1 {
		return 0, ErrNoOutput
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return 0, fmt.Errorf("model: read output: %w", err)
	}
	if len(data) == 0 {
		return 0, ErrNoOutput
	}
	return float64(data[0]), nil
}

// blob wraps the tensor in a 4-D float Mat in the configured layout.
func (m *NetModel) blob(t *preprocess.Tensor) (gocv.Mat, []byte, error) {
	if m.config.Layout == LayoutNCHW {
		sizes := []int{1, preprocess.Channels, preprocess.OutputHeight, preprocess.OutputWidth}
		buf := t.PlanarBytes()
		mat, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, buf)
		return mat, buf, err
	}
	shape := t.Shape()
	buf := t.Bytes()
	mat, err := gocv.NewMatWithSizesFromBytes(shape[:], gocv.MatTypeCV32F, buf)
	return mat, buf, err
}

// Path returns the artifact the model was loaded from.
func (m *NetModel) Path() string {
	return m.config.Path
}

// Size returns the artifact size in bytes.
func (m *NetModel) Size() int64 {
	return m.size
}

// Close releases the network.
func (m *NetModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}
