package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/teslashibe/go-drive/internal/httpc"
	"github.com/teslashibe/go-drive/pkg/preprocess"
)

// RemoteModel calls a TensorFlow Serving style REST predict endpoint, e.g.
// http://localhost:8501/v1/models/steering:predict.
type RemoteModel struct {
	url    string
	client *http.Client
}

// predictRequest is the row-format request body.
type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

// predictResponse accepts both [[x]] and [x] prediction shapes.
type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// NewRemote creates a remote predictor. A nil client uses the shared
// httpc.Client.
func NewRemote(endpoint string, client *http.Client) (*RemoteModel, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: remote URL is empty", ErrModelNotFound)
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("model: invalid remote URL %q", endpoint)
	}
	if client == nil {
		client = httpc.Client
	}
	return &RemoteModel{url: endpoint, client: client}, nil
}

// Predict posts the tensor and returns the first prediction.
func (m *RemoteModel) Predict(ctx context.Context, t *preprocess.Tensor) (float64, error) {
	req := predictRequest{Instances: [][][][]float32{t.Nested()}}

	var resp predictResponse
	if err := httpc.PostJSON(ctx, m.client, m.url, req, &resp); err != nil {
		return 0, &RemoteError{URL: m.url, Err: err}
	}
	if resp.Error != "" {
		return 0, &RemoteError{URL: m.url, Err: errors.New(resp.Error)}
	}
	if len(resp.Predictions) == 0 {
		return 0, &RemoteError{URL: m.url, Err: ErrNoOutput}
	}

	v, err := firstValue(resp.Predictions[0])
	if err != nil {
		return 0, &RemoteError{URL: m.url, Err: err}
	}
	return v, nil
}

// firstValue unwraps nested single-element arrays down to a number.
func firstValue(raw json.RawMessage) (float64, error) {
	for depth := 0; depth < 4; depth++ {
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return 0, fmt.Errorf("unexpected prediction %s", raw)
		}
		if len(arr) == 0 {
			return 0, ErrNoOutput
		}
		raw = arr[0]
	}
	return 0, fmt.Errorf("prediction nested too deeply")
}

// URL returns the predict endpoint.
func (m *RemoteModel) URL() string {
	return m.url
}

// Close is a no-op; idle connections belong to the shared client.
func (m *RemoteModel) Close() error {
	return nil
}
