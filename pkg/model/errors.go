package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrModelNotFound is returned when the model artifact does not exist.
	ErrModelNotFound = errors.New("model: artifact not found")

	// ErrEmptyModel is returned when the artifact loads but holds no network.
	ErrEmptyModel = errors.New("model: failed to load network")

	// ErrUnknownFormat is returned for artifacts with an unsupported extension.
	ErrUnknownFormat = errors.New("model: unknown artifact format")

	// ErrUnknownBackend is returned for an unrecognized backend name.
	ErrUnknownBackend = errors.New("model: unknown backend")

	// ErrNoOutput is returned when inference yields no value.
	ErrNoOutput = errors.New("model: no output")

	// ErrClosed is returned when predicting on a closed model.
	ErrClosed = errors.New("model: closed")
)

// RemoteError wraps a failure from a remote model server.
type RemoteError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("model [remote %s]: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}
