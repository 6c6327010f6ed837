package manager

import "errors"

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("gpu coordinator closed")

// tooBusyError signals queue overflow or wait timeout for 429 mapping.
type tooBusyError struct {
	modelID string
	reason  string
}

func (e tooBusyError) Error() string { return "too busy (" + e.reason + "): " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// TooBusyReason returns "queue_full" or "wait_timeout" for too-busy errors.
func TooBusyReason(err error) string {
	var e tooBusyError
	if errors.As(err, &e) {
		return e.reason
	}
	return ""
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model id is not registered.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// modelLoadError wraps the cause of a failed Load.
type modelLoadError struct {
	id  string
	err error
}

func (e modelLoadError) Error() string { return "failed to load model " + e.id + ": " + e.err.Error() }

func (e modelLoadError) Unwrap() error { return e.err }

func ErrModelLoad(id string, err error) error { return modelLoadError{id: id, err: err} }

func IsModelLoad(err error) bool {
	var e modelLoadError
	return errors.As(err, &e)
}
