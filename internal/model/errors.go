package model

import (
	"context"
	"errors"
)

// dependencyUnavailableError signals a missing runtime dependency (e.g. the
// llama build tag or an unreachable worker) so the HTTP layer can return 503.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// unsupportedError means the model does not implement the requested capability.
type unsupportedError struct{ id, capability string }

func (e unsupportedError) Error() string {
	return "model " + e.id + " does not support " + e.capability
}

func ErrUnsupported(id, capability string) error {
	return unsupportedError{id: id, capability: capability}
}

func IsUnsupported(err error) bool {
	var e unsupportedError
	return errors.As(err, &e)
}

type notLoadedError struct{ id string }

func (e notLoadedError) Error() string { return "model not loaded: " + e.id }

// ErrNotLoaded is returned by inference calls on an unloaded handle.
func ErrNotLoaded(id string) error { return notLoadedError{id: id} }

func IsNotLoaded(err error) bool {
	var e notLoadedError
	return errors.As(err, &e)
}

// generationError wraps a failure raised by a model mid-inference.
type generationError struct {
	id  string
	err error
}

func (e generationError) Error() string { return "generation failed on " + e.id + ": " + e.err.Error() }

func (e generationError) Unwrap() error { return e.err }

// GenerationFailed wraps err as a generation failure of model id. Context
// errors are returned unchanged.
func GenerationFailed(id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || IsGenerationFailure(err) {
		return err
	}
	return generationError{id: id, err: err}
}

func IsGenerationFailure(err error) bool {
	var e generationError
	return errors.As(err, &e)
}
