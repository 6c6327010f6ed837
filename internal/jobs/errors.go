package jobs

import "errors"

type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string { return "job not found: " + e.id }

// ErrJobNotFound is returned for unknown or already deleted ids.
func ErrJobNotFound(id string) error { return jobNotFoundError{id: id} }

func IsJobNotFound(err error) bool {
	var e jobNotFoundError
	return errors.As(err, &e)
}

// jobBusyError is returned when deleting a job that is processing.
type jobBusyError struct{ id string }

func (e jobBusyError) Error() string { return "job is processing: " + e.id }

func IsJobBusy(err error) bool {
	var e jobBusyError
	return errors.As(err, &e)
}

type queueFullError struct{ kind Kind }

func (e queueFullError) Error() string { return string(e.kind) + " job queue is full" }

func IsQueueFull(err error) bool {
	var e queueFullError
	return errors.As(err, &e)
}
