package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

// HTTPError allows collaborators to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// requestError is a client-facing error raised by the handlers themselves.
type requestError struct {
	status int
	reason string
	msg    string
}

func (e requestError) Error() string   { return e.msg }
func (e requestError) StatusCode() int { return e.status }

func badRequest(format string, args ...any) error {
	return requestError{status: http.StatusBadRequest, reason: "bad_request", msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return requestError{status: http.StatusNotFound, reason: "not_found", msg: fmt.Sprintf(format, args...)}
}

func unsupportedMediaType(msg string) error {
	return requestError{status: http.StatusUnsupportedMediaType, reason: "unsupported_media_type", msg: msg}
}

// statusFor maps an error to its HTTP status and machine reason.
func statusFor(err error) (int, string) {
	var re requestError
	var he HTTPError
	switch {
	case errors.As(err, &re):
		return re.status, re.reason
	case manager.IsModelNotFound(err):
		return http.StatusNotFound, "model_not_found"
	case manager.IsTooBusy(err), jobs.IsQueueFull(err):
		return http.StatusTooManyRequests, "too_busy"
	case jobs.IsJobNotFound(err):
		return http.StatusNotFound, "job_not_found"
	case jobs.IsJobBusy(err):
		return http.StatusConflict, "job_busy"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, artifacts.ErrBadRef):
		return http.StatusBadRequest, "bad_request"
	case model.IsDependencyUnavailable(err), errors.Is(err, manager.ErrClosed):
		return http.StatusServiceUnavailable, "dependency_unavailable"
	case manager.IsModelLoad(err):
		return http.StatusInternalServerError, "model_load_failed"
	case model.IsUnsupported(err):
		return http.StatusBadRequest, "bad_request"
	case model.IsGenerationFailure(err):
		return http.StatusInternalServerError, "generation_failed"
	case errors.As(err, &he):
		return he.StatusCode(), reasonForStatus(he.StatusCode())
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func reasonForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "too_busy"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusServiceUnavailable:
		return "dependency_unavailable"
	default:
		return "internal"
	}
}

// fail writes err as a JSON error unless the client is already gone.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if aborted(r) {
		return
	}
	status, reason := statusFor(err)
	switch {
	case manager.IsTooBusy(err):
		IncrementBackpressure(manager.TooBusyReason(err))
	case jobs.IsQueueFull(err):
		IncrementBackpressure("job_queue_full")
	}
	logFailure(r, status, err)
	writeJSONError(w, status, reason, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, reason, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Reason: reason})
}
