package httpapi

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

type teapotError struct{}

func (teapotError) Error() string   { return "short and stout" }
func (teapotError) StatusCode() int { return http.StatusTeapot }

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"bad request", badRequest("x"), http.StatusBadRequest, "bad_request"},
		{"model not found", manager.ErrModelNotFound("m"), http.StatusNotFound, "model_not_found"},
		{"job not found", jobs.ErrJobNotFound("j"), http.StatusNotFound, "job_not_found"},
		{"store not found", fmt.Errorf("actor: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"missing file", fmt.Errorf("read: %w", fs.ErrNotExist), http.StatusNotFound, "not_found"},
		{"conflict", fmt.Errorf("actor: %w", store.ErrConflict), http.StatusConflict, "conflict"},
		{"bad ref", artifacts.ErrBadRef, http.StatusBadRequest, "bad_request"},
		{"dependency", model.ErrDependencyUnavailable("no worker"), http.StatusServiceUnavailable, "dependency_unavailable"},
		{"closed", manager.ErrClosed, http.StatusServiceUnavailable, "dependency_unavailable"},
		{"load", manager.ErrModelLoad("m", errors.New("oom")), http.StatusInternalServerError, "model_load_failed"},
		{"unsupported", model.ErrUnsupported("m", "vision analysis"), http.StatusBadRequest, "bad_request"},
		{"generation", model.GenerationFailed("m", errors.New("nan")), http.StatusInternalServerError, "generation_failed"},
		{"http error", teapotError{}, http.StatusTeapot, "internal"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, reason := statusFor(tc.err)
			if status != tc.status || reason != tc.reason {
				t.Fatalf("statusFor(%v) = %d %q, want %d %q", tc.err, status, reason, tc.status, tc.reason)
			}
		})
	}
}

func TestFail_WritesJSONError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	fail(w, r, manager.ErrModelNotFound("ghost"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody[types.ErrorResponse](t, w)
	if body.Reason != "model_not_found" || body.Code != http.StatusNotFound || body.Error != "model not found: ghost" {
		t.Fatalf("body=%+v", body)
	}
}
