package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/jobs"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

func jobResponse(j jobs.Job) types.JobResponse {
	return types.JobResponse{JobID: j.ID, Status: string(j.Status), EstimatedTimeSeconds: j.EstimatedSeconds}
}

// jobOf loads {id} and hides jobs of another kind.
func (s *server) jobOf(r *http.Request, kind jobs.Kind) (jobs.Job, error) {
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.Get(r.Context(), id)
	if err != nil {
		return jobs.Job{}, err
	}
	if job.Kind != kind {
		return jobs.Job{}, jobs.ErrJobNotFound(id)
	}
	return job, nil
}

func (s *server) completedJob(r *http.Request, kind jobs.Kind) (jobs.Job, error) {
	job, err := s.jobOf(r, kind)
	if err != nil {
		return job, err
	}
	if job.Status != jobs.StatusCompleted {
		return job, badRequest("job %s is %s", job.ID, job.Status)
	}
	return job, nil
}

func (s *server) jobHistory(kind jobs.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r, 50)
		if err != nil {
			fail(w, r, err)
			return
		}
		list, err := s.Jobs.List(r.Context(), kind, limit, offset)
		if err != nil {
			fail(w, r, err)
			return
		}
		switch kind {
		case jobs.KindVideo:
			items := make([]types.VideoStatusResponse, 0, len(list))
			for _, j := range list {
				items = append(items, videoStatusView(j))
			}
			writeJSON(w, http.StatusOK, types.HistoryPage[types.VideoStatusResponse]{Items: items, Limit: limit, Offset: offset})
		default:
			items := make([]types.MusicStatusResponse, 0, len(list))
			for _, j := range list {
				items = append(items, musicStatusView(j))
			}
			writeJSON(w, http.StatusOK, types.HistoryPage[types.MusicStatusResponse]{Items: items, Limit: limit, Offset: offset})
		}
	}
}

func (s *server) deleteJob(kind jobs.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobOf(r, kind)
		if err != nil {
			fail(w, r, err)
			return
		}
		if err := s.Jobs.Delete(r.Context(), job.ID); err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "job_id": job.ID})
	}
}

// jobModels lists the registered models of kind with their residency.
func (s *server) jobModels(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loaded := s.loadedSet()
		out := []types.JobModel{}
		for _, d := range s.GPU.Models() {
			if d.Kind != kind {
				continue
			}
			m := types.JobModel{ID: d.ID, Name: d.DisplayName, Loaded: loaded[d.ID], EstimatedVRAMGB: d.EstimatedVRAMGB}
			if kind == model.KindVideo {
				m.SupportsT2V, m.SupportsI2V = true, true
			}
			out = append(out, m)
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": out})
	}
}

// Job meta round-trips through JSON once persisted, so numbers may come
// back as float64.

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaInts(m map[string]any, key string) []int64 {
	switch v := m[key].(type) {
	case []int64:
		return v
	case []int:
		out := make([]int64, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out
	case []any:
		out := make([]int64, 0, len(v))
		for _, x := range v {
			switch n := x.(type) {
			case float64:
				out = append(out, int64(n))
			case int64:
				out = append(out, n)
			case int:
				out = append(out, int64(n))
			}
		}
		return out
	}
	return nil
}
