package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

var videoBases = map[string]int{"480p": 480, "720p": 720}

// videoSize maps resolution and aspect ratio to frame dimensions; the long
// side is a multiple of 16.
func videoSize(resolution, aspectRatio string) (int, int, error) {
	base, ok := videoBases[resolution]
	if !ok {
		return 0, 0, badRequest("resolution must be 480p or 720p")
	}
	long := floorTo(base*16/9, 16)
	switch aspectRatio {
	case "16:9":
		return long, base, nil
	case "9:16":
		return base, long, nil
	case "1:1":
		return base, base, nil
	}
	return 0, 0, badRequest("aspect_ratio must be 16:9, 9:16 or 1:1")
}

func videoParams(req types.VideoRequest, i2v bool) (model.VideoParams, error) {
	if err := checkText("prompt", req.Prompt, 1, 2048); err != nil {
		return model.VideoParams{}, err
	}
	if err := checkText("negative_prompt", req.NegativePrompt, 0, 2048); err != nil {
		return model.VideoParams{}, err
	}
	res := req.Resolution
	if res == "" {
		res = "480p"
	}
	ar := req.AspectRatio
	if ar == "" {
		ar = "16:9"
	}
	width, height, err := videoSize(res, ar)
	if err != nil {
		return model.VideoParams{}, err
	}
	p := model.VideoParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          width,
		Height:         height,
		Frames:         orInt(req.NumFrames, 45),
		Steps:          orInt(req.NumInferenceSteps, 6),
		Guidance:       orFloat(req.GuidanceScale, 1.0),
		FPS:            orInt(req.FPS, 24),
	}
	if err := checkRange("num_frames", p.Frames, 25, 85); err != nil {
		return p, err
	}
	if err := checkRange("num_inference_steps", p.Steps, 1, 100); err != nil {
		return p, err
	}
	if err := checkRange("guidance_scale", p.Guidance, 1, 15); err != nil {
		return p, err
	}
	if err := checkRange("fps", p.FPS, 12, 30); err != nil {
		return p, err
	}
	if i2v {
		img, err := decodeBase64("image", req.Image)
		if err != nil {
			return p, err
		}
		if err := checkImage("image", img); err != nil {
			return p, err
		}
		p.Image = img
	} else if req.Image != "" {
		return p, badRequest("image is only accepted by /video/i2v")
	}
	p.Seed, err = pickSeed(req.Seed)
	return p, err
}

func (s *server) submitVideo(i2v bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "model")
		if _, err := s.requireKind(id, model.KindVideo); err != nil {
			fail(w, r, err)
			return
		}
		var req types.VideoRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, r, err)
			return
		}
		p, err := videoParams(req, i2v)
		if err != nil {
			fail(w, r, err)
			return
		}
		resolution, aspectRatio := req.Resolution, req.AspectRatio
		if resolution == "" {
			resolution = "480p"
		}
		if aspectRatio == "" {
			aspectRatio = "16:9"
		}
		meta := map[string]any{
			"prompt":       p.Prompt,
			"resolution":   resolution,
			"aspect_ratio": aspectRatio,
			"num_frames":   p.Frames,
			"fps":          p.FPS,
			"seed":         p.Seed,
			"i2v":          i2v,
		}
		job, err := s.Jobs.Submit(r.Context(), jobs.KindVideo, id, p.Steps, jobs.EstimateVideoSeconds(p.Steps), s.videoJob(id, p, meta))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobResponse(job))
	}
}

// videoJob renders the clip while holding the GPU and stores it with its
// thumbnail.
func (s *server) videoJob(id string, p model.VideoParams, meta map[string]any) jobs.Func {
	return func(ctx context.Context, rep *jobs.Reporter) (jobs.Result, error) {
		var v model.Video
		err := run(ctx, s.GPU, id, "video generation", func(l *manager.Lease, g model.VideoGenerator) error {
			t := s.Progress.Video
			t.Start(p.Steps)
			defer t.Finish()
			step := tracked(l, t)
			var gerr error
			v, gerr = g.GenerateVideo(ctx, p, func(n, total int) {
				rep.Step(n, total)
				step(n, total)
			})
			return model.GenerationFailed(id, gerr)
		})
		if err != nil {
			return jobs.Result{}, err
		}
		ext := "mp4"
		if strings.Contains(v.ContentType, "gif") {
			ext = "gif"
		}
		ref := artifacts.VideoRef(rep.JobID(), ext)
		if err := s.Files.Write(ref, v.Data); err != nil {
			return jobs.Result{}, err
		}
		res := jobs.Result{Refs: []string{ref}, Meta: meta}
		if len(v.Thumbnail) > 0 {
			thumb := artifacts.ThumbnailRef(rep.JobID())
			if err := s.Files.Write(thumb, v.Thumbnail); err != nil {
				_ = s.Files.Remove(ref)
				return jobs.Result{}, err
			}
			res.Thumbnail = thumb
		}
		meta["content_type"] = v.ContentType
		meta["seed"] = v.Seed
		return res, nil
	}
}

func (s *server) videoStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobOf(r, jobs.KindVideo)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videoStatusView(job))
}

func videoStatusView(job jobs.Job) types.VideoStatusResponse {
	out := types.VideoStatusResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		Model:          job.Model,
		Progress:       job.Progress,
		CurrentStep:    job.CurrentStep,
		TotalSteps:     job.TotalSteps,
		ElapsedSeconds: job.ElapsedSeconds,
		CreatedAt:      job.CreatedAt.Unix(),
	}
	if job.Status == jobs.StatusCompleted && len(job.ResultRefs) > 0 {
		u := "/video/download/" + job.ID
		out.VideoURL = &u
		if job.ThumbnailRef != "" {
			t := "/video/thumbnail/" + job.ID
			out.ThumbnailURL = &t
		}
	}
	if job.Error != "" {
		e := job.Error
		out.Error = &e
	}
	return out
}

func (s *server) videoDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.completedJob(r, jobs.KindVideo)
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(job.ResultRefs) == 0 {
		fail(w, r, notFound("video %s has no output", job.ID))
		return
	}
	data, err := s.Files.Read(job.ResultRefs[0])
	if err != nil {
		fail(w, r, err)
		return
	}
	ct := metaString(job.Meta, "content_type")
	if ct == "" {
		ct = "video/mp4"
	}
	writeBlob(w, ct, data)
}

func (s *server) videoThumbnail(w http.ResponseWriter, r *http.Request) {
	job, err := s.completedJob(r, jobs.KindVideo)
	if err != nil {
		fail(w, r, err)
		return
	}
	if job.ThumbnailRef == "" {
		fail(w, r, notFound("video %s has no thumbnail", job.ID))
		return
	}
	data, err := s.Files.Read(job.ThumbnailRef)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeBlob(w, "image/png", data)
}
