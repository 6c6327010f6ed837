package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

// musicAliases maps the public model names onto registered ids.
var musicAliases = map[string]string{
	"":                 "ace-step-turbo",
	"ace-step":         "ace-step-turbo",
	"ace-step-quality": "ace-step-sft",
}

var musicFormats = map[string]string{"wav": "audio/wav", "flac": "audio/flac", "mp3": "audio/mpeg"}

func musicExt(contentType, format string) string {
	for ext, ct := range musicFormats {
		if ct == contentType {
			return ext
		}
	}
	return format
}

func (s *server) musicModel(name string) (string, error) {
	id := name
	if alias, ok := musicAliases[name]; ok {
		id = alias
	}
	if _, err := s.requireKind(id, model.KindMusic); err != nil {
		return "", err
	}
	return id, nil
}

func musicParams(req types.MusicRequest, defSteps int) (model.MusicParams, error) {
	if err := checkText("caption", req.Caption, 1, 512); err != nil {
		return model.MusicParams{}, err
	}
	if err := checkText("lyrics", req.Lyrics, 0, 4096); err != nil {
		return model.MusicParams{}, err
	}
	p := model.MusicParams{
		Caption:       req.Caption,
		Lyrics:        req.Lyrics,
		Instrumental:  req.Instrumental,
		KeyScale:      req.KeyScale,
		TimeSignature: req.TimeSignature,
		Duration:      orFloat(req.Duration, 30),
		Steps:         orInt(req.InferenceSteps, defSteps),
		Guidance:      derefFloat(req.GuidanceScale, 7.5),
		Format:        req.AudioFormat,
		BatchSize:     orInt(req.BatchSize, 1),
	}
	if p.Format == "" {
		p.Format = "wav"
	}
	if _, ok := musicFormats[p.Format]; !ok {
		return p, badRequest("audio_format must be wav, flac or mp3")
	}
	if req.BPM != nil {
		if err := checkRange("bpm", *req.BPM, 30, 300); err != nil {
			return p, err
		}
		p.BPM = *req.BPM
	}
	if err := checkRange("duration", p.Duration, 10, 600); err != nil {
		return p, err
	}
	if err := checkRange("inference_steps", p.Steps, 1, 200); err != nil {
		return p, err
	}
	if err := checkRange("guidance_scale", p.Guidance, 1, 20); err != nil {
		return p, err
	}
	if err := checkRange("batch_size", p.BatchSize, 1, 4); err != nil {
		return p, err
	}
	var err error
	p.Seed, err = pickSeed(req.Seed)
	return p, err
}

func (s *server) submitMusic(w http.ResponseWriter, r *http.Request) {
	var req types.MusicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	id, err := s.musicModel(req.Model)
	if err != nil {
		fail(w, r, err)
		return
	}
	defSteps := 20
	if id == "ace-step-sft" {
		defSteps = 40
	}
	p, err := musicParams(req, defSteps)
	if err != nil {
		fail(w, r, err)
		return
	}
	meta := map[string]any{
		"caption":      p.Caption,
		"duration":     p.Duration,
		"audio_format": p.Format,
		"batch_size":   p.BatchSize,
	}
	job, err := s.Jobs.Submit(r.Context(), jobs.KindMusic, id, p.Steps, jobs.EstimateMusicSeconds(p.Steps), s.musicJob(id, p, meta))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *server) musicJob(id string, p model.MusicParams, meta map[string]any) jobs.Func {
	return func(ctx context.Context, rep *jobs.Reporter) (jobs.Result, error) {
		var tracks []model.Audio
		err := run(ctx, s.GPU, id, "music generation", func(l *manager.Lease, g model.MusicGenerator) error {
			t := s.Progress.Music
			t.Start(p.Steps)
			defer t.Finish()
			step := tracked(l, t)
			var gerr error
			tracks, gerr = g.GenerateMusic(ctx, p, func(n, total int) {
				rep.Step(n, total)
				step(n, total)
			})
			return model.GenerationFailed(id, gerr)
		})
		if err != nil {
			return jobs.Result{}, err
		}
		if len(tracks) == 0 {
			return jobs.Result{}, model.GenerationFailed(id, fmt.Errorf("no audio produced"))
		}
		refs := make([]string, 0, len(tracks))
		seeds := make([]int64, 0, len(tracks))
		rates := make([]int64, 0, len(tracks))
		for i, a := range tracks {
			ref := artifacts.MusicRef(rep.JobID(), i, musicExt(a.ContentType, p.Format))
			if err := s.Files.Write(ref, a.Data); err != nil {
				_ = s.Files.Remove(refs...)
				return jobs.Result{}, err
			}
			refs = append(refs, ref)
			seeds = append(seeds, a.Seed)
			rates = append(rates, int64(a.SampleRate))
		}
		meta["content_type"] = tracks[0].ContentType
		meta["seeds"] = seeds
		meta["sample_rates"] = rates
		return jobs.Result{Refs: refs, Meta: meta}, nil
	}
}

func (s *server) musicStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobOf(r, jobs.KindMusic)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, musicStatusView(job))
}

func musicStatusView(job jobs.Job) types.MusicStatusResponse {
	out := types.MusicStatusResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		Model:          job.Model,
		Progress:       job.Progress,
		CurrentStep:    job.CurrentStep,
		TotalSteps:     job.TotalSteps,
		ElapsedSeconds: job.ElapsedSeconds,
		CreatedAt:      job.CreatedAt.Unix(),
	}
	if job.Status == jobs.StatusCompleted {
		seeds := metaInts(job.Meta, "seeds")
		rates := metaInts(job.Meta, "sample_rates")
		for i := range job.ResultRefs {
			a := types.MusicAudio{Index: i, DownloadURL: fmt.Sprintf("/music/download/%s/%d", job.ID, i)}
			if i < len(seeds) {
				a.Seed = seeds[i]
			}
			if i < len(rates) {
				a.SampleRate = int(rates[i])
			}
			out.Audios = append(out.Audios, a)
		}
	}
	if job.Error != "" {
		e := job.Error
		out.Error = &e
	}
	return out
}

func (s *server) musicDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.completedJob(r, jobs.KindMusic)
	if err != nil {
		fail(w, r, err)
		return
	}
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 || i >= len(job.ResultRefs) {
		fail(w, r, notFound("track %s of job %s", chi.URLParam(r, "index"), job.ID))
		return
	}
	data, err := s.Files.Read(job.ResultRefs[i])
	if err != nil {
		fail(w, r, err)
		return
	}
	ct := metaString(job.Meta, "content_type")
	if ct == "" {
		ct = "audio/wav"
	}
	writeBlob(w, ct, data)
}
