package types

// VideoRequest is the body of POST /video/t2v/{model} and /video/i2v/{model}.
type VideoRequest struct {
	// example: A paper boat drifting down a rainy street
	Prompt         string `json:"prompt" example:"A paper boat drifting down a rainy street"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// 480p or 720p.
	// example: 480p
	Resolution string `json:"resolution,omitempty" example:"480p"`
	// 16:9, 9:16 or 1:1.
	// example: 16:9
	AspectRatio string `json:"aspect_ratio,omitempty" example:"16:9"`
	// example: 45
	NumFrames int `json:"num_frames,omitempty" example:"45"`
	// example: 6
	NumInferenceSteps int `json:"num_inference_steps,omitempty" example:"6"`
	// example: 1
	GuidanceScale float64 `json:"guidance_scale,omitempty" example:"1"`
	Seed          *int64  `json:"seed,omitempty"`
	// example: 24
	FPS int `json:"fps,omitempty" example:"24"`
	// Base64 reference image, required for i2v.
	Image string `json:"image,omitempty"`
}

// JobResponse is returned when a job is submitted.
type JobResponse struct {
	// example: 3f2a9c1d
	JobID string `json:"job_id" example:"3f2a9c1d"`
	// example: queued
	Status string `json:"status" example:"queued"`
	// example: 9
	EstimatedTimeSeconds float64 `json:"estimated_time_seconds" example:"9"`
}

// VideoStatusResponse is returned by GET /video/status/{id}.
type VideoStatusResponse struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Model          string  `json:"model,omitempty"`
	Progress       float64 `json:"progress"`
	CurrentStep    int     `json:"current_step"`
	TotalSteps     int     `json:"total_steps"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	VideoURL       *string `json:"video_url"`
	ThumbnailURL   *string `json:"thumbnail_url"`
	Error          *string `json:"error"`
	CreatedAt      int64   `json:"created_at_unix"`
}

// MusicRequest is the body of POST /music/generate.
type MusicRequest struct {
	// example: Lo-fi hip hop with warm keys
	Caption      string `json:"caption" example:"Lo-fi hip hop with warm keys"`
	Lyrics       string `json:"lyrics,omitempty"`
	Instrumental bool   `json:"instrumental,omitempty"`
	// example: 90
	BPM           *int   `json:"bpm,omitempty" example:"90"`
	KeyScale      string `json:"keyscale,omitempty" example:"C major"`
	TimeSignature string `json:"timesignature,omitempty" example:"4"`
	// Seconds of audio.
	// example: 30
	Duration       float64  `json:"duration,omitempty" example:"30"`
	InferenceSteps int      `json:"inference_steps,omitempty" example:"20"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty" example:"7.5"`
	Seed           *int64   `json:"seed,omitempty"`
	// wav, flac or mp3.
	// example: wav
	AudioFormat string `json:"audio_format,omitempty" example:"wav"`
	// example: 1
	BatchSize int `json:"batch_size,omitempty" example:"1"`
	// ace-step (fast) or ace-step-quality.
	// example: ace-step
	Model string `json:"model,omitempty" example:"ace-step"`
}

// MusicAudio is one generated track of a music job.
type MusicAudio struct {
	Index       int    `json:"index"`
	Seed        int64  `json:"seed"`
	SampleRate  int    `json:"sample_rate"`
	DownloadURL string `json:"download_url"`
}

// MusicStatusResponse is returned by GET /music/status/{id}.
type MusicStatusResponse struct {
	JobID          string       `json:"job_id"`
	Status         string       `json:"status"`
	Model          string       `json:"model,omitempty"`
	Progress       float64      `json:"progress"`
	CurrentStep    int          `json:"current_step"`
	TotalSteps     int          `json:"total_steps"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	Audios         []MusicAudio `json:"audios,omitempty"`
	Error          *string      `json:"error"`
	CreatedAt      int64        `json:"created_at_unix"`
}

// JobModel describes a job-capable model for /video/models and /music/models.
type JobModel struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	Loaded          bool    `json:"loaded"`
	EstimatedVRAMGB float64 `json:"estimated_vram_gb"`
	SupportsT2V     bool    `json:"supports_t2v,omitempty"`
	SupportsI2V     bool    `json:"supports_i2v,omitempty"`
}

// HistoryPage wraps paged history listings.
type HistoryPage[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
