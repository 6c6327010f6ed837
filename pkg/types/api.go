package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Machine-checkable reason string.
	// example: bad_request
	Reason string `json:"reason" example:"bad_request"`
}

// ModelInfo describes one registered model for GET /models.
type ModelInfo struct {
	// Stable identifier for the model.
	// example: z-image-turbo
	ID string `json:"id" example:"z-image-turbo"`
	// Human-friendly name.
	// example: Z-Image Turbo
	Name string `json:"name,omitempty" example:"Z-Image Turbo"`
	// Capability kind (image, audio, video, vision, llm, music, img2img).
	// example: image
	Type string `json:"type" example:"image"`
	// Approximate VRAM footprint in GB.
	// example: 22
	EstimatedVRAMGB float64 `json:"estimated_vram_gb" example:"22"`
	// Backend serving the model (sim, worker, llama-server, llama).
	// example: worker
	Backend string `json:"backend" example:"worker"`
	// Whether the model is resident on the GPU right now.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	// Model currently owning the GPU, empty when none.
	// example: z-image-turbo
	Current string `json:"current,omitempty" example:"z-image-turbo"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Models resident on the GPU.
	ModelsLoaded []string `json:"models_loaded"`
	// Model currently owning the GPU.
	CurrentModel string `json:"current_model,omitempty"`
	// Registered model ids per capability kind.
	Available map[string][]string `json:"available"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Model currently owning the GPU, empty when none.
	// example: xtts-v2
	Current string `json:"current,omitempty" example:"xtts-v2"`
	// Models whose handle reports loaded.
	Loaded []string `json:"loaded"`
	// Whether a generation currently holds the GPU.
	// example: false
	InFlight bool `json:"in_flight" example:"false"`
	// Number of callers blocked waiting for the GPU.
	// example: 0
	Waiting int64 `json:"waiting" example:"0"`
	// Seconds since the last acquire or touch.
	// example: 12.5
	IdleSeconds float64 `json:"idle_seconds" example:"12.5"`
	// Idle timeout after which the current model is unloaded (0 disables).
	// example: 300
	IdleTimeoutSeconds int `json:"idle_timeout_seconds" example:"300"`
	// example: 4
	LoadsTotal uint64 `json:"loads_total" example:"4"`
	// example: 3
	UnloadsTotal uint64 `json:"unloads_total" example:"3"`
	// example: 0
	LoadFailuresTotal uint64 `json:"load_failures_total" example:"0"`
	// Last load error observed by the coordinator.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// AspectRatio is a width:height preset for image generation.
type AspectRatio struct {
	// example: 16:9
	Ratio string `json:"ratio" example:"16:9"`
	// example: 1344
	Width int `json:"width" example:"1344"`
	// example: 768
	Height int `json:"height" example:"768"`
}

// AspectRatiosResponse lists presets at the requested base size.
type AspectRatiosResponse struct {
	// example: 1024
	BaseSize     int           `json:"base_size" example:"1024"`
	AspectRatios []AspectRatio `json:"aspect_ratios"`
}

// UnloadResponse is returned by POST /models/unload.
type UnloadResponse struct {
	// Models that were unloaded.
	Unloaded []string `json:"unloaded"`
}
