package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"sillymedia/internal/common/fsutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SILLY_MEDIA_"

// Model kinds accepted in ModelSpec.Kind.
var validKinds = map[string]bool{
	"image": true, "audio": true, "video": true, "vision": true,
	"llm": true, "music": true, "img2img": true,
}

// Backends accepted in ModelSpec.Backend.
var validBackends = map[string]bool{
	"sim": true, "worker": true, "llama-server": true, "llama": true,
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file"`
	// Rotation for LogFile.
	LogMaxSizeMB  int `json:"log_max_size_mb" yaml:"log_max_size_mb" toml:"log_max_size_mb"`
	LogMaxBackups int `json:"log_max_backups" yaml:"log_max_backups" toml:"log_max_backups"`

	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	DBPath  string `json:"db_path" yaml:"db_path" toml:"db_path"`

	// Coordinator.
	IdleTimeoutSeconds int      `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	ReaperInterval     Duration `json:"reaper_interval" yaml:"reaper_interval" toml:"reaper_interval"`
	PreloadOnStartup   bool     `json:"preload_on_startup" yaml:"preload_on_startup" toml:"preload_on_startup"`
	DefaultModel       string   `json:"default_model" yaml:"default_model" toml:"default_model"`
	MaxQueueDepth      int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait            Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`

	// HTTP.
	MaxUpload   ByteSize `json:"max_upload" yaml:"max_upload" toml:"max_upload"`
	MaxBody     ByteSize `json:"max_body" yaml:"max_body" toml:"max_body"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// Jobs.
	JobWorkers        int      `json:"job_workers" yaml:"job_workers" toml:"job_workers"`
	JobQueueSize      int      `json:"job_queue_size" yaml:"job_queue_size" toml:"job_queue_size"`
	JobRetention      Duration `json:"job_retention" yaml:"job_retention" toml:"job_retention"`
	RetentionSchedule string   `json:"retention_schedule" yaml:"retention_schedule" toml:"retention_schedule"`

	// Events.
	NATSURL     string `json:"nats_url" yaml:"nats_url" toml:"nats_url"`
	NATSSubject string `json:"nats_subject" yaml:"nats_subject" toml:"nats_subject"`

	// Backends.
	DefaultBackend string `json:"default_backend" yaml:"default_backend" toml:"default_backend"`
	WorkerURL      string `json:"worker_url" yaml:"worker_url" toml:"worker_url"`
	LlamaServerBin string `json:"llama_server_bin" yaml:"llama_server_bin" toml:"llama_server_bin"`
	LLMModelsDir   string `json:"llm_models_dir" yaml:"llm_models_dir" toml:"llm_models_dir"`

	// Generation defaults.
	DefaultInferenceSteps int     `json:"default_inference_steps" yaml:"default_inference_steps" toml:"default_inference_steps"`
	DefaultCFGScale       float64 `json:"default_cfg_scale" yaml:"default_cfg_scale" toml:"default_cfg_scale"`
	DefaultWidth          int     `json:"default_width" yaml:"default_width" toml:"default_width"`
	DefaultHeight         int     `json:"default_height" yaml:"default_height" toml:"default_height"`

	Models []ModelSpec `json:"models" yaml:"models" toml:"models"`
}

// ModelSpec declares one model and the backend that serves it.
type ModelSpec struct {
	ID              string            `json:"id" yaml:"id" toml:"id"`
	Kind            string            `json:"kind" yaml:"kind" toml:"kind"`
	DisplayName     string            `json:"display_name" yaml:"display_name" toml:"display_name"`
	EstimatedVRAMGB float64           `json:"estimated_vram_gb" yaml:"estimated_vram_gb" toml:"estimated_vram_gb"`
	Backend         string            `json:"backend" yaml:"backend" toml:"backend"`
	URL             string            `json:"url" yaml:"url" toml:"url"`
	Path            string            `json:"path" yaml:"path" toml:"path"`
	Options         map[string]string `json:"options" yaml:"options" toml:"options"`
}

// Defaults returns the configuration used when nothing else is specified.
func Defaults() Config {
	return Config{
		Addr:                  "0.0.0.0:4201",
		LogLevel:              "info",
		LogFormat:             "console",
		LogMaxSizeMB:          100,
		LogMaxBackups:         3,
		DataDir:               "~/.local/share/silly-media",
		IdleTimeoutSeconds:    300,
		ReaperInterval:        Duration(5 * time.Second),
		PreloadOnStartup:      true,
		DefaultModel:          "z-image-turbo",
		MaxQueueDepth:         32,
		MaxUpload:             ByteSize(50 * units.MiB),
		MaxBody:               ByteSize(20 * units.MiB),
		JobWorkers:            1,
		JobQueueSize:          64,
		JobRetention:          Duration(24 * time.Hour),
		RetentionSchedule:     "@every 10m",
		NATSSubject:           "silly_media.events",
		DefaultBackend:        "worker",
		WorkerURL:             "http://127.0.0.1:4202",
		LlamaServerBin:        "llama-server",
		DefaultInferenceSteps: 50,
		DefaultCFGScale:       5.0,
		DefaultWidth:          1024,
		DefaultHeight:         1024,
	}
}

// ApplyEnv overlays SILLY_MEDIA_* environment variables onto cfg.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	text := func(key string, dst interface{ UnmarshalText([]byte) error }) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}

	// PORT and HOST mirror the historical deployment variables.
	host, port := splitHostPort(c.Addr)
	str("HOST", &host)
	str("PORT", &port)
	c.Addr = host + ":" + port
	str("ADDR", &c.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_FILE", &c.LogFile)
	str("DATA_DIR", &c.DataDir)
	str("DB_PATH", &c.DBPath)
	num("MODEL_IDLE_TIMEOUT", &c.IdleTimeoutSeconds)
	text("REAPER_INTERVAL", &c.ReaperInterval)
	boolean("MODEL_PRELOAD", &c.PreloadOnStartup)
	str("DEFAULT_MODEL", &c.DefaultModel)
	num("MAX_QUEUE_DEPTH", &c.MaxQueueDepth)
	text("MAX_WAIT", &c.MaxWait)
	text("MAX_UPLOAD", &c.MaxUpload)
	text("MAX_BODY", &c.MaxBody)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = SplitCSV(v)
	}
	num("JOB_WORKERS", &c.JobWorkers)
	text("JOB_RETENTION", &c.JobRetention)
	str("RETENTION_SCHEDULE", &c.RetentionSchedule)
	str("NATS_URL", &c.NATSURL)
	str("NATS_SUBJECT", &c.NATSSubject)
	str("DEFAULT_BACKEND", &c.DefaultBackend)
	str("WORKER_URL", &c.WorkerURL)
	str("LLAMA_SERVER_BIN", &c.LlamaServerBin)
	str("LLM_MODELS_DIR", &c.LLMModelsDir)
	num("DEFAULT_INFERENCE_STEPS", &c.DefaultInferenceSteps)
	num("DEFAULT_WIDTH", &c.DefaultWidth)
	num("DEFAULT_HEIGHT", &c.DefaultHeight)
	return errors.Join(errs...)
}

// Resolve expands '~' in filesystem paths and derives DBPath from DataDir.
func (c *Config) Resolve() error {
	dir, err := fsutil.ExpandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "silly_media.db")
	} else if c.DBPath, err = fsutil.ExpandHome(c.DBPath); err != nil {
		return err
	}
	if c.LogFile != "" {
		if c.LogFile, err = fsutil.ExpandHome(c.LogFile); err != nil {
			return err
		}
	}
	if c.LLMModelsDir != "" {
		if c.LLMModelsDir, err = fsutil.ExpandHome(c.LLMModelsDir); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.IdleTimeoutSeconds < 0 {
		errs = append(errs, errors.New("idle_timeout_seconds must be >= 0"))
	}
	if c.ReaperInterval.Std() <= 0 {
		errs = append(errs, errors.New("reaper_interval must be > 0"))
	}
	if c.MaxQueueDepth < 0 {
		errs = append(errs, errors.New("max_queue_depth must be >= 0"))
	}
	if c.JobWorkers < 1 {
		errs = append(errs, errors.New("job_workers must be >= 1"))
	}
	if c.JobQueueSize < 1 {
		errs = append(errs, errors.New("job_queue_size must be >= 1"))
	}
	if !validBackends[c.DefaultBackend] {
		errs = append(errs, fmt.Errorf("default_backend %q is not one of sim, worker, llama-server, llama", c.DefaultBackend))
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id is required", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
		if !validKinds[m.Kind] {
			errs = append(errs, fmt.Errorf("models[%d] %s: unknown kind %q", i, m.ID, m.Kind))
		}
		if m.Backend != "" && !validBackends[m.Backend] {
			errs = append(errs, fmt.Errorf("models[%d] %s: unknown backend %q", i, m.ID, m.Backend))
		}
		if m.EstimatedVRAMGB < 0 {
			errs = append(errs, fmt.Errorf("models[%d] %s: estimated_vram_gb must be >= 0", i, m.ID))
		}
	}
	return errors.Join(errs...)
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitHostPort(addr string) (string, string) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, "4201"
	}
	return addr[:i], addr[i+1:]
}

// LookupEnv is the default environment source.
var LookupEnv = os.LookupEnv
