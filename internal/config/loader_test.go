package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: ":9999"
idle_timeout_seconds: 60
reaper_interval: 2s
preload_on_startup: false
default_model: xtts-v2
max_upload: 8MB
models:
  - id: xtts-v2
    kind: audio
    backend: sim
    estimated_vram_gb: 2
    options:
      step_delay: 5ms
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.IdleTimeoutSeconds != 60 || cfg.PreloadOnStartup || cfg.DefaultModel != "xtts-v2" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.ReaperInterval.Std() != 2*time.Second {
		t.Fatalf("reaper_interval=%v", cfg.ReaperInterval.Std())
	}
	if cfg.MaxUpload.Int64() != 8<<20 {
		t.Fatalf("max_upload=%d", cfg.MaxUpload.Int64())
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Options["step_delay"] != "5ms" {
		t.Fatalf("models=%+v", cfg.Models)
	}
	// Unset keys keep their defaults.
	if cfg.JobWorkers != 1 || cfg.NATSSubject != "silly_media.events" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","max_wait":"3s","job_retention":"1h","models":[{"id":"m","kind":"image"}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.MaxWait.Std() != 3*time.Second || cfg.JobRetention.Std() != time.Hour {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Kind != "image" {
		t.Fatalf("models=%+v", cfg.Models)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\ndefault_model=\"m3\"\nreaper_interval=\"250ms\"\n\n[[models]]\nid=\"m3\"\nkind=\"llm\"\nbackend=\"llama-server\"\npath=\"/models/m3.gguf\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.DefaultModel != "m3" || cfg.ReaperInterval.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Path != "/models/m3.gguf" {
		t.Fatalf("models=%+v", cfg.Models)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}
