package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SILLY_MEDIA_PORT":               "5000",
		"SILLY_MEDIA_MODEL_IDLE_TIMEOUT": "0",
		"SILLY_MEDIA_MODEL_PRELOAD":      "false",
		"SILLY_MEDIA_MAX_WAIT":           "10s",
		"SILLY_MEDIA_CORS_ORIGINS":       "http://a, http://b ,",
		"SILLY_MEDIA_MAX_UPLOAD":         "1GB",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Addr != "0.0.0.0:5000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.IdleTimeoutSeconds != 0 || cfg.PreloadOnStartup {
		t.Fatalf("coordinator env not applied: %+v", cfg)
	}
	if cfg.MaxWait.Std() != 10*time.Second {
		t.Fatalf("max_wait=%v", cfg.MaxWait.Std())
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors=%v", cfg.CORSOrigins)
	}
	if cfg.MaxUpload.Int64() != 1<<30 {
		t.Fatalf("max_upload=%d", cfg.MaxUpload.Int64())
	}
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SILLY_MEDIA_JOB_WORKERS":   "many",
		"SILLY_MEDIA_MODEL_PRELOAD": "perhaps",
	}))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "JOB_WORKERS") || !strings.Contains(err.Error(), "MODEL_PRELOAD") {
		t.Fatalf("both errors should be reported: %v", err)
	}
}

func TestValidateModels(t *testing.T) {
	cfg := Defaults()
	cfg.Models = []ModelSpec{
		{ID: "a", Kind: "image"},
		{ID: "a", Kind: "image"},
		{ID: "b", Kind: "hologram"},
		{ID: "c", Kind: "llm", Backend: "carrier-pigeon"},
		{Kind: "audio"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"duplicate id", "unknown kind", "unknown backend", "id is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestResolveDerivesDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	if err := cfg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DBPath != filepath.Join(cfg.DataDir, "silly_media.db") {
		t.Fatalf("db_path=%q", cfg.DBPath)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":           nil,
		"   ":        nil,
		"a":          {"a"},
		"a, b,,c ,":  {"a", "b", "c"},
	}
	for in, want := range cases {
		got := SplitCSV(in)
		if len(got) != len(want) {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%q: got %v want %v", in, got, want)
			}
		}
	}
}
