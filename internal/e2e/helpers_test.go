package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/config"
	"sillymedia/internal/httpapi"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/registry"
	"sillymedia/internal/store"
)

// stack is a full server wired the way cmd/sillymedia wires it, with every
// model on the sim backend.
type stack struct {
	srv  *httptest.Server
	gpu  *manager.Manager
	jobs *jobs.Store
	db   *store.DB
	dir  string
}

func simSpecs(stepDelay string) []config.ModelSpec {
	opts := map[string]string{"step_delay": stepDelay}
	return []config.ModelSpec{
		{ID: "z-image-turbo", Kind: "image", Options: opts},
		{ID: "qwen3-vl-8b", Kind: "vision", Options: opts},
		{ID: "huihui-qwen3-4b", Kind: "llm", Options: opts},
		{ID: "hunyuan-video", Kind: "video", Options: opts},
		{ID: "ace-step-turbo", Kind: "music", Options: opts},
	}
}

func newStack(t *testing.T, mc manager.ManagerConfig, stepDelay string) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.Models = simSpecs(stepDelay)
	if err := cfg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reg, err := registry.Build(cfg, registry.Options{Simulate: true})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	mc.Models = reg.Handles()
	gpu := manager.NewWithConfig(mc)

	db, err := store.Open(filepath.Join(dir, "silly_media.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	files, err := artifacts.Open(dir)
	if err != nil {
		t.Fatalf("open artifacts: %v", err)
	}
	js := jobs.NewStore(jobs.Options{Workers: 1, QueueSize: 8, Recorder: db, RemoveArtifacts: files.RemoveJob})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = js.Run(ctx)
	}()

	srv := httptest.NewServer(httpapi.NewMux(httpapi.Deps{GPU: gpu, Jobs: js, DB: db, Files: files}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = gpu.Close(context.Background())
		_ = db.Close()
	})
	return &stack{srv: srv, gpu: gpu, jobs: js, db: db, dir: dir}
}

func (s *stack) post(t *testing.T, path string, body any) (int, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(s.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (s *stack) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}
