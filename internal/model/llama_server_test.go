package model

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// buildFakeServer builds the fake llama server and returns its path.
func buildFakeServer(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func TestLlamaServerLoadGenerateUnload(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeServer(t)
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	h := NewLlamaServer(Descriptor{ID: "qwen.gguf", Kind: KindLLM}, "qwen.gguf", LlamaServerOptions{Bin: bin, ReadyTimeout: 10 * time.Second, Logger: &logger})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := h.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !h.Loaded() || h.BaseURL() == "" {
		t.Fatalf("expected loaded with base url")
	}
	var deltas []string
	res, err := h.GenerateText(ctx, TextParams{Messages: []Message{{Role: "user", Content: "hi"}}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "Hello world" || strings.Join(deltas, "") != "Hello world" {
		t.Fatalf("text=%q deltas=%v", res.Text, deltas)
	}
	if res.InputTokens != 3 || res.OutputTokens != 2 || res.FinishReason != "stop" {
		t.Fatalf("usage=%+v", res)
	}
	if err := h.Unload(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if h.Loaded() || h.BaseURL() != "" {
		t.Fatalf("expected unloaded")
	}
	for _, want := range []string{`"component":"llama-server"`, `"model":"qwen.gguf"`, "llama-server ready", "llama-server stopped"} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("log output missing %s:\n%s", want, logs.String())
		}
	}
	if _, err := h.GenerateText(ctx, TextParams{}, nil); !IsNotLoaded(err) {
		t.Fatalf("expected not loaded, got %v", err)
	}
}

func TestLlamaServerEarlyExit(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeServer(t)
	h := NewLlamaServer(Descriptor{ID: "fail", Kind: KindLLM}, "fail.gguf", LlamaServerOptions{Bin: bin, ReadyTimeout: 10 * time.Second})
	err := h.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("expected early exit with stderr tail, got %v", err)
	}
	if h.Loaded() {
		t.Fatalf("handle must stay unloaded")
	}
}

func TestLlamaServerMissingBinary(t *testing.T) {
	h := NewLlamaServer(Descriptor{ID: "x", Kind: KindLLM}, "x.gguf", LlamaServerOptions{Bin: "/nonexistent/llama-server"})
	if err := h.Load(context.Background()); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestParseLlamaServerOptions(t *testing.T) {
	o, err := ParseLlamaServerOptions("bin", map[string]string{"ctx_size": "4096", "ngl": "99", "extra_args": "--flash-attn --mlock", "ready_timeout": "5s"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.CtxSize != 4096 || o.NGL != 99 || len(o.ExtraArgs) != 2 || o.ReadyTimeout != 5*time.Second {
		t.Fatalf("opts=%+v", o)
	}
	if _, err := ParseLlamaServerOptions("bin", map[string]string{"threads": "lots"}); err == nil {
		t.Fatalf("expected error")
	}
}
