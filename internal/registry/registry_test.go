package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sillymedia/internal/config"
	"sillymedia/internal/model"
)

func TestBuildCatalogSimulated(t *testing.T) {
	cfg := config.Defaults()
	r, err := Build(cfg, Options{Simulate: true})
	require.NoError(t, err)
	require.Len(t, r.Handles(), len(Catalog()))
	require.Equal(t, []string{"hunyuan-video"}, r.IDs(model.KindVideo))
	require.Equal(t, []string{"ace-step-turbo", "ace-step-sft"}, r.IDs(model.KindMusic))

	h, ok := r.Get("xtts-v2")
	require.True(t, ok)
	require.Equal(t, 2.0, h.Descriptor().EstimatedVRAMGB)
	require.Equal(t, "sim", h.Descriptor().Backend)
	_, isSim := h.(*model.Sim)
	require.True(t, isSim)
	require.True(t, r.Has("xtts-v2", model.KindAudio))
	require.False(t, r.Has("xtts-v2", model.KindImage))
}

func TestBuildConfiguredBackends(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.gguf"), []byte("x"), 0o644))
	cfg := config.Defaults()
	cfg.LLMModelsDir = dir
	cfg.Models = []config.ModelSpec{
		{ID: "img", Kind: "image", Backend: "worker", URL: "http://gpu:9000"},
		{ID: "mystery", Kind: "vision"},
		{ID: "local", Kind: "llm", Backend: "llama", Path: "/m/local.gguf"},
	}
	r, err := Build(cfg, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"img", "mystery", "local", "tiny"}, r.IDs(""))

	h, _ := r.Get("img")
	_, isWorker := h.(*model.Worker)
	require.True(t, isWorker)
	h, _ = r.Get("mystery")
	require.Equal(t, "worker", h.Descriptor().Backend)
	require.Equal(t, DefaultVRAMGB, h.Descriptor().EstimatedVRAMGB)
	h, _ = r.Get("tiny")
	_, isLlamaServer := h.(*model.LlamaServer)
	require.True(t, isLlamaServer)
	h, _ = r.Get("local")
	_, isLlama := h.(*model.Llama)
	require.True(t, isLlama)
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Models = []config.ModelSpec{{ID: "x", Kind: "image", Backend: "llama-server"}}
	_, err := Build(cfg, Options{})
	require.Error(t, err)

	cfg.Models = []config.ModelSpec{{ID: "x", Kind: "image", Backend: "sim"}, {ID: "x", Kind: "audio", Backend: "sim"}}
	_, err = Build(cfg, Options{})
	require.ErrorContains(t, err, "duplicate")
}
