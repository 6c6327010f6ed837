// Package registry resolves model ids to handles at startup.
package registry

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"sillymedia/internal/config"
	"sillymedia/internal/model"
)

// Registry is an immutable id -> Handle table in registration order.
type Registry struct {
	handles map[string]model.Handle
	order   []string
}

// New indexes handles, rejecting duplicate ids.
func New(handles ...model.Handle) (*Registry, error) {
	r := &Registry{handles: make(map[string]model.Handle, len(handles))}
	for _, h := range handles {
		id := h.Descriptor().ID
		if _, dup := r.handles[id]; dup {
			return nil, fmt.Errorf("duplicate model id %q", id)
		}
		r.handles[id] = h
		r.order = append(r.order, id)
	}
	return r, nil
}

func (r *Registry) Get(id string) (model.Handle, bool) {
	h, ok := r.handles[id]
	return h, ok
}

// Handles returns every handle in registration order.
func (r *Registry) Handles() []model.Handle {
	out := make([]model.Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id])
	}
	return out
}

// IDs returns model ids of the given kind, or all ids when kind is empty.
func (r *Registry) IDs(kind model.Kind) []string {
	var out []string
	for _, id := range r.order {
		if kind == "" || r.handles[id].Descriptor().Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// Has reports whether id is registered with the given kind.
func (r *Registry) Has(id string, kind model.Kind) bool {
	h, ok := r.handles[id]
	return ok && h.Descriptor().Kind == kind
}

// Options control how Build turns specs into handles.
type Options struct {
	// Simulate forces every model onto the sim backend.
	Simulate   bool
	HTTPClient *http.Client
	// Logger is handed to backends that log on their own.
	Logger     *zerolog.Logger
}

// Build creates the registry from cfg: configured models (or the built-in
// catalog) plus any *.gguf found in cfg.LLMModelsDir.
func Build(cfg config.Config, opts Options) (*Registry, error) {
	specs := cfg.Models
	if len(specs) == 0 {
		specs = Catalog()
	}
	if cfg.LLMModelsDir != "" {
		found, err := LoadDir(cfg.LLMModelsDir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.LLMModelsDir, err)
		}
		specs = append(append([]config.ModelSpec(nil), specs...), found...)
	}
	handles := make([]model.Handle, 0, len(specs))
	for _, s := range specs {
		h, err := newHandle(cfg, s, opts)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", s.ID, err)
		}
		handles = append(handles, h)
	}
	return New(handles...)
}

func newHandle(cfg config.Config, s config.ModelSpec, opts Options) (model.Handle, error) {
	backend := s.Backend
	if backend == "" {
		backend = cfg.DefaultBackend
	}
	if opts.Simulate {
		backend = "sim"
	}
	desc := model.Descriptor{
		ID:              s.ID,
		Kind:            model.Kind(s.Kind),
		DisplayName:     s.DisplayName,
		EstimatedVRAMGB: s.EstimatedVRAMGB,
		Backend:         backend,
	}
	if desc.EstimatedVRAMGB == 0 {
		desc.EstimatedVRAMGB = EstimatedVRAMGB(s.ID)
	}
	switch backend {
	case "sim":
		o, err := model.ParseSimOptions(s.Options)
		if err != nil {
			return nil, err
		}
		return model.NewSim(desc, o), nil
	case "worker":
		url := s.URL
		if url == "" {
			url = cfg.WorkerURL
		}
		if url == "" {
			return nil, fmt.Errorf("worker backend needs url or worker_url")
		}
		o, err := model.ParseWorkerOptions(opts.HTTPClient, s.Options)
		if err != nil {
			return nil, err
		}
		return model.NewWorker(desc, url, o), nil
	case "llama-server":
		if desc.Kind != model.KindLLM {
			return nil, fmt.Errorf("llama-server backend only serves llm models")
		}
		o, err := model.ParseLlamaServerOptions(cfg.LlamaServerBin, s.Options)
		if err != nil {
			return nil, err
		}
		o.Logger = opts.Logger
		return model.NewLlamaServer(desc, s.Path, o), nil
	case "llama":
		if desc.Kind != model.KindLLM {
			return nil, fmt.Errorf("llama backend only serves llm models")
		}
		o, err := model.ParseLlamaServerOptions("", s.Options)
		if err != nil {
			return nil, err
		}
		return model.NewLlama(desc, s.Path, o.CtxSize, o.Threads), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
