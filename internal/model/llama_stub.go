//go:build !llama

package model

import "context"

// Llama is the in-process llama.cpp backend. This build lacks the 'llama'
// tag, so Load always fails.
type Llama struct {
	base
}

func NewLlama(desc Descriptor, path string, ctxSize, threads int) *Llama {
	if desc.Backend == "" {
		desc.Backend = "llama"
	}
	return &Llama{base: base{desc: desc}}
}

func (l *Llama) Load(ctx context.Context) error {
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (l *Llama) Unload() error {
	l.loaded.Store(false)
	return nil
}

func (l *Llama) GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error) {
	return TextResult{}, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
