//go:build llama

package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// Llama runs a gguf model in process through go-llama.cpp.
type Llama struct {
	base
	path    string
	ctxSize int
	threads int

	mu sync.Mutex
	m  *llama.LLama
}

func NewLlama(desc Descriptor, path string, ctxSize, threads int) *Llama {
	if desc.Backend == "" {
		desc.Backend = "llama"
	}
	return &Llama{base: base{desc: desc}, path: path, ctxSize: ctxSize, threads: threads}
}

func (l *Llama) Load(ctx context.Context) error {
	if strings.TrimSpace(l.path) == "" {
		return errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var opts []llama.ModelOption
	if l.ctxSize > 0 {
		opts = append(opts, llama.SetContext(l.ctxSize))
	}
	m, err := llama.New(l.path, opts...)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.m = m
	l.mu.Unlock()
	l.loaded.Store(true)
	return nil
}

func (l *Llama) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m != nil {
		l.m.Free()
		l.m = nil
	}
	l.loaded.Store(false)
	return nil
}

func (l *Llama) GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		return TextResult{}, ErrNotLoaded(l.desc.ID)
	}
	var cbErr error
	out := 0
	l.m.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		out++
		if onDelta != nil {
			if cbErr = onDelta(tok); cbErr != nil {
				return false
			}
		}
		return true
	})
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, l.threads)),
		llama.SetTopK(orInt(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTopP(orFloat(float32(p.TopP), llama.DefaultOptions.TopP)),
		llama.SetTemperature(orFloat(float32(p.Temperature), llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orFloat(float32(p.RepetitionPenalty), llama.DefaultOptions.Penalty)),
		llama.SetStopWords("<|im_end|>"),
	}
	if p.Seed > 0 {
		po = append(po, llama.SetSeed(int(p.Seed)))
	}
	text, err := l.m.Predict(chatPrompt(p.Messages), po...)
	if cbErr != nil {
		return TextResult{}, cbErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return TextResult{}, ctx.Err()
		}
		return TextResult{}, err
	}
	return TextResult{Text: text, OutputTokens: out, FinishReason: "stop"}, nil
}

// chatPrompt renders messages with the ChatML template used by Qwen models.
func chatPrompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|im_start|>" + m.Role + "\n" + m.Content + "<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
