package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

var chatRoles = map[string]bool{"system": true, "user": true, "assistant": true}

// textParams validates an LLM request. A bare prompt becomes one user turn.
func textParams(req types.LLMRequest) (model.TextParams, error) {
	var p model.TextParams
	switch {
	case len(req.Messages) > 0 && req.Prompt != "":
		return p, badRequest("set either messages or prompt, not both")
	case len(req.Messages) == 0 && strings.TrimSpace(req.Prompt) == "":
		return p, badRequest("messages or prompt is required")
	case req.Prompt != "":
		p.Messages = []model.Message{{Role: "user", Content: req.Prompt}}
	default:
		for i, m := range req.Messages {
			if !chatRoles[m.Role] {
				return p, badRequest("messages[%d]: unknown role %q", i, m.Role)
			}
			p.Messages = append(p.Messages, model.Message{Role: m.Role, Content: m.Content})
		}
	}
	p.MaxTokens = orInt(req.MaxTokens, 32768)
	p.Temperature = derefFloat(req.Temperature, 0.8)
	p.TopP = derefFloat(req.TopP, 0.9)
	p.TopK = 50
	if req.TopK != nil {
		p.TopK = *req.TopK
	}
	p.RepetitionPenalty = derefFloat(req.RepetitionPenalty, 1.1)
	if err := checkRange("max_tokens", p.MaxTokens, 1, 32768); err != nil {
		return p, err
	}
	if err := checkRange("temperature", p.Temperature, 0, 2); err != nil {
		return p, err
	}
	if err := checkRange("top_p", p.TopP, 0, 1); err != nil {
		return p, err
	}
	if err := checkRange("top_k", p.TopK, 0, 1000); err != nil {
		return p, err
	}
	if err := checkRange("repetition_penalty", p.RepetitionPenalty, 1, 2); err != nil {
		return p, err
	}
	var err error
	p.Seed, err = pickSeed(req.Seed)
	return p, err
}

func (s *server) llmRequest(w http.ResponseWriter, r *http.Request) (string, model.TextParams, bool) {
	id, err := s.pickModel(r, model.KindLLM)
	if err != nil {
		fail(w, r, err)
		return "", model.TextParams{}, false
	}
	var req types.LLMRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return "", model.TextParams{}, false
	}
	p, err := textParams(req)
	if err != nil {
		fail(w, r, err)
		return "", model.TextParams{}, false
	}
	return id, p, true
}

func (s *server) complete(ctx context.Context, id string, p model.TextParams, onDelta func(*manager.Lease, string) error) (model.TextResult, error) {
	var res model.TextResult
	err := run(ctx, s.GPU, id, "text generation", func(l *manager.Lease, g model.TextGenerator) error {
		var gerr error
		var delta func(string) error
		if onDelta != nil {
			delta = func(d string) error { return onDelta(l, d) }
		}
		res, gerr = g.GenerateText(ctx, p, delta)
		return model.GenerationFailed(id, gerr)
	})
	return res, err
}

func (s *server) generateText(w http.ResponseWriter, r *http.Request) {
	id, p, ok := s.llmRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	start := time.Now()
	res, err := s.complete(ctx, id, p, nil)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.LLMResponse{
		Text:                  res.Text,
		Model:                 id,
		InputTokens:           res.InputTokens,
		OutputTokens:          res.OutputTokens,
		GenerationTimeSeconds: time.Since(start).Seconds(),
		Seed:                  p.Seed,
	})
}

// streamText emits server-sent events: one delta per frame, a final frame
// carrying finish_reason, then [DONE].
func (s *server) streamText(w http.ResponseWriter, r *http.Request) {
	id, p, ok := s.llmRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()

	var out io.Writer = w
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{prefix: "llm"})
	}
	flusher, _ := w.(http.Flusher)
	started := false
	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	begin := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		h.Set("X-Model", id)
		w.WriteHeader(http.StatusOK)
	}

	res, err := s.complete(ctx, id, p, func(l *manager.Lease, delta string) error {
		begin()
		l.Touch()
		return send(types.LLMStreamChunk{Delta: delta})
	})
	if err != nil && !started {
		fail(w, r, err)
		return
	}
	begin()
	if err != nil {
		if !aborted(r) {
			logFailure(r, http.StatusInternalServerError, err)
			_ = send(map[string]string{"error": err.Error()})
		}
		return
	}
	reason := res.FinishReason
	if reason == "" {
		reason = "stop"
	}
	_ = send(types.LLMStreamChunk{FinishReason: &reason})
	_, _ = io.WriteString(out, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
