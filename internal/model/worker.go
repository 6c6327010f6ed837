package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Worker drives a model hosted by an out-of-process GPU worker. The worker
// speaks a small HTTP protocol:
//
//	POST /load          {"model": id, "kind": kind}
//	POST /unload        {"model": id}
//	POST /empty_cache   {}
//	POST /infer/{cap}   {"model": id, "params": {...}}  -> NDJSON events
//
// Inference answers with newline-delimited workerEvent values; the last one
// has done=true or a non-empty error.
type Worker struct {
	base
	url         string
	client      *http.Client
	loadTimeout time.Duration
}

// Unload and cache release use their own deadline; the coordinator calls
// them without a request context.
const workerControlTimeout = 2 * time.Minute

// defaultWorkerLoadTimeout bounds /load; the coordinator holds the GPU while
// it runs.
const defaultWorkerLoadTimeout = 10 * time.Minute

// WorkerOptions configure a worker-backed handle.
type WorkerOptions struct {
	HTTPClient  *http.Client
	LoadTimeout time.Duration
}

// ParseWorkerOptions reads load_timeout from a model's option map.
func ParseWorkerOptions(client *http.Client, opts map[string]string) (WorkerOptions, error) {
	o := WorkerOptions{HTTPClient: client}
	if v := opts["load_timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return o, fmt.Errorf("load_timeout: %w", err)
		}
		if d <= 0 {
			return o, fmt.Errorf("load_timeout must be > 0")
		}
		o.LoadTimeout = d
	}
	return o, nil
}

// NewWorker returns an unloaded handle bound to the worker at baseURL.
func NewWorker(desc Descriptor, baseURL string, opts WorkerOptions) *Worker {
	client := opts.HTTPClient
	if client == nil {
		// Timeout=0: every call carries a context deadline instead.
		client = &http.Client{Timeout: 0}
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultWorkerLoadTimeout
	}
	if desc.Backend == "" {
		desc.Backend = "worker"
	}
	return &Worker{base: base{desc: desc}, url: strings.TrimRight(baseURL, "/"), client: client, loadTimeout: opts.LoadTimeout}
}

type workerOutput struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	Seed        int64  `json:"seed"`
	SampleRate  int    `json:"sample_rate"`
	Thumbnail   []byte `json:"thumbnail,omitempty"`
}

type workerEvent struct {
	Step         int            `json:"step,omitempty"`
	Total        int            `json:"total,omitempty"`
	Delta        string         `json:"delta,omitempty"`
	Chunk        []byte         `json:"chunk,omitempty"`
	SampleRate   int            `json:"sample_rate,omitempty"`
	Done         bool           `json:"done,omitempty"`
	Outputs      []workerOutput `json:"outputs,omitempty"`
	Text         string         `json:"text,omitempty"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func (w *Worker) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrDependencyUnavailable(fmt.Sprintf("worker %s unreachable: %v", w.url, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("worker %s%s: %s: %s", w.url, path, resp.Status, strings.TrimSpace(string(tail)))
	}
	return resp, nil
}

func (w *Worker) control(ctx context.Context, path string, body any) error {
	resp, err := w.post(ctx, path, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Load gives up after the load timeout even when ctx has no deadline.
func (w *Worker) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.loadTimeout)
	defer cancel()
	if err := w.control(ctx, "/load", map[string]any{"model": w.desc.ID, "kind": w.desc.Kind}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("worker %s: load of %s timed out after %s: %w", w.url, w.desc.ID, w.loadTimeout, err)
		}
		return err
	}
	w.loaded.Store(true)
	return nil
}

// Unload always clears the loaded flag, even when the worker call fails.
func (w *Worker) Unload() error {
	defer w.loaded.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), workerControlTimeout)
	defer cancel()
	return w.control(ctx, "/unload", map[string]any{"model": w.desc.ID})
}

func (w *Worker) ReleaseCache() error {
	ctx, cancel := context.WithTimeout(context.Background(), workerControlTimeout)
	defer cancel()
	return w.control(ctx, "/empty_cache", map[string]any{})
}

// infer streams events for one inference call and returns the final event.
func (w *Worker) infer(ctx context.Context, capability string, params any, onEvent func(workerEvent) error) (workerEvent, error) {
	if err := w.requireLoaded(); err != nil {
		return workerEvent{}, err
	}
	resp, err := w.post(ctx, "/infer/"+capability, map[string]any{"model": w.desc.ID, "params": params})
	if err != nil {
		return workerEvent{}, err
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var ev workerEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return workerEvent{}, fmt.Errorf("worker event: %w", err)
			}
			if ev.Error != "" {
				return workerEvent{}, errors.New(ev.Error)
			}
			if ev.Done {
				return ev, nil
			}
			if onEvent != nil {
				if err := onEvent(ev); err != nil {
					return workerEvent{}, err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return workerEvent{}, errors.New("worker stream ended before done")
			}
			if ctx.Err() != nil {
				return workerEvent{}, ctx.Err()
			}
			return workerEvent{}, rerr
		}
	}
}

func stepEvents(onStep StepFunc) func(workerEvent) error {
	return func(ev workerEvent) error {
		if ev.Total > 0 {
			onStep.call(ev.Step, ev.Total)
		}
		return nil
	}
}

func firstOutput(ev workerEvent) (workerOutput, error) {
	if len(ev.Outputs) == 0 {
		return workerOutput{}, errors.New("worker returned no outputs")
	}
	return ev.Outputs[0], nil
}

func (w *Worker) GenerateImage(ctx context.Context, p ImageParams, onStep StepFunc) (Image, error) {
	ev, err := w.infer(ctx, "image", p, stepEvents(onStep))
	if err != nil {
		return Image{}, err
	}
	out, err := firstOutput(ev)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: out.Data, ContentType: orDefault(out.ContentType, "image/png"), Seed: out.Seed}, nil
}

func (w *Worker) EditImage(ctx context.Context, p EditParams, onStep StepFunc) (Image, error) {
	ev, err := w.infer(ctx, "img2img", p, stepEvents(onStep))
	if err != nil {
		return Image{}, err
	}
	out, err := firstOutput(ev)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: out.Data, ContentType: orDefault(out.ContentType, "image/png"), Seed: out.Seed}, nil
}

func (w *Worker) Synthesize(ctx context.Context, p SpeechParams) (Audio, error) {
	ev, err := w.infer(ctx, "tts", p, nil)
	if err != nil {
		return Audio{}, err
	}
	out, err := firstOutput(ev)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: out.Data, ContentType: orDefault(out.ContentType, "audio/wav"), SampleRate: out.SampleRate, Seed: out.Seed}, nil
}

func (w *Worker) SynthesizeStream(ctx context.Context, p SpeechParams, onChunk func(AudioChunk) error) error {
	_, err := w.infer(ctx, "tts_stream", p, func(ev workerEvent) error {
		if len(ev.Chunk) == 0 {
			return nil
		}
		return onChunk(AudioChunk{PCM: ev.Chunk, SampleRate: ev.SampleRate})
	})
	return err
}

func (w *Worker) GenerateVideo(ctx context.Context, p VideoParams, onStep StepFunc) (Video, error) {
	ev, err := w.infer(ctx, "video", p, stepEvents(onStep))
	if err != nil {
		return Video{}, err
	}
	out, err := firstOutput(ev)
	if err != nil {
		return Video{}, err
	}
	return Video{Data: out.Data, ContentType: orDefault(out.ContentType, "video/mp4"), Thumbnail: out.Thumbnail, Seed: out.Seed}, nil
}

func (w *Worker) Analyze(ctx context.Context, p VisionParams) (string, error) {
	ev, err := w.infer(ctx, "vision", p, nil)
	if err != nil {
		return "", err
	}
	return ev.Text, nil
}

func (w *Worker) GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error) {
	ev, err := w.infer(ctx, "llm", p, func(ev workerEvent) error {
		if ev.Delta == "" || onDelta == nil {
			return nil
		}
		return onDelta(ev.Delta)
	})
	if err != nil {
		return TextResult{}, err
	}
	return TextResult{Text: ev.Text, InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens, FinishReason: orDefault(ev.FinishReason, "stop")}, nil
}

func (w *Worker) GenerateMusic(ctx context.Context, p MusicParams, onStep StepFunc) ([]Audio, error) {
	ev, err := w.infer(ctx, "music", p, stepEvents(onStep))
	if err != nil {
		return nil, err
	}
	if len(ev.Outputs) == 0 {
		return nil, errors.New("worker returned no outputs")
	}
	out := make([]Audio, 0, len(ev.Outputs))
	for _, o := range ev.Outputs {
		out = append(out, Audio{Data: o.Data, ContentType: orDefault(o.ContentType, "audio/wav"), SampleRate: o.SampleRate, Seed: o.Seed})
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
