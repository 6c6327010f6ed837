package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// SimOptions tune the simulated backend.
type SimOptions struct {
	LoadDelay    time.Duration
	StepDelay    time.Duration
	FailLoad     bool
	FailGenerate bool
}

// ParseSimOptions reads load_delay, step_delay, fail_load and fail_generate.
func ParseSimOptions(opts map[string]string) (SimOptions, error) {
	var o SimOptions
	var err error
	if v := opts["load_delay"]; v != "" {
		if o.LoadDelay, err = time.ParseDuration(v); err != nil {
			return o, fmt.Errorf("load_delay: %w", err)
		}
	}
	if v := opts["step_delay"]; v != "" {
		if o.StepDelay, err = time.ParseDuration(v); err != nil {
			return o, fmt.Errorf("step_delay: %w", err)
		}
	}
	if v := opts["fail_load"]; v != "" {
		if o.FailLoad, err = strconv.ParseBool(v); err != nil {
			return o, fmt.Errorf("fail_load: %w", err)
		}
	}
	if v := opts["fail_generate"]; v != "" {
		if o.FailGenerate, err = strconv.ParseBool(v); err != nil {
			return o, fmt.Errorf("fail_generate: %w", err)
		}
	}
	return o, nil
}

// ErrSimulatedOOM is what a sim handle configured with FailLoad returns.
var ErrSimulatedOOM = errors.New("CUDA out of memory (simulated)")

// Sim is a deterministic stand-in for a GPU model. It implements every
// capability interface so any kind can be simulated.
type Sim struct {
	base
	opts SimOptions

	loads         atomic.Int64
	unloads       atomic.Int64
	cacheReleases atomic.Int64
}

// NewSim returns an unloaded simulated handle.
func NewSim(desc Descriptor, opts SimOptions) *Sim {
	if desc.Backend == "" {
		desc.Backend = "sim"
	}
	return &Sim{base: base{desc: desc}, opts: opts}
}

func (s *Sim) Load(ctx context.Context) error {
	if err := sleepCtx(ctx, s.opts.LoadDelay); err != nil {
		return err
	}
	if s.opts.FailLoad {
		return ErrSimulatedOOM
	}
	s.loads.Add(1)
	s.loaded.Store(true)
	return nil
}

func (s *Sim) Unload() error {
	if s.loaded.Swap(false) {
		s.unloads.Add(1)
	}
	return nil
}

func (s *Sim) ReleaseCache() error {
	s.cacheReleases.Add(1)
	return nil
}

// Loads reports how many times Load succeeded.
func (s *Sim) Loads() int64 { return s.loads.Load() }

// Unloads reports how many loaded-to-unloaded transitions happened.
func (s *Sim) Unloads() int64 { return s.unloads.Load() }

// CacheReleases reports how many times ReleaseCache ran.
func (s *Sim) CacheReleases() int64 { return s.cacheReleases.Load() }

func (s *Sim) run(ctx context.Context, total int, onStep StepFunc) error {
	if err := s.requireLoaded(); err != nil {
		return err
	}
	if total < 1 {
		total = 1
	}
	for i := 1; i <= total; i++ {
		if err := sleepCtx(ctx, s.opts.StepDelay); err != nil {
			return err
		}
		onStep.call(i, total)
	}
	if s.opts.FailGenerate {
		return errors.New("simulated generation failure")
	}
	return nil
}

func (s *Sim) GenerateImage(ctx context.Context, p ImageParams, onStep StepFunc) (Image, error) {
	if err := s.run(ctx, p.Steps, onStep); err != nil {
		return Image{}, err
	}
	data, err := encodePNG(gradient(max(1, p.Width), max(1, p.Height), p.Seed, 0))
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, ContentType: "image/png", Seed: p.Seed}, nil
}

func (s *Sim) EditImage(ctx context.Context, p EditParams, onStep StepFunc) (Image, error) {
	if len(p.Images) == 0 {
		return Image{}, errors.New("at least one input image is required")
	}
	if err := s.run(ctx, p.Steps, onStep); err != nil {
		return Image{}, err
	}
	data, err := invert(p.Images[0])
	if err != nil {
		return Image{}, fmt.Errorf("decode input image: %w", err)
	}
	return Image{Data: data, ContentType: "image/png", Seed: p.Seed}, nil
}

const simSampleRate = 24000

func speechSeconds(text string, speed float64) float64 {
	if speed <= 0 {
		speed = 1
	}
	sec := float64(len([]rune(text))) * 0.05 / speed
	return min(max(sec, 0.25), 30)
}

func (s *Sim) Synthesize(ctx context.Context, p SpeechParams) (Audio, error) {
	if err := s.run(ctx, 1, nil); err != nil {
		return Audio{}, err
	}
	pcm := tonePCM(220+float64(len(p.References))*40, speechSeconds(p.Text, p.Speed), simSampleRate)
	return Audio{Data: encodeWAV(pcm, simSampleRate), ContentType: "audio/wav", SampleRate: simSampleRate}, nil
}

// SynthesizeStream emits one PCM chunk per sentence.
func (s *Sim) SynthesizeStream(ctx context.Context, p SpeechParams, onChunk func(AudioChunk) error) error {
	if err := s.requireLoaded(); err != nil {
		return err
	}
	for i, sentence := range splitSentences(p.Text) {
		if err := sleepCtx(ctx, s.opts.StepDelay); err != nil {
			return err
		}
		pcm := tonePCM(220+float64(i)*20, speechSeconds(sentence, p.Speed), simSampleRate)
		if err := onChunk(AudioChunk{PCM: pcm, SampleRate: simSampleRate}); err != nil {
			return err
		}
	}
	if s.opts.FailGenerate {
		return errors.New("simulated generation failure")
	}
	return nil
}

func (s *Sim) GenerateVideo(ctx context.Context, p VideoParams, onStep StepFunc) (Video, error) {
	if err := s.run(ctx, p.Steps, onStep); err != nil {
		return Video{}, err
	}
	// Frames are rendered at 1/8 scale; the clip is a preview, not a render.
	w, h := max(16, p.Width/8), max(16, p.Height/8)
	data, first, err := encodeGIF(w, h, max(1, p.Frames), p.FPS, p.Seed)
	if err != nil {
		return Video{}, err
	}
	thumb, err := encodePNG(first)
	if err != nil {
		return Video{}, err
	}
	return Video{Data: data, ContentType: "image/gif", Thumbnail: thumb, Seed: p.Seed}, nil
}

func (s *Sim) Analyze(ctx context.Context, p VisionParams) (string, error) {
	if err := s.run(ctx, 1, nil); err != nil {
		return "", err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Image))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return fmt.Sprintf("A %dx%d %s image. Asked: %s", cfg.Width, cfg.Height, format, p.Query), nil
}

func (s *Sim) GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error) {
	if err := s.requireLoaded(); err != nil {
		return TextResult{}, err
	}
	var last string
	input := 0
	for _, m := range p.Messages {
		input += len(strings.Fields(m.Content))
		if m.Role == "user" {
			last = m.Content
		}
	}
	words := strings.Fields("You said: " + last)
	if p.MaxTokens > 0 && len(words) > p.MaxTokens {
		words = words[:p.MaxTokens]
	}
	finish := "stop"
	if p.MaxTokens > 0 && len(strings.Fields("You said: "+last)) > p.MaxTokens {
		finish = "length"
	}
	var out strings.Builder
	for i, w := range words {
		if err := sleepCtx(ctx, s.opts.StepDelay); err != nil {
			return TextResult{}, err
		}
		if i > 0 {
			w = " " + w
		}
		out.WriteString(w)
		if onDelta != nil {
			if err := onDelta(w); err != nil {
				return TextResult{}, err
			}
		}
	}
	if s.opts.FailGenerate {
		return TextResult{}, errors.New("simulated generation failure")
	}
	return TextResult{Text: out.String(), InputTokens: input, OutputTokens: len(words), FinishReason: finish}, nil
}

const simMusicSampleRate = 22050

func (s *Sim) GenerateMusic(ctx context.Context, p MusicParams, onStep StepFunc) ([]Audio, error) {
	if err := s.run(ctx, p.Steps, onStep); err != nil {
		return nil, err
	}
	n := max(1, p.BatchSize)
	out := make([]Audio, 0, n)
	for i := 0; i < n; i++ {
		freq := 110.0 * float64(i+2)
		if p.BPM > 0 {
			freq += float64(p.BPM)
		}
		pcm := tonePCM(freq, p.Duration, simMusicSampleRate)
		out = append(out, Audio{
			Data:        encodeWAV(pcm, simMusicSampleRate),
			ContentType: "audio/wav",
			SampleRate:  simMusicSampleRate,
			Seed:        p.Seed + int64(i),
		})
	}
	return out, nil
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
