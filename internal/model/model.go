// Package model defines the loadable model handle and the capability
// interfaces handlers use to run inference once the coordinator has made a
// handle resident.
//
// Backends:
//
//   - sim.go: deterministic in-process backend (tests, --simulate).
//   - worker.go: out-of-process GPU worker spoken to over HTTP/NDJSON.
//   - llama_server.go: llama.cpp server subprocess per model.
//   - llama.go: in-process go-llama.cpp, built with -tags=llama. Without the
//     tag llama_stub.go fails Load with a dependency error.
package model

import (
	"context"
	"sync/atomic"
)

// Kind is the capability family of a model.
type Kind string

const (
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindVideo   Kind = "video"
	KindVision  Kind = "vision"
	KindLLM     Kind = "llm"
	KindMusic   Kind = "music"
	KindImg2Img Kind = "img2img"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindImage, KindImg2Img, KindAudio, KindVideo, KindVision, KindLLM, KindMusic}

// Descriptor is the static identity of a model; immutable after startup.
type Descriptor struct {
	ID              string
	Kind            Kind
	DisplayName     string
	EstimatedVRAMGB float64
	Backend         string
}

// Handle owns zero or one loaded model instance. Only the coordinator calls
// Load and Unload; Loaded must never block.
type Handle interface {
	Descriptor() Descriptor
	Load(ctx context.Context) error
	Unload() error
	Loaded() bool
}

// CacheReleaser is implemented by handles that can drop accelerator caches
// after an unload.
type CacheReleaser interface {
	ReleaseCache() error
}

// StepFunc receives per-step progress from a running generation.
type StepFunc func(step, total int)

func (f StepFunc) call(step, total int) {
	if f != nil {
		f(step, total)
	}
}

// ImageParams are the inputs of a text-to-image generation.
type ImageParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"num_inference_steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
}

// Image is an encoded output image.
type Image struct {
	Data        []byte
	ContentType string
	Seed        int64
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, p ImageParams, onStep StepFunc) (Image, error)
}

// EditParams are the inputs of an instruction-based image edit.
type EditParams struct {
	Images         [][]byte `json:"images"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Steps          int      `json:"num_inference_steps"`
	TrueCFGScale   float64  `json:"true_cfg_scale"`
	Seed           int64    `json:"seed"`
}

type ImageEditor interface {
	EditImage(ctx context.Context, p EditParams, onStep StepFunc) (Image, error)
}

// SpeechParams drive text-to-speech. References are voice-cloning samples;
// VoiceDescription is used by description-driven models instead.
type SpeechParams struct {
	Text             string   `json:"text"`
	Language         string   `json:"language,omitempty"`
	References       [][]byte `json:"references,omitempty"`
	VoiceDescription string   `json:"voice_description,omitempty"`
	Temperature      float64  `json:"temperature"`
	Speed            float64  `json:"speed"`
	SplitSentences   bool     `json:"split_sentences"`
}

// Audio is an encoded audio clip.
type Audio struct {
	Data        []byte
	ContentType string
	SampleRate  int
	Seed        int64
}

// AudioChunk is raw little-endian 16-bit mono PCM from a streaming synth.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, p SpeechParams) (Audio, error)
}

type SpeechStreamer interface {
	SynthesizeStream(ctx context.Context, p SpeechParams, onChunk func(AudioChunk) error) error
}

// VideoParams drive text-to-video and image-to-video. Image is empty for t2v.
type VideoParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Image          []byte  `json:"image,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Frames         int     `json:"num_frames"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	FPS            int     `json:"fps"`
	Seed           int64   `json:"seed"`
}

// Video is an encoded clip plus a PNG thumbnail of its first frame.
type Video struct {
	Data        []byte
	ContentType string
	Thumbnail   []byte
	Seed        int64
}

type VideoGenerator interface {
	GenerateVideo(ctx context.Context, p VideoParams, onStep StepFunc) (Video, error)
}

// VisionParams ask a question about one image.
type VisionParams struct {
	Image       []byte  `json:"image"`
	Query       string  `json:"query"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type VisionAnalyzer interface {
	Analyze(ctx context.Context, p VisionParams) (string, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextParams drive chat completion.
type TextParams struct {
	Messages          []Message `json:"messages"`
	MaxTokens         int       `json:"max_tokens"`
	Temperature       float64   `json:"temperature"`
	TopP              float64   `json:"top_p"`
	TopK              int       `json:"top_k"`
	RepetitionPenalty float64   `json:"repetition_penalty"`
	Seed              int64     `json:"seed"`
}

// TextResult summarizes a completed text generation.
type TextResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

type TextGenerator interface {
	GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error)
}

// MusicParams drive text-to-music.
type MusicParams struct {
	Caption       string  `json:"caption"`
	Lyrics        string  `json:"lyrics,omitempty"`
	Instrumental  bool    `json:"instrumental"`
	BPM           int     `json:"bpm,omitempty"`
	KeyScale      string  `json:"keyscale,omitempty"`
	TimeSignature string  `json:"timesignature,omitempty"`
	Duration      float64 `json:"duration"`
	Steps         int     `json:"inference_steps"`
	Guidance      float64 `json:"guidance_scale"`
	Seed          int64   `json:"seed"`
	Format        string  `json:"audio_format"`
	BatchSize     int     `json:"batch_size"`
}

type MusicGenerator interface {
	GenerateMusic(ctx context.Context, p MusicParams, onStep StepFunc) ([]Audio, error)
}

// base carries the descriptor and the loaded flag shared by every backend.
type base struct {
	desc   Descriptor
	loaded atomic.Bool
}

func (b *base) Descriptor() Descriptor { return b.desc }

func (b *base) Loaded() bool { return b.loaded.Load() }

func (b *base) requireLoaded() error {
	if !b.loaded.Load() {
		return ErrNotLoaded(b.desc.ID)
	}
	return nil
}
