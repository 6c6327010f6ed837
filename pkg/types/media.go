package types

// GenerateRequest is the body of POST /generate/{model}.
type GenerateRequest struct {
	// example: A lighthouse at dusk, oil painting
	Prompt         string `json:"prompt" example:"A lighthouse at dusk, oil painting"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// Inference steps; 0 uses the server default.
	// example: 9
	NumInferenceSteps int `json:"num_inference_steps,omitempty" example:"9"`
	// Classifier-free guidance scale; 0 uses the server default.
	// example: 5
	CFGScale float64 `json:"cfg_scale,omitempty" example:"5"`
	// Seed; nil or -1 picks a random seed.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// Explicit dimensions, floored to multiples of 64.
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
	// Aspect ratio preset used when width/height are absent.
	// example: 16:9
	AspectRatio string `json:"aspect_ratio,omitempty" example:"16:9"`
	// Pixel budget edge used with aspect_ratio.
	// example: 1024
	BaseSize int `json:"base_size,omitempty" example:"1024"`
}

// EditRequest is the JSON body of POST /img2img/edit/{model}.
type EditRequest struct {
	// Base64 encoded input images (1 to 3).
	Images         []string `json:"images"`
	Prompt         string   `json:"prompt" example:"Make it snow"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	// example: 20
	NumInferenceSteps int `json:"num_inference_steps,omitempty" example:"20"`
	// example: 4
	TrueCFGScale float64 `json:"true_cfg_scale,omitempty" example:"4"`
	Seed         *int64  `json:"seed,omitempty"`
}

// TTSRequest is the body of POST /tts/generate and /tts/stream.
type TTSRequest struct {
	// example: Hello there.
	Text string `json:"text" example:"Hello there."`
	// Actor name whose reference audio is used for cloning.
	// example: narrator
	Actor string `json:"actor" example:"narrator"`
	// example: en
	Language string `json:"language,omitempty" example:"en"`
	// example: 0.65
	Temperature *float64 `json:"temperature,omitempty" example:"0.65"`
	// example: 1
	Speed          *float64 `json:"speed,omitempty" example:"1"`
	SplitSentences *bool    `json:"split_sentences,omitempty"`
}

// MayaRequest is the body of POST /tts/maya/generate.
type MayaRequest struct {
	Text string `json:"text" example:"Welcome back."`
	// Free-form voice description; ignored when Actor is set.
	// example: A warm, low female voice with a slight rasp
	VoiceDescription string `json:"voice_description,omitempty" example:"A warm, low female voice with a slight rasp"`
	// Saved maya actor name.
	Actor       string   `json:"actor,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Actor is a saved voice profile.
type Actor struct {
	ID          string `json:"id"`
	Name        string `json:"name" example:"narrator"`
	Language    string `json:"language" example:"en"`
	Description string `json:"description,omitempty"`
	AudioCount  int    `json:"audio_count" example:"2"`
	CreatedAt   int64  `json:"created_at_unix"`
}

// MayaActor is a saved voice description.
type MayaActor struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	VoiceDescription string `json:"voice_description"`
	CreatedAt        int64  `json:"created_at_unix"`
}

// MayaActorRequest is the body of POST /maya/actors.
type MayaActorRequest struct {
	Name             string `json:"name"`
	VoiceDescription string `json:"voice_description"`
}

// HistoryEntry is one TTS generation persisted for replay.
type HistoryEntry struct {
	ID        string `json:"id"`
	Actor     string `json:"actor,omitempty"`
	Model     string `json:"model"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	AudioURL  string `json:"audio_url"`
	CreatedAt int64  `json:"created_at_unix"`
}

// VisionRequest is the JSON body of POST /vision/analyze.
type VisionRequest struct {
	// Base64 encoded image.
	Image string `json:"image"`
	// example: What is in this picture?
	Query       string   `json:"query,omitempty" example:"What is in this picture?"`
	MaxTokens   int      `json:"max_tokens,omitempty" example:"512"`
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
}

// VisionResponse carries the model's answer.
type VisionResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	// example: user
	Role    string `json:"role" example:"user"`
	Content string `json:"content" example:"Tell me a joke."`
}

// LLMRequest is the body of POST /llm/generate and /llm/stream.
// Exactly one of Messages or Prompt must be set.
type LLMRequest struct {
	Messages          []ChatMessage `json:"messages,omitempty"`
	Prompt            string        `json:"prompt,omitempty"`
	MaxTokens         int           `json:"max_tokens,omitempty" example:"512"`
	Temperature       *float64      `json:"temperature,omitempty" example:"0.8"`
	TopP              *float64      `json:"top_p,omitempty" example:"0.9"`
	TopK              *int          `json:"top_k,omitempty" example:"50"`
	RepetitionPenalty *float64      `json:"repetition_penalty,omitempty" example:"1.1"`
	Seed              *int64        `json:"seed,omitempty"`
}

// LLMResponse is returned by POST /llm/generate.
type LLMResponse struct {
	Text                  string  `json:"text"`
	Model                 string  `json:"model"`
	InputTokens           int     `json:"input_tokens"`
	OutputTokens          int     `json:"output_tokens"`
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`
	Seed                  int64   `json:"seed"`
}

// LLMStreamChunk is one SSE data frame of /llm/stream.
type LLMStreamChunk struct {
	Delta        string  `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}
