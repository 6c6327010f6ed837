package registry

import "sillymedia/internal/config"

// DefaultVRAMGB is assumed for models without an estimate.
const DefaultVRAMGB = 10.0

var vramEstimates = map[string]float64{
	"z-image":         22,
	"z-image-turbo":   22,
	"ovis-image-7b":   20,
	"qwen-image-2512": 15,
	"xtts-v2":         2,
	"maya":            16,
	"hunyuan-video":   16,
	"qwen3-vl-8b":     18,
	"qwen-image-edit": 20,
	"huihui-qwen3-4b": 10,
	"ace-step-turbo":  8,
	"ace-step-sft":    8,
}

// EstimatedVRAMGB returns the known footprint of id, or DefaultVRAMGB.
func EstimatedVRAMGB(id string) float64 {
	if v, ok := vramEstimates[id]; ok {
		return v
	}
	return DefaultVRAMGB
}

// Catalog is the built-in model set used when the config lists none.
func Catalog() []config.ModelSpec {
	return []config.ModelSpec{
		{ID: "z-image-turbo", Kind: "image", DisplayName: "Z-Image Turbo"},
		{ID: "z-image", Kind: "image", DisplayName: "Z-Image"},
		{ID: "ovis-image-7b", Kind: "image", DisplayName: "Ovis-Image 7B"},
		{ID: "qwen-image-2512", Kind: "image", DisplayName: "Qwen-Image 2512 (GGUF)"},
		{ID: "qwen-image-edit", Kind: "img2img", DisplayName: "Qwen-Image-Edit"},
		{ID: "xtts-v2", Kind: "audio", DisplayName: "XTTS v2"},
		{ID: "maya", Kind: "audio", DisplayName: "Maya1"},
		{ID: "hunyuan-video", Kind: "video", DisplayName: "HunyuanVideo 1.5 Distilled"},
		{ID: "qwen3-vl-8b", Kind: "vision", DisplayName: "Qwen3-VL 8B"},
		{ID: "huihui-qwen3-4b", Kind: "llm", DisplayName: "Huihui Qwen3 4B (abliterated)"},
		{ID: "ace-step-turbo", Kind: "music", DisplayName: "ACE-Step (fast)"},
		{ID: "ace-step-sft", Kind: "music", DisplayName: "ACE-Step (quality)"},
	}
}
