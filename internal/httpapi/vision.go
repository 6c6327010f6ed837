package httpapi

import (
	"context"
	"net/http"

	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

const defaultVisionQuery = "Describe this image in detail."

func visionParams(img []byte, query string, maxTokens int, temperature float64) (model.VisionParams, error) {
	if err := checkImage("image", img); err != nil {
		return model.VisionParams{}, err
	}
	if query == "" {
		query = defaultVisionQuery
	}
	p := model.VisionParams{Image: img, Query: query, MaxTokens: orInt(maxTokens, 512), Temperature: temperature}
	if err := checkText("query", p.Query, 1, 4096); err != nil {
		return p, err
	}
	if err := checkRange("max_tokens", p.MaxTokens, 1, 4096); err != nil {
		return p, err
	}
	if err := checkRange("temperature", p.Temperature, 0, 2); err != nil {
		return p, err
	}
	return p, nil
}

func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	id, err := s.pickModel(r, model.KindVision)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req types.VisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	img, err := decodeBase64("image", req.Image)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := visionParams(img, req.Query, req.MaxTokens, derefFloat(req.Temperature, 0.7))
	if err != nil {
		fail(w, r, err)
		return
	}
	s.runVision(w, r, id, p)
}

func (s *server) analyzeUpload(w http.ResponseWriter, r *http.Request) {
	id, err := s.pickModel(r, model.KindVision)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := parseMultipart(w, r); err != nil {
		fail(w, r, err)
		return
	}
	files, err := formFiles(r, "image")
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(files) != 1 {
		fail(w, r, badRequest("exactly one image is required"))
		return
	}
	maxTokens, err := formInt(r, "max_tokens", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	temp, err := formFloat(r, "temperature", 0.7)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := visionParams(files[0].Data, formString(r, "query", ""), maxTokens, temp)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.runVision(w, r, id, p)
}

func (s *server) runVision(w http.ResponseWriter, r *http.Request, id string, p model.VisionParams) {
	ctx, cancel := inferContext(r)
	defer cancel()
	answer, err := s.describe(ctx, id, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.VisionResponse{Response: answer, Model: id})
}

func (s *server) describe(ctx context.Context, id string, p model.VisionParams) (string, error) {
	var answer string
	err := run(ctx, s.GPU, id, "vision analysis", func(l *manager.Lease, v model.VisionAnalyzer) error {
		var verr error
		answer, verr = v.Analyze(ctx, p)
		return model.GenerationFailed(id, verr)
	})
	return answer, err
}
