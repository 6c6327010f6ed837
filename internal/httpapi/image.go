package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/pkg/types"
)

type aspect struct {
	name string
	w, h int
}

var aspectRatios = []aspect{
	{"1:1", 1, 1}, {"4:5", 4, 5}, {"3:4", 3, 4}, {"2:3", 2, 3}, {"9:16", 9, 16},
	{"5:4", 5, 4}, {"4:3", 4, 3}, {"3:2", 3, 2}, {"16:9", 16, 9}, {"21:9", 21, 9},
}

const defaultBaseSize = 1024

func lookupAspect(name string) (aspect, bool) {
	for _, a := range aspectRatios {
		if a.name == name {
			return a, true
		}
	}
	return aspect{}, false
}

// dimensions keeps roughly base*base pixels at the ratio, floored to 64.
func (a aspect) dimensions(base int) (int, int) {
	ratio := float64(a.w) / float64(a.h)
	height := int(math.Sqrt(float64(base*base) / ratio))
	width := int(float64(height) * ratio)
	return floorTo(width, 64), floorTo(height, 64)
}

func floorTo(v, m int) int { return v / m * m }

func (s *server) aspectRatios(w http.ResponseWriter, r *http.Request) {
	base := defaultBaseSize
	if v := r.URL.Query().Get("base_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(w, r, badRequest("base_size must be an integer"))
			return
		}
		if err := checkRange("base_size", n, 256, 2048); err != nil {
			fail(w, r, err)
			return
		}
		base = n
	}
	out := types.AspectRatiosResponse{BaseSize: base}
	for _, a := range aspectRatios {
		width, height := a.dimensions(base)
		out.AspectRatios = append(out.AspectRatios, types.AspectRatio{Ratio: a.name, Width: width, Height: height})
	}
	writeJSON(w, http.StatusOK, out)
}

// imageParams validates a generate request and applies the defaults.
func (s *server) imageParams(req types.GenerateRequest) (model.ImageParams, error) {
	if err := checkText("prompt", req.Prompt, 1, 4096); err != nil {
		return model.ImageParams{}, err
	}
	if err := checkText("negative_prompt", req.NegativePrompt, 0, 2048); err != nil {
		return model.ImageParams{}, err
	}
	p := model.ImageParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          orInt(req.NumInferenceSteps, s.Defaults.Steps),
		CFGScale:       orFloat(req.CFGScale, s.Defaults.CFG),
	}
	if err := checkRange("num_inference_steps", p.Steps, 1, 100); err != nil {
		return p, err
	}
	if err := checkRange("cfg_scale", p.CFGScale, 1, 20); err != nil {
		return p, err
	}
	seed, err := pickSeed(req.Seed)
	if err != nil {
		return p, err
	}
	p.Seed = seed
	p.Width, p.Height, err = s.resolveDimensions(req)
	return p, err
}

// resolveDimensions prefers explicit width/height, then aspect_ratio at
// base_size, then a single dimension as a square, then the defaults.
func (s *server) resolveDimensions(req types.GenerateRequest) (int, int, error) {
	for field, v := range map[string]*int{"width": req.Width, "height": req.Height} {
		if v != nil {
			if err := checkRange(field, *v, 64, 2048); err != nil {
				return 0, 0, err
			}
		}
	}
	switch {
	case req.Width != nil && req.Height != nil:
		return floorTo(*req.Width, 64), floorTo(*req.Height, 64), nil
	case req.AspectRatio != "":
		a, ok := lookupAspect(req.AspectRatio)
		if !ok {
			return 0, 0, badRequest("unknown aspect_ratio %q", req.AspectRatio)
		}
		base := orInt(req.BaseSize, defaultBaseSize)
		if err := checkRange("base_size", base, 256, 2048); err != nil {
			return 0, 0, err
		}
		w, h := a.dimensions(base)
		return w, h, nil
	case req.Width != nil:
		v := floorTo(*req.Width, 64)
		return v, v, nil
	case req.Height != nil:
		v := floorTo(*req.Height, 64)
		return v, v, nil
	default:
		return s.Defaults.Width, s.Defaults.Height, nil
	}
}

func (s *server) generateImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	if _, err := s.requireKind(id, model.KindImage); err != nil {
		fail(w, r, err)
		return
	}
	var req types.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p, err := s.imageParams(req)
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	var img model.Image
	err = run(ctx, s.GPU, id, "image generation", func(l *manager.Lease, g model.ImageGenerator) error {
		t := s.Progress.Image
		t.Start(p.Steps)
		defer t.Finish()
		var gerr error
		img, gerr = g.GenerateImage(ctx, p, tracked(l, t))
		return model.GenerationFailed(id, gerr)
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("X-Seed", strconv.FormatInt(img.Seed, 10))
	w.Header().Set("X-Model", id)
	writeBlob(w, img.ContentType, img.Data)
}

const maxEditImages = 3

// editParams validates the shared img2img fields.
func editParams(images [][]byte, prompt, negative string, steps int, cfg float64, seed *int64) (model.EditParams, error) {
	if len(images) < 1 || len(images) > maxEditImages {
		return model.EditParams{}, badRequest("between 1 and %d images are required", maxEditImages)
	}
	for _, img := range images {
		if err := checkImage("image", img); err != nil {
			return model.EditParams{}, err
		}
	}
	if err := checkText("prompt", prompt, 1, 4096); err != nil {
		return model.EditParams{}, err
	}
	if strings.TrimSpace(negative) == "" {
		negative = " "
	}
	p := model.EditParams{
		Images:         images,
		Prompt:         prompt,
		NegativePrompt: negative,
		Steps:          orInt(steps, 20),
		TrueCFGScale:   orFloat(cfg, 4.0),
	}
	if err := checkRange("num_inference_steps", p.Steps, 1, 100); err != nil {
		return p, err
	}
	if err := checkRange("true_cfg_scale", p.TrueCFGScale, 1, 20); err != nil {
		return p, err
	}
	var err error
	p.Seed, err = pickSeed(seed)
	return p, err
}

func (s *server) editImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	if _, err := s.requireKind(id, model.KindImg2Img); err != nil {
		fail(w, r, err)
		return
	}
	var req types.EditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	images := make([][]byte, 0, len(req.Images))
	for _, enc := range req.Images {
		b, err := decodeBase64("image", enc)
		if err != nil {
			fail(w, r, err)
			return
		}
		images = append(images, b)
	}
	p, err := editParams(images, req.Prompt, req.NegativePrompt, req.NumInferenceSteps, req.TrueCFGScale, req.Seed)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.runEdit(w, r, id, p)
}

func (s *server) editImageUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	if _, err := s.requireKind(id, model.KindImg2Img); err != nil {
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
	more, err := formFiles(r, "images")
	if err != nil {
		fail(w, r, err)
		return
	}
	files = append(files, more...)
	images := make([][]byte, 0, len(files))
	for _, f := range files {
		images = append(images, f.Data)
	}
	steps, err := formInt(r, "num_inference_steps", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	cfg, err := formFloat(r, "true_cfg_scale", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	seed, err := formSeed(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := editParams(images, r.FormValue("prompt"), r.FormValue("negative_prompt"), steps, cfg, seed)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.runEdit(w, r, id, p)
}

func (s *server) runEdit(w http.ResponseWriter, r *http.Request, id string, p model.EditParams) {
	ctx, cancel := inferContext(r)
	defer cancel()
	img, err := s.edit(ctx, id, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("X-Seed", strconv.FormatInt(img.Seed, 10))
	w.Header().Set("X-Model", id)
	writeBlob(w, img.ContentType, img.Data)
}

func (s *server) edit(ctx context.Context, id string, p model.EditParams) (model.Image, error) {
	var img model.Image
	err := run(ctx, s.GPU, id, "image editing", func(l *manager.Lease, e model.ImageEditor) error {
		t := s.Progress.Img2Img
		t.Start(p.Steps)
		defer t.Finish()
		var gerr error
		img, gerr = e.EditImage(ctx, p, tracked(l, t))
		return model.GenerationFailed(id, gerr)
	})
	return img, err
}
