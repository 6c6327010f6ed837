package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

var testModels = []model.Descriptor{
	{ID: "z-image-turbo", Kind: model.KindImage, EstimatedVRAMGB: 12},
	{ID: "qwen-image-edit", Kind: model.KindImg2Img},
	{ID: "xtts-v2", Kind: model.KindAudio},
	{ID: "maya", Kind: model.KindAudio},
	{ID: "hunyuan-video", Kind: model.KindVideo},
	{ID: "qwen3-vl-8b", Kind: model.KindVision},
	{ID: "huihui-qwen3-4b", Kind: model.KindLLM},
	{ID: "ace-step-turbo", Kind: model.KindMusic},
	{ID: "ace-step-sft", Kind: model.KindMusic},
}

type harness struct {
	h     http.Handler
	gpu   *manager.Manager
	db    *store.DB
	files *artifacts.Dir
	jobs  *jobs.Store
}

func newHarness(t *testing.T, opts model.SimOptions) *harness {
	t.Helper()
	handles := make([]model.Handle, 0, len(testModels))
	for _, d := range testModels {
		handles = append(handles, model.NewSim(d, opts))
	}
	gpu := manager.NewWithConfig(manager.ManagerConfig{Models: handles})
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "silly.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	files, err := artifacts.Open(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("open artifacts: %v", err)
	}
	js := jobs.NewStore(jobs.Options{Workers: 1, QueueSize: 4, Recorder: db, RemoveArtifacts: files.RemoveJob})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = js.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	h := NewMux(Deps{GPU: gpu, Jobs: js, DB: db, Files: files})
	return &harness{h: h, gpu: gpu, db: db, files: files, jobs: js}
}

func (hs *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	hs.h.ServeHTTP(w, req)
	return w
}

func (hs *harness) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return hs.do(req)
}

func (hs *harness) get(path string) *httptest.ResponseRecorder {
	return hs.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v body=%q", err, w.Body.String())
	}
	return v
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("file: %v", err)
		}
		_, _ = part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// waitJob polls the status endpoint until the job reaches a terminal state.
func waitJob(t *testing.T, hs *harness, statusPath string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := hs.get(statusPath)
		if w.Code != http.StatusOK {
			t.Fatalf("status code=%d body=%s", w.Code, w.Body.String())
		}
		body := decodeBody[map[string]any](t, w)
		if s := body["status"]; s == "completed" || s == "failed" {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job at %s did not finish", statusPath)
	return nil
}

func TestHealthListsModelsByKind(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.get("/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody[types.HealthResponse](t, w)
	if body.Status != "healthy" {
		t.Fatalf("status=%q", body.Status)
	}
	if got := body.Available["music"]; len(got) != 2 || got[0] != "ace-step-turbo" {
		t.Fatalf("music models=%v", got)
	}
	if body.CurrentModel != "" || len(body.ModelsLoaded) != 0 {
		t.Fatalf("expected nothing loaded: %+v", body)
	}
}

func TestModelsAndStatus(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.get("/models")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody[types.ModelsResponse](t, w)
	if len(body.Models) != len(testModels) {
		t.Fatalf("models len=%d", len(body.Models))
	}
	if body.Models[0].ID != "z-image-turbo" || body.Models[0].Type != "image" || body.Models[0].Backend != "sim" {
		t.Fatalf("unexpected first model: %+v", body.Models[0])
	}

	w = hs.get("/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	st := decodeBody[types.StatusResponse](t, w)
	if st.InFlight || st.Current != "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestReadyz(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.get("/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if err := hs.gpu.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	w = hs.get("/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "shutting down") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.get("/healthz")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestAspectRatios(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.get("/aspect-ratios")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody[types.AspectRatiosResponse](t, w)
	if body.BaseSize != 1024 || len(body.AspectRatios) != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
	for _, a := range body.AspectRatios {
		if a.Width%64 != 0 || a.Height%64 != 0 {
			t.Fatalf("%s not a multiple of 64: %dx%d", a.Ratio, a.Width, a.Height)
		}
		switch a.Ratio {
		case "1:1":
			if a.Width != 1024 || a.Height != 1024 {
				t.Fatalf("1:1 = %dx%d", a.Width, a.Height)
			}
		case "16:9":
			if a.Width != 1344 || a.Height != 768 {
				t.Fatalf("16:9 = %dx%d", a.Width, a.Height)
			}
		}
	}
	if w := hs.get("/aspect-ratios?base_size=100"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for small base, got %d", w.Code)
	}
}

func TestGenerateImage(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.postJSON("/generate/z-image-turbo", `{"prompt":"a cat","width":128,"height":64,"num_inference_steps":2,"seed":7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%s", ct)
	}
	if w.Header().Get("X-Seed") != "7" || w.Header().Get("X-Model") != "z-image-turbo" {
		t.Fatalf("headers=%v", w.Header())
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 128 || cfg.Height != 64 {
		t.Fatalf("size=%dx%d", cfg.Width, cfg.Height)
	}
	if got := hs.gpu.Current(); got != "z-image-turbo" {
		t.Fatalf("current=%q", got)
	}
	if snap := hs.get("/progress"); snap.Code != http.StatusOK {
		t.Fatalf("progress status=%d", snap.Code)
	}
}

func TestGenerateImage_Validation(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	cases := []struct {
		name, path, body string
		want             int
	}{
		{"unknown model", "/generate/nope", `{"prompt":"x"}`, http.StatusNotFound},
		{"wrong kind", "/generate/xtts-v2", `{"prompt":"x"}`, http.StatusNotFound},
		{"empty prompt", "/generate/z-image-turbo", `{"prompt":""}`, http.StatusBadRequest},
		{"steps too high", "/generate/z-image-turbo", `{"prompt":"x","num_inference_steps":101}`, http.StatusBadRequest},
		{"bad aspect", "/generate/z-image-turbo", `{"prompt":"x","aspect_ratio":"7:3"}`, http.StatusBadRequest},
		{"width too small", "/generate/z-image-turbo", `{"prompt":"x","width":32}`, http.StatusBadRequest},
		{"bad seed", "/generate/z-image-turbo", `{"prompt":"x","seed":-5}`, http.StatusBadRequest},
		{"bad json", "/generate/z-image-turbo", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := hs.postJSON(tc.path, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status=%d want=%d body=%s", w.Code, tc.want, w.Body.String())
			}
			body := decodeBody[types.ErrorResponse](t, w)
			if body.Code != tc.want || body.Error == "" {
				t.Fatalf("error body=%+v", body)
			}
		})
	}
	if len(hs.gpu.Loaded()) != 0 {
		t.Fatalf("validation failures must not load a model: %v", hs.gpu.Loaded())
	}
}

func TestGenerateImage_RequiresJSON(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	req := httptest.NewRequest(http.MethodPost, "/generate/z-image-turbo", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	if w := hs.do(req); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerateImage_LoadFailureIs500(t *testing.T) {
	hs := newHarness(t, model.SimOptions{FailLoad: true})
	w := hs.postJSON("/generate/z-image-turbo", `{"prompt":"x","num_inference_steps":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeBody[types.ErrorResponse](t, w); body.Reason != "model_load_failed" {
		t.Fatalf("reason=%q", body.Reason)
	}
}

func TestGenerateImage_GenerationFailureIs500(t *testing.T) {
	hs := newHarness(t, model.SimOptions{FailGenerate: true})
	w := hs.postJSON("/generate/z-image-turbo", `{"prompt":"x","num_inference_steps":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeBody[types.ErrorResponse](t, w); body.Reason != "generation_failed" {
		t.Fatalf("reason=%q", body.Reason)
	}
}

func TestSwitchingModelsUnloadsPrevious(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	if w := hs.postJSON("/generate/z-image-turbo", `{"prompt":"x","width":64,"height":64,"num_inference_steps":1}`); w.Code != http.StatusOK {
		t.Fatalf("image status=%d", w.Code)
	}
	if w := hs.postJSON("/llm/generate", `{"prompt":"hello"}`); w.Code != http.StatusOK {
		t.Fatalf("llm status=%d body=%s", w.Code, w.Body.String())
	}
	loaded := hs.gpu.Loaded()
	if len(loaded) != 1 || loaded[0] != "huihui-qwen3-4b" {
		t.Fatalf("loaded=%v", loaded)
	}

	w := hs.postJSON("/models/unload", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unload status=%d", w.Code)
	}
	body := decodeBody[types.UnloadResponse](t, w)
	if len(body.Unloaded) != 1 || body.Unloaded[0] != "huihui-qwen3-4b" {
		t.Fatalf("unloaded=%v", body.Unloaded)
	}
	body = decodeBody[types.UnloadResponse](t, hs.postJSON("/models/unload", `{}`))
	if body.Unloaded == nil || len(body.Unloaded) != 0 {
		t.Fatalf("second unload=%v", body.Unloaded)
	}
}

func TestKindModels(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	body := decodeBody[map[string][]string](t, hs.get("/img2img/models"))
	if len(body["available"]) != 1 || body["available"][0] != "qwen-image-edit" {
		t.Fatalf("available=%v", body["available"])
	}
	if body["loaded"] == nil || len(body["loaded"]) != 0 {
		t.Fatalf("loaded=%v", body["loaded"])
	}
}

func TestEditImage(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	img := base64.StdEncoding.EncodeToString(testPNG(t, 8, 8))
	w := hs.postJSON("/img2img/edit/qwen-image-edit", `{"images":["data:image/png;base64,`+img+`"],"prompt":"make it blue","num_inference_steps":1,"seed":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Seed") != "3" {
		t.Fatalf("seed header=%q", w.Header().Get("X-Seed"))
	}
	if _, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = hs.postJSON("/img2img/edit/qwen-image-edit", `{"images":["bm90IGFuIGltYWdl"],"prompt":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-image, got %d", w.Code)
	}
	w = hs.postJSON("/img2img/edit/qwen-image-edit", `{"images":[],"prompt":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for no images, got %d", w.Code)
	}
}

func TestEditImageUpload(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	req := multipartRequest(t, "/img2img/edit/qwen-image-edit/upload",
		map[string]string{"prompt": "sketch", "num_inference_steps": "1"},
		formFile{field: "image", name: "a.png", data: testPNG(t, 4, 4)},
		formFile{field: "images", name: "b.png", data: testPNG(t, 4, 4)},
	)
	w := hs.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/img2img/edit/qwen-image-edit/upload", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	if w := hs.do(req); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestVisionAnalyze(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	img := base64.StdEncoding.EncodeToString(testPNG(t, 6, 3))
	w := hs.postJSON("/vision/analyze", `{"image":"`+img+`","query":"what?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody[types.VisionResponse](t, w)
	if body.Model != "qwen3-vl-8b" || !strings.Contains(body.Response, "6x3") || !strings.Contains(body.Response, "what?") {
		t.Fatalf("body=%+v", body)
	}

	req := multipartRequest(t, "/vision/analyze/upload", nil, formFile{field: "image", name: "x.png", data: testPNG(t, 2, 2)})
	w = hs.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status=%d body=%s", w.Code, w.Body.String())
	}
	body = decodeBody[types.VisionResponse](t, w)
	if !strings.Contains(body.Response, defaultVisionQuery) {
		t.Fatalf("expected default query, got %q", body.Response)
	}

	if w := hs.postJSON("/vision/analyze?model=z-image-turbo", `{"image":"`+img+`"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-vision model, got %d", w.Code)
	}
}

func TestLLMGenerate(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.postJSON("/llm/generate", `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi there"}],"seed":11}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody[types.LLMResponse](t, w)
	if body.Text != "You said: hi there" || body.Seed != 11 || body.Model != "huihui-qwen3-4b" {
		t.Fatalf("body=%+v", body)
	}

	for _, bad := range []string{
		`{}`,
		`{"prompt":"x","messages":[{"role":"user","content":"y"}]}`,
		`{"messages":[{"role":"robot","content":"y"}]}`,
		`{"prompt":"x","top_p":1.5}`,
	} {
		if w := hs.postJSON("/llm/generate", bad); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestLLMStream(t *testing.T) {
	hs := newHarness(t, model.SimOptions{})
	w := hs.postJSON("/llm/stream", `{"prompt":"one two","max_tokens":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%s", ct)
	}
	var frames []string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 4 {
		t.Fatalf("frames=%q", frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("last frame=%q", frames[len(frames)-1])
	}
	var final types.LLMStreamChunk
	if err := json.Unmarshal([]byte(frames[2]), &final); err != nil {
		t.Fatalf("final frame: %v", err)
	}
	if final.FinishReason == nil || *final.FinishReason != "length" {
		t.Fatalf("finish=%v", final.FinishReason)
	}
}

func TestLLMStream_FailureBeforeFirstToken(t *testing.T) {
	hs := newHarness(t, model.SimOptions{FailLoad: true})
	w := hs.postJSON("/llm/stream", `{"prompt":"x"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%s", ct)
	}
}
