package httpapi

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/jobs"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/internal/progress"
	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

// Coordinator is the part of the GPU coordinator the HTTP layer uses.
type Coordinator interface {
	Acquire(ctx context.Context, id string) (*manager.Lease, error)
	Models() []model.Descriptor
	Loaded() []string
	Current() string
	Status() types.StatusResponse
	UnloadAll(ctx context.Context) ([]string, error)
	Ready() bool
}

// Defaults are the image generation defaults applied when a request omits
// a field.
type Defaults struct {
	Steps  int
	CFG    float64
	Width  int
	Height int
}

// Deps wires the handlers to the rest of the service.
type Deps struct {
	GPU      Coordinator
	Jobs     *jobs.Store
	DB       *store.DB
	Files    *artifacts.Dir
	Progress *progress.Set
	Defaults Defaults
}

type server struct {
	Deps
	desc map[string]model.Descriptor
}

func newServer(d Deps) *server {
	if d.Progress == nil {
		d.Progress = progress.NewSet()
	}
	if d.Defaults.Steps == 0 {
		d.Defaults.Steps = 50
	}
	if d.Defaults.CFG == 0 {
		d.Defaults.CFG = 5.0
	}
	if d.Defaults.Width == 0 {
		d.Defaults.Width = 1024
	}
	if d.Defaults.Height == 0 {
		d.Defaults.Height = 1024
	}
	s := &server{Deps: d, desc: make(map[string]model.Descriptor)}
	for _, m := range d.GPU.Models() {
		s.desc[m.ID] = m
	}
	return s
}

// NewMux builds the service router.
func NewMux(d Deps) http.Handler {
	s := newServer(d)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"}),
			ExposedHeaders: []string{"X-Seed", "X-Model", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Get("/models", s.listModels)
	r.Post("/models/unload", s.unloadAll)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.GPU.Status())
	})
	r.Get("/aspect-ratios", s.aspectRatios)
	r.Get("/progress", progressHandler(s.Progress.Image))
	r.Post("/generate/{model}", s.generateImage)

	r.Route("/img2img", func(r chi.Router) {
		r.Get("/models", s.kindModels(model.KindImg2Img))
		r.Get("/progress", progressHandler(s.Progress.Img2Img))
		r.Post("/edit/{model}", s.editImage)
		r.Post("/edit/{model}/upload", s.editImageUpload)
	})

	r.Route("/tts", func(r chi.Router) {
		r.Get("/models", s.kindModels(model.KindAudio))
		r.Get("/languages", s.languages)
		r.Post("/generate", s.speak)
		r.Post("/stream", s.speakStream)
		r.Post("/generate-with-audio", s.speakWithAudio)
		r.Post("/maya/generate", s.speakMaya)
		r.Get("/history", s.listHistory)
		r.Get("/history/{id}/audio", s.historyAudio)
		r.Delete("/history/{id}", s.deleteHistory)
	})

	r.Route("/actors", func(r chi.Router) {
		r.Get("/", s.listActors)
		r.Post("/", s.createActor)
		r.Get("/{name}", s.getActor)
		r.Delete("/{name}", s.deleteActor)
		r.Get("/{name}/audio", s.listActorAudio)
		r.Post("/{name}/audio", s.addActorAudio)
	})

	r.Route("/maya/actors", func(r chi.Router) {
		r.Get("/", s.listMayaActors)
		r.Post("/", s.createMayaActor)
		r.Get("/{name}", s.getMayaActor)
		r.Delete("/{name}", s.deleteMayaActor)
	})

	r.Route("/vision", func(r chi.Router) {
		r.Get("/models", s.kindModels(model.KindVision))
		r.Post("/analyze", s.analyze)
		r.Post("/analyze/upload", s.analyzeUpload)
	})

	r.Route("/llm", func(r chi.Router) {
		r.Get("/models", s.kindModels(model.KindLLM))
		r.Post("/generate", s.generateText)
		r.Post("/stream", s.streamText)
	})

	r.Route("/video", func(r chi.Router) {
		r.Get("/models", s.jobModels(model.KindVideo))
		r.Get("/progress", progressHandler(s.Progress.Video))
		r.Post("/t2v/{model}", s.submitVideo(false))
		r.Post("/i2v/{model}", s.submitVideo(true))
		r.Get("/status/{id}", s.videoStatus)
		r.Get("/download/{id}", s.videoDownload)
		r.Get("/thumbnail/{id}", s.videoThumbnail)
		r.Get("/history", s.jobHistory(jobs.KindVideo))
		r.Delete("/{id}", s.deleteJob(jobs.KindVideo))
	})

	r.Route("/music", func(r chi.Router) {
		r.Get("/models", s.jobModels(model.KindMusic))
		r.Get("/progress", progressHandler(s.Progress.Music))
		r.Post("/generate", s.submitMusic)
		r.Get("/status/{id}", s.musicStatus)
		r.Get("/download/{id}/{index}", s.musicDownload)
		r.Get("/history", s.jobHistory(jobs.KindMusic))
		r.Delete("/{id}", s.deleteJob(jobs.KindMusic))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.GPU.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// run acquires the GPU for id, asserts capability C on the resident handle
// and calls fn while the lease is held.
func run[C any](ctx context.Context, gpu Coordinator, id, capability string, fn func(*manager.Lease, C) error) error {
	lease, err := gpu.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer lease.Release()
	c, ok := lease.Handle().(C)
	if !ok {
		return model.ErrUnsupported(id, capability)
	}
	return fn(lease, c)
}

// tracked reports steps to t and keeps the lease's idle timer fresh.
func tracked(l *manager.Lease, t *progress.Tracker) model.StepFunc {
	return func(step, total int) {
		if t != nil {
			t.Step(step, total)
		}
		l.Touch()
	}
}

// requireKind resolves id among the registered models of kind.
func (s *server) requireKind(id string, kind model.Kind) (model.Descriptor, error) {
	d, ok := s.desc[id]
	if !ok || d.Kind != kind {
		return model.Descriptor{}, manager.ErrModelNotFound(id)
	}
	return d, nil
}

// pickModel returns ?model= when given, else the first registered model of
// kind.
func (s *server) pickModel(r *http.Request, kind model.Kind) (string, error) {
	if id := r.URL.Query().Get("model"); id != "" {
		if _, err := s.requireKind(id, kind); err != nil {
			return "", err
		}
		return id, nil
	}
	ids := s.idsOf(kind)
	if len(ids) == 0 {
		return "", manager.ErrModelNotFound(string(kind))
	}
	return ids[0], nil
}

// idsOf lists registered ids of kind in registration order.
func (s *server) idsOf(kind model.Kind) []string {
	var out []string
	for _, m := range s.GPU.Models() {
		if m.Kind == kind {
			out = append(out, m.ID)
		}
	}
	return out
}

func (s *server) loadedSet() map[string]bool {
	loaded := s.GPU.Loaded()
	set := make(map[string]bool, len(loaded))
	for _, id := range loaded {
		set[id] = true
	}
	return set
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	avail := make(map[string][]string, len(model.Kinds))
	for _, k := range model.Kinds {
		avail[string(k)] = append([]string{}, s.idsOf(k)...)
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:       "healthy",
		ModelsLoaded: s.GPU.Loaded(),
		CurrentModel: s.GPU.Current(),
		Available:    avail,
	})
}

func (s *server) listModels(w http.ResponseWriter, r *http.Request) {
	loaded := s.loadedSet()
	descs := s.GPU.Models()
	out := make([]types.ModelInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, types.ModelInfo{
			ID:              d.ID,
			Name:            d.DisplayName,
			Type:            string(d.Kind),
			EstimatedVRAMGB: d.EstimatedVRAMGB,
			Backend:         d.Backend,
			Loaded:          loaded[d.ID],
		})
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: out, Current: s.GPU.Current()})
}

// kindModels lists available and loaded ids of one kind.
func (s *server) kindModels(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available := append([]string{}, s.idsOf(kind)...)
		loaded := []string{}
		set := s.loadedSet()
		for _, id := range available {
			if set[id] {
				loaded = append(loaded, id)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"available": available, "loaded": loaded})
	}
}

func (s *server) unloadAll(w http.ResponseWriter, r *http.Request) {
	unloaded, err := s.GPU.UnloadAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	sort.Strings(unloaded)
	if unloaded == nil {
		unloaded = []string{}
	}
	writeJSON(w, http.StatusOK, types.UnloadResponse{Unloaded: unloaded})
}

func progressHandler(t *progress.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, t.Snapshot())
	}
}
