package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/artifacts"
	"sillymedia/internal/manager"
	"sillymedia/internal/model"
	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

const (
	cloneModel = "xtts-v2"
	mayaModel  = "maya"

	defaultTTSTemperature  = 0.65
	defaultMayaTemperature = 0.4
	maxTTSText             = 10000
)

// languages lists the synthesis languages in display order.
var languages = []struct{ Code, Name string }{
	{"en", "English"}, {"es", "Spanish"}, {"fr", "French"}, {"de", "German"},
	{"it", "Italian"}, {"pt", "Portuguese"}, {"pl", "Polish"}, {"tr", "Turkish"},
	{"ru", "Russian"}, {"nl", "Dutch"}, {"cs", "Czech"}, {"ar", "Arabic"},
	{"zh-cn", "Chinese"}, {"ja", "Japanese"}, {"hu", "Hungarian"}, {"ko", "Korean"},
	{"hi", "Hindi"},
}

func checkLanguage(code string) (string, error) {
	if code == "" {
		return "en", nil
	}
	for _, l := range languages {
		if l.Code == code {
			return code, nil
		}
	}
	return "", badRequest("unsupported language %q", code)
}

func (s *server) languages(w http.ResponseWriter, r *http.Request) {
	type lang struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	out := make([]lang, 0, len(languages))
	for _, l := range languages {
		out = append(out, lang{Code: l.Code, Name: l.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": out})
}

// speechParams validates the fields shared by every voice-cloning route.
func speechParams(text, language string, temperature, speed float64, split bool) (model.SpeechParams, error) {
	if err := checkText("text", text, 1, maxTTSText); err != nil {
		return model.SpeechParams{}, err
	}
	lang, err := checkLanguage(language)
	if err != nil {
		return model.SpeechParams{}, err
	}
	if err := checkRange("temperature", temperature, 0, 1); err != nil {
		return model.SpeechParams{}, err
	}
	if err := checkRange("speed", speed, 0.5, 2); err != nil {
		return model.SpeechParams{}, err
	}
	return model.SpeechParams{Text: text, Language: lang, Temperature: temperature, Speed: speed, SplitSentences: split}, nil
}

func ttsRequestParams(req types.TTSRequest) (model.SpeechParams, error) {
	split := true
	if req.SplitSentences != nil {
		split = *req.SplitSentences
	}
	return speechParams(req.Text, req.Language,
		derefFloat(req.Temperature, defaultTTSTemperature), derefFloat(req.Speed, 1.0), split)
}

// actorReferences loads the reference recordings of a saved actor.
func (s *server) actorReferences(ctx context.Context, name string) ([][]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, badRequest("actor is required")
	}
	actor, err := s.DB.ActorByName(ctx, name)
	if err != nil {
		return nil, err
	}
	files, err := s.DB.AudioFiles(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, requestError{status: http.StatusInternalServerError, reason: "internal", msg: "actor " + name + " has no reference audio files"}
	}
	refs := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := s.Files.Read(f.Ref)
		if err != nil {
			return nil, err
		}
		refs = append(refs, b)
	}
	return refs, nil
}

func (s *server) synthesize(ctx context.Context, id string, p model.SpeechParams) (model.Audio, error) {
	if _, err := s.requireKind(id, model.KindAudio); err != nil {
		return model.Audio{}, err
	}
	var audio model.Audio
	err := run(ctx, s.GPU, id, "speech synthesis", func(l *manager.Lease, sy model.SpeechSynthesizer) error {
		var gerr error
		audio, gerr = sy.Synthesize(ctx, p)
		return model.GenerationFailed(id, gerr)
	})
	return audio, err
}

// saveHistory stores the clip and its history row. A failure is logged and
// does not fail the request that produced the audio.
func (s *server) saveHistory(ctx context.Context, r *http.Request, e store.HistoryEntry, audio model.Audio) string {
	e.ID = store.NewHistoryID()
	e.Ref = artifacts.HistoryRef(e.ID)
	e.DurationSeconds = wavSeconds(audio)
	if err := s.Files.Write(e.Ref, audio.Data); err != nil {
		logFailure(r, http.StatusInternalServerError, err)
		return ""
	}
	if _, err := s.DB.AddHistory(context.WithoutCancel(ctx), e); err != nil {
		_ = s.Files.Remove(e.Ref)
		logFailure(r, http.StatusInternalServerError, err)
		return ""
	}
	return e.ID
}

// wavSeconds estimates the length of a PCM16 mono WAV clip.
func wavSeconds(a model.Audio) float64 {
	if a.SampleRate <= 0 || len(a.Data) <= 44 {
		return 0
	}
	return float64(len(a.Data)-44) / float64(2*a.SampleRate)
}

func writeAudio(w http.ResponseWriter, a model.Audio, historyID string) {
	if historyID != "" {
		w.Header().Set("X-History-Id", historyID)
	}
	writeBlob(w, a.ContentType, a.Data)
}

func (s *server) speak(w http.ResponseWriter, r *http.Request) {
	var req types.TTSRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p, err := ttsRequestParams(req)
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	if p.References, err = s.actorReferences(ctx, req.Actor); err != nil {
		fail(w, r, err)
		return
	}
	audio, err := s.synthesize(ctx, cloneModel, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	hid := s.saveHistory(ctx, r, store.HistoryEntry{ActorName: req.Actor, Model: cloneModel, Text: p.Text, Language: p.Language}, audio)
	writeAudio(w, audio, hid)
}

// speakStream answers with an open-ended WAV header followed by PCM chunks
// as the model produces them.
func (s *server) speakStream(w http.ResponseWriter, r *http.Request) {
	var req types.TTSRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p, err := ttsRequestParams(req)
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, err := s.requireKind(cloneModel, model.KindAudio); err != nil {
		fail(w, r, err)
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	if p.References, err = s.actorReferences(ctx, req.Actor); err != nil {
		fail(w, r, err)
		return
	}
	flusher, _ := w.(http.Flusher)
	started := false
	err = run(ctx, s.GPU, cloneModel, "speech streaming", func(l *manager.Lease, st model.SpeechStreamer) error {
		return model.GenerationFailed(cloneModel, st.SynthesizeStream(ctx, p, func(c model.AudioChunk) error {
			if !started {
				w.Header().Set("Content-Type", "audio/wav")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				if _, err := w.Write(model.WAVHeader(c.SampleRate, -1)); err != nil {
					return err
				}
				started = true
			}
			if _, err := w.Write(c.PCM); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			l.Touch()
			return nil
		}))
	})
	if err == nil && !started {
		err = model.GenerationFailed(cloneModel, errEmptyStream)
	}
	if err != nil {
		if started {
			// the status line is gone; the truncated stream is the signal
			logFailure(r, http.StatusInternalServerError, err)
			return
		}
		fail(w, r, err)
	}
}

var errEmptyStream = errors.New("model produced no audio")

func (s *server) speakWithAudio(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		fail(w, r, err)
		return
	}
	refs, err := formFiles(r, "reference_audio")
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(refs) == 0 {
		fail(w, r, badRequest("at least one reference_audio file is required"))
		return
	}
	temperature, err := formFloat(r, "temperature", defaultTTSTemperature)
	if err != nil {
		fail(w, r, err)
		return
	}
	speed, err := formFloat(r, "speed", 1.0)
	if err != nil {
		fail(w, r, err)
		return
	}
	split, err := formBool(r, "split_sentences", true)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := speechParams(r.FormValue("text"), formString(r, "language", "en"), temperature, speed, split)
	if err != nil {
		fail(w, r, err)
		return
	}
	for _, ref := range refs {
		p.References = append(p.References, ref.Data)
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	audio, err := s.synthesize(ctx, cloneModel, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeAudio(w, audio, "")
}

func (s *server) speakMaya(w http.ResponseWriter, r *http.Request) {
	var req types.MayaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := checkText("text", req.Text, 1, maxTTSText); err != nil {
		fail(w, r, err)
		return
	}
	temperature := derefFloat(req.Temperature, defaultMayaTemperature)
	if err := checkRange("temperature", temperature, 0, 1); err != nil {
		fail(w, r, err)
		return
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	voice, label := req.VoiceDescription, ""
	if req.Actor != "" {
		a, err := s.DB.MayaActorByName(ctx, req.Actor)
		if err != nil {
			fail(w, r, err)
			return
		}
		voice, label = a.VoiceDescription, req.Actor
	}
	if err := checkText("voice_description", voice, 1, 1000); err != nil {
		fail(w, r, err)
		return
	}
	if label == "" {
		label = "[Maya] " + truncate(voice, 50)
	}
	p := model.SpeechParams{Text: req.Text, Language: "en", VoiceDescription: voice, Temperature: temperature, Speed: 1}
	audio, err := s.synthesize(ctx, mayaModel, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	hid := s.saveHistory(ctx, r, store.HistoryEntry{ActorName: label, Model: mayaModel, Text: p.Text, Language: p.Language}, audio)
	writeAudio(w, audio, hid)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}

func historyView(e store.HistoryEntry) types.HistoryEntry {
	return types.HistoryEntry{
		ID:        e.ID,
		Actor:     e.ActorName,
		Model:     e.Model,
		Text:      e.Text,
		Language:  e.Language,
		AudioURL:  "/tts/history/" + e.ID + "/audio",
		CreatedAt: e.CreatedAt.Unix(),
	}
}

func (s *server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, 50)
	if err != nil {
		fail(w, r, err)
		return
	}
	entries, err := s.DB.ListHistory(r.Context(), limit, offset)
	if err != nil {
		fail(w, r, err)
		return
	}
	page := types.HistoryPage[types.HistoryEntry]{Items: make([]types.HistoryEntry, 0, len(entries)), Limit: limit, Offset: offset}
	for _, e := range entries {
		page.Items = append(page.Items, historyView(e))
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) historyAudio(w http.ResponseWriter, r *http.Request) {
	e, err := s.DB.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	data, err := s.Files.Read(e.Ref)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", "inline; filename=\"tts_"+e.ID+".wav\"")
	writeBlob(w, "audio/wav", data)
}

func (s *server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.DB.GetHistory(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.DB.DeleteHistory(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.Files.Remove(e.Ref); err != nil {
		logFailure(r, http.StatusInternalServerError, err)
	}
	w.WriteHeader(http.StatusNoContent)
}
