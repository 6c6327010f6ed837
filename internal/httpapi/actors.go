package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sillymedia/internal/store"
	"sillymedia/pkg/types"
)

func actorView(a store.Actor) types.Actor {
	return types.Actor{
		ID:          a.ID,
		Name:        a.Name,
		Language:    a.Language,
		Description: a.Description,
		AudioCount:  a.AudioCount,
		CreatedAt:   a.CreatedAt.Unix(),
	}
}

type audioFileView struct {
	ID              string  `json:"id"`
	OriginalName    string  `json:"original_name"`
	DurationSeconds float64 `json:"duration_seconds"`
	CreatedAt       int64   `json:"created_at_unix"`
}

func (s *server) listActors(w http.ResponseWriter, r *http.Request) {
	actors, err := s.DB.ListActors(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]types.Actor, 0, len(actors))
	for _, a := range actors {
		out = append(out, actorView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"actors": out, "total": len(out)})
}

// createActor takes multipart name, language, description and one or more
// audio_files.
func (s *server) createActor(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		fail(w, r, err)
		return
	}
	name := formString(r, "name", "")
	if err := checkText("name", name, 1, 100); err != nil {
		fail(w, r, err)
		return
	}
	lang, err := checkLanguage(formString(r, "language", "en"))
	if err != nil {
		fail(w, r, err)
		return
	}
	files, err := formFiles(r, "audio_files")
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(files) == 0 {
		fail(w, r, badRequest("at least one audio file is required"))
		return
	}
	ctx := context.WithoutCancel(r.Context())
	actor, err := s.DB.CreateActor(ctx, name, lang, r.FormValue("description"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.storeActorAudio(ctx, actor.ID, files); err != nil {
		_ = s.DB.DeleteActor(ctx, actor.ID)
		_ = s.Files.RemoveActor(actor.ID)
		fail(w, r, err)
		return
	}
	actor.AudioCount = len(files)
	writeJSON(w, http.StatusCreated, actorView(actor))
}

func (s *server) storeActorAudio(ctx context.Context, actorID string, files []upload) error {
	for _, f := range files {
		ref, err := s.Files.AddActorAudio(actorID, f.Data)
		if err != nil {
			return err
		}
		name := f.Name
		if name == "" {
			name = "unknown"
		}
		if _, err := s.DB.AddAudioFile(ctx, actorID, ref, name, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *server) getActor(w http.ResponseWriter, r *http.Request) {
	a, err := s.DB.ActorByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView(a))
}

func (s *server) deleteActor(w http.ResponseWriter, r *http.Request) {
	a, err := s.DB.ActorByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.DB.DeleteActor(r.Context(), a.ID); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.Files.RemoveActor(a.ID); err != nil {
		logFailure(r, http.StatusInternalServerError, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listActorAudio(w http.ResponseWriter, r *http.Request) {
	a, err := s.DB.ActorByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	files, err := s.DB.AudioFiles(r.Context(), a.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]audioFileView, 0, len(files))
	for _, f := range files {
		out = append(out, audioFileView{ID: f.ID, OriginalName: f.OriginalName, DurationSeconds: f.DurationSeconds, CreatedAt: f.CreatedAt.Unix()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) addActorAudio(w http.ResponseWriter, r *http.Request) {
	a, err := s.DB.ActorByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := parseMultipart(w, r); err != nil {
		fail(w, r, err)
		return
	}
	files, err := formFiles(r, "audio_file")
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(files) != 1 {
		fail(w, r, badRequest("exactly one audio_file is required"))
		return
	}
	ref, err := s.Files.AddActorAudio(a.ID, files[0].Data)
	if err != nil {
		fail(w, r, err)
		return
	}
	f, err := s.DB.AddAudioFile(context.WithoutCancel(r.Context()), a.ID, ref, files[0].Name, 0)
	if err != nil {
		_ = s.Files.Remove(ref)
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, audioFileView{ID: f.ID, OriginalName: f.OriginalName, DurationSeconds: f.DurationSeconds, CreatedAt: f.CreatedAt.Unix()})
}

func mayaView(a store.MayaActor) types.MayaActor {
	return types.MayaActor{ID: a.ID, Name: a.Name, VoiceDescription: a.VoiceDescription, CreatedAt: a.CreatedAt.Unix()}
}

func (s *server) listMayaActors(w http.ResponseWriter, r *http.Request) {
	actors, err := s.DB.ListMayaActors(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]types.MayaActor, 0, len(actors))
	for _, a := range actors {
		out = append(out, mayaView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"actors": out, "total": len(out)})
}

func (s *server) createMayaActor(w http.ResponseWriter, r *http.Request) {
	var req types.MayaActorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := checkText("name", req.Name, 1, 100); err != nil {
		fail(w, r, err)
		return
	}
	if err := checkText("voice_description", req.VoiceDescription, 1, 1000); err != nil {
		fail(w, r, err)
		return
	}
	a, err := s.DB.CreateMayaActor(r.Context(), req.Name, req.VoiceDescription)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mayaView(a))
}

func (s *server) getMayaActor(w http.ResponseWriter, r *http.Request) {
	a, err := s.DB.MayaActorByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mayaView(a))
}

func (s *server) deleteMayaActor(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DeleteMayaActor(r.Context(), chi.URLParam(r, "name")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
