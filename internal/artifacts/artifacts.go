// Package artifacts lays out generated files under the data directory.
// Callers pass around refs, slash-separated paths relative to the root.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sillymedia/internal/common/fsutil"
	"sillymedia/internal/jobs"
)

const (
	actorsDir  = "actors"
	historyDir = "tts_history"
	videosDir  = "videos"
	musicDir   = "music"
)

// ErrBadRef is returned for refs that escape the root.
var ErrBadRef = errors.New("invalid artifact ref")

// Dir is the artifact root.
type Dir struct {
	root string
}

// Open creates the layout under root.
func Open(root string) (*Dir, error) {
	for _, sub := range []string{actorsDir, historyDir, videosDir, musicDir} {
		if err := fsutil.EnsureDir(filepath.Join(root, sub)); err != nil {
			return nil, err
		}
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

// Path resolves ref to an absolute path inside the root.
func (d *Dir) Path(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "\\") || clean != "/"+ref {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean[1:])), nil
}

// Write stores data at ref atomically.
func (d *Dir) Write(ref string, data []byte) error {
	p, err := d.Path(ref)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(p, data)
}

// Read returns the content of ref.
func (d *Dir) Read(ref string) ([]byte, error) {
	p, err := d.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Remove deletes every ref, ignoring missing files.
func (d *Dir) Remove(refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		p, err := d.Path(ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fsutil.RemoveIfExists(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveJob deletes the outputs and thumbnail of a job.
func (d *Dir) RemoveJob(j jobs.Job) error {
	return d.Remove(append(append([]string(nil), j.ResultRefs...), j.ThumbnailRef)...)
}

// AddActorAudio stores a reference clip as actors/<id>/reference_NN.wav and
// returns its ref.
func (d *Dir) AddActorAudio(actorID string, data []byte) (string, error) {
	dir, err := d.Path(path.Join(actorsDir, actorID))
	if err != nil {
		return "", err
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", err
	}
	existing, err := filepath.Glob(filepath.Join(dir, "reference_*.wav"))
	if err != nil {
		return "", err
	}
	ref := path.Join(actorsDir, actorID, fmt.Sprintf("reference_%02d.wav", len(existing)))
	return ref, d.Write(ref, data)
}

// RemoveActor deletes the actor's clip directory.
func (d *Dir) RemoveActor(actorID string) error {
	dir, err := d.Path(path.Join(actorsDir, actorID))
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// HistoryRef is where a TTS history entry's audio lives.
func HistoryRef(id string) string { return path.Join(historyDir, id+".wav") }

// VideoRef and ThumbnailRef locate a video job's outputs.
func VideoRef(jobID, ext string) string { return path.Join(videosDir, jobID+"."+ext) }

func ThumbnailRef(jobID string) string { return path.Join(videosDir, jobID+"_thumb.png") }

// MusicRef locates the index-th track of a music job.
func MusicRef(jobID string, index int, ext string) string {
	return path.Join(musicDir, fmt.Sprintf("%s_%d.%s", jobID, index, ext))
}
