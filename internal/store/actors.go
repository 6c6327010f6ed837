package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Actor struct {
	ID          string
	Name        string
	Language    string
	Description string
	AudioCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type AudioFile struct {
	ID              string
	ActorID         string
	Ref             string
	OriginalName    string
	DurationSeconds float64
	CreatedAt       time.Time
}

func shortID() string { return uuid.NewString()[:8] }

// CreateActor inserts an actor; names are unique case-insensitively.
func (db *DB) CreateActor(ctx context.Context, name, language, description string) (Actor, error) {
	now := db.stamp()
	a := Actor{ID: shortID(), Name: name, Language: language, Description: description, CreatedAt: now, UpdatedAt: now}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO actors (id, name, language, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Language, a.Description, toNanos(now), toNanos(now))
	if err != nil {
		if isUniqueViolation(err) {
			return Actor{}, fmt.Errorf("actor %q: %w", name, ErrConflict)
		}
		return Actor{}, fmt.Errorf("insert actor: %w", err)
	}
	return a, nil
}

const actorColumns = `a.id, a.name, a.language, a.description, a.created_at, a.updated_at,
	(SELECT COUNT(*) FROM actor_audio_files f WHERE f.actor_id = a.id)`

func scanActor(row interface{ Scan(...any) error }) (Actor, error) {
	var a Actor
	var created, updated int64
	if err := row.Scan(&a.ID, &a.Name, &a.Language, &a.Description, &created, &updated, &a.AudioCount); err != nil {
		return Actor{}, err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return a, nil
}

// ActorByName looks an actor up case-insensitively.
func (db *DB) ActorByName(ctx context.Context, name string) (Actor, error) {
	a, err := scanActor(db.conn.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors a WHERE a.name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, fmt.Errorf("actor %q: %w", name, ErrNotFound)
	}
	return a, err
}

// ListActors returns all actors ordered by name.
func (db *DB) ListActors(ctx context.Context) ([]Actor, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors a ORDER BY a.name`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()
	out := []Actor{}
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActor removes the actor and, by cascade, its audio file records.
func (db *DB) DeleteActor(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM actors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete actor: %w", err)
	}
	return requireAffected(res, "actor "+id)
}

func (db *DB) AddAudioFile(ctx context.Context, actorID, ref, originalName string, duration float64) (AudioFile, error) {
	f := AudioFile{ID: shortID(), ActorID: actorID, Ref: ref, OriginalName: originalName, DurationSeconds: duration, CreatedAt: db.stamp()}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO actor_audio_files (id, actor_id, ref, original_name, duration_seconds, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.ActorID, f.Ref, f.OriginalName, f.DurationSeconds, toNanos(f.CreatedAt))
	if err != nil {
		return AudioFile{}, fmt.Errorf("insert audio file: %w", err)
	}
	_, _ = db.conn.ExecContext(ctx, `UPDATE actors SET updated_at = ? WHERE id = ?`, toNanos(f.CreatedAt), actorID)
	return f, nil
}

// AudioFiles lists an actor's reference clips in upload order.
func (db *DB) AudioFiles(ctx context.Context, actorID string) ([]AudioFile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, actor_id, ref, original_name, duration_seconds, created_at FROM actor_audio_files WHERE actor_id = ? ORDER BY created_at, ref`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list audio files: %w", err)
	}
	defer rows.Close()
	var out []AudioFile
	for rows.Next() {
		var f AudioFile
		var created int64
		if err := rows.Scan(&f.ID, &f.ActorID, &f.Ref, &f.OriginalName, &f.DurationSeconds, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = fromNanos(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
