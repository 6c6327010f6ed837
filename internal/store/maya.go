package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MayaActor is a saved voice description preset.
type MayaActor struct {
	ID               string
	Name             string
	VoiceDescription string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (db *DB) CreateMayaActor(ctx context.Context, name, voiceDescription string) (MayaActor, error) {
	now := db.stamp()
	a := MayaActor{ID: shortID(), Name: name, VoiceDescription: voiceDescription, CreatedAt: now, UpdatedAt: now}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO maya_actors (id, name, voice_description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.VoiceDescription, toNanos(now), toNanos(now))
	if err != nil {
		if isUniqueViolation(err) {
			return MayaActor{}, fmt.Errorf("maya actor %q: %w", name, ErrConflict)
		}
		return MayaActor{}, fmt.Errorf("insert maya actor: %w", err)
	}
	return a, nil
}

func (db *DB) MayaActorByName(ctx context.Context, name string) (MayaActor, error) {
	var a MayaActor
	var created, updated int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, voice_description, created_at, updated_at FROM maya_actors WHERE name = ?`, name).
		Scan(&a.ID, &a.Name, &a.VoiceDescription, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return MayaActor{}, fmt.Errorf("maya actor %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return MayaActor{}, err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return a, nil
}

func (db *DB) ListMayaActors(ctx context.Context) ([]MayaActor, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, voice_description, created_at, updated_at FROM maya_actors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list maya actors: %w", err)
	}
	defer rows.Close()
	out := []MayaActor{}
	for rows.Next() {
		var a MayaActor
		var created, updated int64
		if err := rows.Scan(&a.ID, &a.Name, &a.VoiceDescription, &created, &updated); err != nil {
			return nil, err
		}
		a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) DeleteMayaActor(ctx context.Context, name string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM maya_actors WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete maya actor: %w", err)
	}
	return requireAffected(res, "maya actor "+name)
}
