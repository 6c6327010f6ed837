package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryEntry records one TTS generation.
type HistoryEntry struct {
	ID              string
	ActorName       string
	Model           string
	Text            string
	Language        string
	Ref             string
	DurationSeconds float64
	CreatedAt       time.Time
}

// NewHistoryID returns an id for an entry whose audio is written before the
// row is inserted.
func NewHistoryID() string { return shortID() }

func (db *DB) AddHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	if e.ID == "" {
		e.ID = shortID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = db.stamp()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tts_history (id, actor_name, model, text, language, ref, duration_seconds, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorName, e.Model, e.Text, e.Language, e.Ref, e.DurationSeconds, toNanos(e.CreatedAt))
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}
	return e, nil
}

const historyColumns = `id, actor_name, model, text, language, ref, duration_seconds, created_at`

func scanHistory(row interface{ Scan(...any) error }) (HistoryEntry, error) {
	var e HistoryEntry
	var created int64
	if err := row.Scan(&e.ID, &e.ActorName, &e.Model, &e.Text, &e.Language, &e.Ref, &e.DurationSeconds, &created); err != nil {
		return HistoryEntry{}, err
	}
	e.CreatedAt = fromNanos(created)
	return e, nil
}

func (db *DB) GetHistory(ctx context.Context, id string) (HistoryEntry, error) {
	e, err := scanHistory(db.conn.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM tts_history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListHistory returns entries newest first.
func (db *DB) ListHistory(ctx context.Context, limit, offset int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM tts_history ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	out := []HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) DeleteHistory(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM tts_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return requireAffected(res, "history "+id)
}
