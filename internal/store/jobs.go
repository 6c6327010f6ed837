package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sillymedia/internal/jobs"
)

var _ jobs.Recorder = (*DB)(nil)

const jobColumns = `id, kind, model, status, progress, current_step, total_steps, elapsed_seconds,
	estimated_seconds, result_refs, thumbnail_ref, meta, error, created_at, started_at, finished_at`

// SaveJob inserts or replaces the job record.
func (db *DB) SaveJob(ctx context.Context, j jobs.Job) error {
	refs, err := json.Marshal(orEmpty(j.ResultRefs))
	if err != nil {
		return err
	}
	meta := []byte("{}")
	if len(j.Meta) > 0 {
		if meta, err = json.Marshal(j.Meta); err != nil {
			return fmt.Errorf("encode job meta: %w", err)
		}
	}
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), j.Model, string(j.Status), j.Progress, j.CurrentStep, j.TotalSteps, j.ElapsedSeconds,
		j.EstimatedSeconds, string(refs), j.ThumbnailRef, string(meta), j.Error,
		toNanos(j.CreatedAt), toNanos(j.StartedAt), toNanos(j.FinishedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanJob(row interface{ Scan(...any) error }) (jobs.Job, error) {
	var (
		j                          jobs.Job
		kind, status, refs, meta   string
		created, started, finished int64
	)
	err := row.Scan(&j.ID, &kind, &j.Model, &status, &j.Progress, &j.CurrentStep, &j.TotalSteps, &j.ElapsedSeconds,
		&j.EstimatedSeconds, &refs, &j.ThumbnailRef, &meta, &j.Error, &created, &started, &finished)
	if err != nil {
		return jobs.Job{}, err
	}
	j.Kind, j.Status = jobs.Kind(kind), jobs.Status(status)
	if err := json.Unmarshal([]byte(refs), &j.ResultRefs); err != nil {
		return jobs.Job{}, fmt.Errorf("decode result refs of %s: %w", j.ID, err)
	}
	if len(j.ResultRefs) == 0 {
		j.ResultRefs = nil
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &j.Meta); err != nil {
			return jobs.Job{}, fmt.Errorf("decode meta of %s: %w", j.ID, err)
		}
	}
	j.CreatedAt, j.StartedAt, j.FinishedAt = fromNanos(created), fromNanos(started), fromNanos(finished)
	return j, nil
}

func (db *DB) LoadJob(ctx context.Context, id string) (jobs.Job, error) {
	j, err := scanJob(db.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, jobs.ErrJobNotFound(id)
	}
	return j, err
}

func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return jobs.ErrJobNotFound(id)
	}
	return nil
}

// ListJobs returns jobs of kind (all when empty), newest first.
func (db *DB) ListJobs(ctx context.Context, kind jobs.Kind, limit, offset int) ([]jobs.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR kind = ?) ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		string(kind), string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]jobs.Job, error) {
	defer rows.Close()
	out := []jobs.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (db *DB) FailInterrupted(ctx context.Context, msg string) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
		string(jobs.StatusFailed), msg, toNanos(db.stamp()), string(jobs.StatusQueued), string(jobs.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DB) ExpiredJobs(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?) AND finished_at > 0 AND finished_at < ?`,
		string(jobs.StatusCompleted), string(jobs.StatusFailed), toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return collectJobs(rows)
}
