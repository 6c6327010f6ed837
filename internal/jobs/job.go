// Package jobs runs asynchronous generations (video, music) on a worker
// queue and tracks them through queued -> processing -> completed|failed.
package jobs

import (
	"context"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

type Kind string

const (
	KindVideo Kind = "video"
	KindMusic Kind = "music"
)

// Job is a snapshot of one asynchronous generation. Only the Store mutates
// the job it owns; callers always receive copies.
type Job struct {
	ID               string         `json:"id"`
	Kind             Kind           `json:"kind"`
	Model            string         `json:"model"`
	Status           Status         `json:"status"`
	Progress         float64        `json:"progress"`
	CurrentStep      int            `json:"current_step"`
	TotalSteps       int            `json:"total_steps"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	EstimatedSeconds float64        `json:"estimated_seconds"`
	ResultRefs       []string       `json:"result_refs,omitempty"`
	ThumbnailRef     string         `json:"thumbnail_ref,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	FinishedAt       time.Time      `json:"finished_at,omitempty"`
}

func (j Job) clone() Job {
	j.ResultRefs = append([]string(nil), j.ResultRefs...)
	if j.Meta != nil {
		m := make(map[string]any, len(j.Meta))
		for k, v := range j.Meta {
			m[k] = v
		}
		j.Meta = m
	}
	return j
}

// Result is what a job function produces on success.
type Result struct {
	Refs      []string
	Thumbnail string
	Meta      map[string]any
}

// Func executes a job. It runs on a worker goroutine and reports progress
// through r.
type Func func(ctx context.Context, r *Reporter) (Result, error)

// Recorder persists jobs across restarts.
type Recorder interface {
	SaveJob(ctx context.Context, j Job) error
	LoadJob(ctx context.Context, id string) (Job, error)
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, kind Kind, limit, offset int) ([]Job, error)
	// FailInterrupted marks every queued or processing job as failed.
	FailInterrupted(ctx context.Context, msg string) (int, error)
	// ExpiredJobs returns terminal jobs finished before cutoff.
	ExpiredJobs(ctx context.Context, cutoff time.Time) ([]Job, error)
}

// EstimateVideoSeconds is the rough wall time of a video job.
func EstimateVideoSeconds(steps int) float64 { return float64(steps) / 50 * 75 }

// EstimateMusicSeconds is the rough wall time of a music job.
func EstimateMusicSeconds(steps int) float64 { return float64(steps)*1.5 + 5 }
