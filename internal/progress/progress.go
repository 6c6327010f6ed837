// Package progress tracks the step count of the generation currently running
// on one surface (image, img2img, video, music) for polling clients.
package progress

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"
)

// Tracker is safe for concurrent use. Reads never block writers; a snapshot
// taken during Start may mix old and new fields.
type Tracker struct {
	active  atomic.Bool
	step    atomic.Int64
	total   atomic.Int64
	started atomic.Int64 // unix nanos
	now     func() time.Time
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	Active    bool
	Step      int
	Total     int
	StartedAt time.Time
	Elapsed   time.Duration
}

func New() *Tracker { return &Tracker{now: time.Now} }

// Start marks a generation of total steps as active at step 0.
func (t *Tracker) Start(total int) {
	t.step.Store(0)
	t.total.Store(int64(total))
	t.started.Store(t.now().UnixNano())
	t.active.Store(true)
}

// Update records the latest step; last write wins.
func (t *Tracker) Update(step int) { t.step.Store(int64(step)) }

// Step is a model.StepFunc-shaped callback that also refreshes total.
func (t *Tracker) Step(step, total int) {
	if total > 0 {
		t.total.Store(int64(total))
	}
	t.step.Store(int64(step))
}

// Finish marks the tracker inactive.
func (t *Tracker) Finish() { t.active.Store(false) }

func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		Active: t.active.Load(),
		Step:   int(t.step.Load()),
		Total:  int(t.total.Load()),
	}
	if s.Active {
		s.StartedAt = time.Unix(0, t.started.Load())
		s.Elapsed = t.now().Sub(s.StartedAt)
	}
	return s
}

// Percent is step/total in [0,100], rounded to one decimal.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	p := math.Min(float64(s.Step)/float64(s.Total)*100, 100)
	return math.Round(p*10) / 10
}

type snapshotJSON struct {
	Active     bool     `json:"active"`
	Step       *int     `json:"step,omitempty"`
	TotalSteps *int     `json:"total_steps,omitempty"`
	Percent    *float64 `json:"percent,omitempty"`
	Elapsed    *float64 `json:"elapsed,omitempty"`
}

// MarshalJSON renders {"active":false} when idle.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if !s.Active {
		return json.Marshal(snapshotJSON{})
	}
	pct := s.Percent()
	elapsed := math.Round(s.Elapsed.Seconds()*100) / 100
	return json.Marshal(snapshotJSON{
		Active:     true,
		Step:       &s.Step,
		TotalSteps: &s.Total,
		Percent:    &pct,
		Elapsed:    &elapsed,
	})
}

// Set holds one tracker per generation surface.
type Set struct {
	Image   *Tracker
	Img2Img *Tracker
	Video   *Tracker
	Music   *Tracker
}

func NewSet() *Set {
	return &Set{Image: New(), Img2Img: New(), Video: New(), Music: New()}
}
