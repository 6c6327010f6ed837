package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sillymedia/internal/manager"
)

const (
	defaultWorkers   = 1
	defaultQueueSize = 64
)

// Options configure a Store.
type Options struct {
	Workers   int
	QueueSize int
	// Retention of zero keeps finished jobs forever.
	Retention time.Duration
	Recorder  Recorder
	// RemoveArtifacts deletes the files a job produced.
	RemoveArtifacts func(Job) error
	Publisher       manager.EventPublisher
	Logger          *zerolog.Logger
}

type entry struct {
	job       Job
	fn        Func
	cancelled bool
}

// Store owns every job submitted in this process.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*entry
	queue    chan *entry
	// deleting holds ids with a Delete in progress.
	deleting map[string]bool

	workers   int
	retention time.Duration
	rec       Recorder
	remove    func(Job) error
	pub       manager.EventPublisher
	log       zerolog.Logger
	now       func() time.Time
	genID     func() string
}

func NewStore(opts Options) *Store {
	s := &Store{
		jobs:      make(map[string]*entry),
		deleting:  make(map[string]bool),
		workers:   opts.Workers,
		retention: opts.Retention,
		rec:       opts.Recorder,
		remove:    opts.RemoveArtifacts,
		pub:       opts.Publisher,
		now:       time.Now,
		genID:     func() string { return uuid.NewString()[:8] },
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	s.queue = make(chan *entry, size)
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "jobs").Logger()
	} else {
		s.log = zerolog.Nop()
	}
	return s
}

// Recover marks jobs that a previous process left unfinished as failed.
func (s *Store) Recover(ctx context.Context) (int, error) {
	if s.rec == nil {
		return 0, nil
	}
	n, err := s.rec.FailInterrupted(ctx, "interrupted by server restart")
	if err != nil {
		return 0, fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int("jobs", n).Msg("marked interrupted jobs as failed")
	}
	return n, nil
}

// newID draws ids until one is unused both in memory and in the recorder.
func (s *Store) newID(ctx context.Context) (string, error) {
	for {
		id := s.genID()
		s.mu.RLock()
		_, taken := s.jobs[id]
		s.mu.RUnlock()
		if taken {
			continue
		}
		if s.rec == nil {
			return id, nil
		}
		_, err := s.rec.LoadJob(ctx, id)
		switch {
		case IsJobNotFound(err):
			return id, nil
		case err != nil:
			return "", fmt.Errorf("check job id: %w", err)
		}
	}
}

// Submit creates a queued job and schedules fn on a worker. It never waits
// for a worker; a saturated queue fails with a queue-full error.
func (s *Store) Submit(ctx context.Context, kind Kind, model string, totalSteps int, estimated float64, fn Func) (Job, error) {
	id, err := s.newID(ctx)
	if err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	if _, taken := s.jobs[id]; taken {
		s.mu.Unlock()
		return s.Submit(ctx, kind, model, totalSteps, estimated, fn)
	}
	e := &entry{fn: fn, job: Job{
		ID:               id,
		Kind:             kind,
		Model:            model,
		Status:           StatusQueued,
		TotalSteps:       totalSteps,
		EstimatedSeconds: estimated,
		CreatedAt:        s.now(),
	}}
	s.jobs[e.job.ID] = e
	snap := e.job.clone()
	s.mu.Unlock()

	// Recorded before a worker can see it, so the processing record wins.
	s.persist(ctx, snap)
	jobsQueued.WithLabelValues(string(kind)).Inc()
	select {
	case s.queue <- e:
	default:
		jobsQueued.WithLabelValues(string(kind)).Dec()
		s.mu.Lock()
		delete(s.jobs, snap.ID)
		s.mu.Unlock()
		if s.rec != nil {
			_ = s.rec.DeleteJob(ctx, snap.ID)
		}
		return Job{}, queueFullError{kind: kind}
	}
	s.publish("job_queued", snap, nil)
	s.log.Info().Str("job", snap.ID).Str("kind", string(kind)).Str("model", model).Msg("job queued")
	return snap, nil
}

// Run consumes the queue with the configured number of workers until ctx ends.
func (s *Store) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case e := <-s.queue:
					s.execute(gctx, e)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Store) execute(ctx context.Context, e *entry) {
	s.mu.Lock()
	jobsQueued.WithLabelValues(string(e.job.Kind)).Dec()
	if e.cancelled {
		s.mu.Unlock()
		return
	}
	e.job.Status = StatusProcessing
	e.job.StartedAt = s.now()
	snap := e.job.clone()
	s.mu.Unlock()
	s.persist(ctx, snap)
	s.publish("job_started", snap, nil)

	r := &Reporter{s: s, e: e}
	res, err := s.call(ctx, e.fn, r)

	s.mu.Lock()
	e.job.FinishedAt = s.now()
	e.job.ElapsedSeconds = e.job.FinishedAt.Sub(e.job.StartedAt).Seconds()
	if err != nil {
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	} else {
		e.job.Status = StatusCompleted
		e.job.Progress = 1
		if e.job.TotalSteps > 0 {
			e.job.CurrentStep = e.job.TotalSteps
		}
		e.job.ResultRefs = res.Refs
		e.job.ThumbnailRef = res.Thumbnail
		e.job.Meta = res.Meta
	}
	snap = e.job.clone()
	s.mu.Unlock()

	jobsFinished.WithLabelValues(string(snap.Kind), string(snap.Status)).Inc()
	jobDuration.WithLabelValues(string(snap.Kind)).Observe(snap.ElapsedSeconds)
	// Terminal states are recorded even when the worker is shutting down.
	s.persist(context.WithoutCancel(ctx), snap)
	if err != nil {
		s.log.Error().Err(err).Str("job", snap.ID).Str("model", snap.Model).Msg("job failed")
		s.publish("job_failed", snap, map[string]any{"error": snap.Error})
		return
	}
	s.log.Info().Str("job", snap.ID).Float64("elapsed", snap.ElapsedSeconds).Msg("job completed")
	s.publish("job_completed", snap, nil)
}

// call turns a panic in fn into an error.
func (s *Store) call(ctx context.Context, fn Func, r *Reporter) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx, r)
}

// Get returns the job, consulting the recorder for jobs of earlier runs.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	var snap Job
	if ok {
		snap = e.job.clone()
		if snap.Status == StatusProcessing {
			snap.ElapsedSeconds = s.now().Sub(snap.StartedAt).Seconds()
		}
	}
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}
	if s.rec == nil {
		return Job{}, ErrJobNotFound(id)
	}
	j, err := s.rec.LoadJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// Delete removes a job and its artifacts. Queued jobs are cancelled;
// processing jobs cannot be deleted. A second delete reports not found.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.deleting[id] {
		s.mu.Unlock()
		return ErrJobNotFound(id)
	}
	e, ok := s.jobs[id]
	if ok {
		if e.job.Status == StatusProcessing {
			s.mu.Unlock()
			return jobBusyError{id: id}
		}
		if e.job.Status == StatusQueued {
			e.cancelled = true
		}
		delete(s.jobs, id)
	}
	s.deleting[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	var job Job
	if ok {
		job = e.job.clone()
	} else {
		if s.rec == nil {
			return ErrJobNotFound(id)
		}
		j, err := s.rec.LoadJob(ctx, id)
		if err != nil {
			return err
		}
		job = j
	}
	if s.rec != nil {
		err := s.rec.DeleteJob(ctx, id)
		switch {
		case IsJobNotFound(err) && !ok:
			// Another delete removed the record after LoadJob saw it.
			return err
		case err != nil && !IsJobNotFound(err):
			return fmt.Errorf("delete job record: %w", err)
		}
	}
	if s.remove != nil {
		if err := s.remove(job); err != nil {
			s.log.Warn().Err(err).Str("job", id).Msg("remove job artifacts")
		}
	}
	s.publish("job_deleted", job, nil)
	return nil
}

// List returns jobs of kind (all kinds when empty), newest first.
func (s *Store) List(ctx context.Context, kind Kind, limit, offset int) ([]Job, error) {
	if s.rec != nil {
		out, err := s.rec.ListJobs(ctx, kind, limit, offset)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		for i, j := range out {
			if e, ok := s.jobs[j.ID]; ok {
				out[i] = e.job.clone()
			}
		}
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if kind == "" || e.job.Kind == kind {
			out = append(out, e.job.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Job{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sweep deletes terminal jobs that finished more than the retention ago.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	ids := map[string]struct{}{}
	s.mu.RLock()
	for id, e := range s.jobs {
		if e.job.Status.Terminal() && e.job.FinishedAt.Before(cutoff) {
			ids[id] = struct{}{}
		}
	}
	s.mu.RUnlock()
	if s.rec != nil {
		expired, err := s.rec.ExpiredJobs(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("list expired jobs: %w", err)
		}
		for _, j := range expired {
			ids[j.ID] = struct{}{}
		}
	}
	n := 0
	var errs []error
	for id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			if !IsJobNotFound(err) {
				errs = append(errs, err)
			}
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info().Int("jobs", n).Dur("retention", s.retention).Msg("expired jobs removed")
	}
	return n, errors.Join(errs...)
}

// RunRetention sweeps on the cron schedule (e.g. "@every 10m") until ctx ends.
func (s *Store) RunRetention(ctx context.Context, schedule string) error {
	if s.retention <= 0 || schedule == "" {
		<-ctx.Done()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn().Err(err).Msg("retention sweep")
		}
	}); err != nil {
		return fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Store) persist(ctx context.Context, j Job) {
	if s.rec == nil {
		return
	}
	if err := s.rec.SaveJob(ctx, j); err != nil {
		s.log.Warn().Err(err).Str("job", j.ID).Msg("persist job")
	}
}

func (s *Store) publish(name string, j Job, fields map[string]any) {
	if s.pub == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["job_id"] = j.ID
	fields["kind"] = string(j.Kind)
	fields["status"] = string(j.Status)
	s.pub.Publish(manager.Event{Name: name, ModelID: j.Model, Fields: fields, Time: s.now()})
}

// Reporter lets a running job report step progress.
type Reporter struct {
	s *Store
	e *entry
}

// Step records step of total; total <= 0 keeps the previous total.
func (r *Reporter) Step(step, total int) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j := &r.e.job
	if total > 0 {
		j.TotalSteps = total
	}
	j.CurrentStep = step
	if j.TotalSteps > 0 {
		j.Progress = min(float64(step)/float64(j.TotalSteps), 1)
	}
	j.ElapsedSeconds = r.s.now().Sub(j.StartedAt).Seconds()
}

// JobID returns the id of the job being reported on.
func (r *Reporter) JobID() string { return r.e.job.ID }
