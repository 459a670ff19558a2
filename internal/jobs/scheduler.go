// Package jobs admits report requests, runs a bounded number of them in the
// background and keeps their status until they age out.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/agent/core"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrStopped  = errors.New("scheduler stopped")
)

// Runner produces the report for one job.
type Runner interface {
	Run(ctx context.Context, topic string, opts core.RunOptions) (core.Report, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, topic string, opts core.RunOptions) (core.Report, error)

func (f RunnerFunc) Run(ctx context.Context, topic string, opts core.RunOptions) (core.Report, error) {
	return f(ctx, topic, opts)
}

// OverridesValidator is implemented by runners that can reject request
// overrides before a job is admitted.
type OverridesValidator interface {
	ValidateOverrides(overrides map[string]any) error
}

// Metrics receives scheduler events.
type Metrics interface {
	JobSubmitted(status string)
	JobFinished(status string, took time.Duration)
	JobsReaped(n int)
	SetLoad(active, queued int)
}

type noopMetrics struct{}

func (noopMetrics) JobSubmitted(string)               {}
func (noopMetrics) JobFinished(string, time.Duration) {}
func (noopMetrics) JobsReaped(int)                    {}
func (noopMetrics) SetLoad(int, int)                  {}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now for job timestamps and reaping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs at most MaxActiveJobs jobs at once. Further submissions wait
// in FIFO order and start as slots free up.
type Scheduler struct {
	runner  Runner
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time

	maxActive    int
	maxAge       time.Duration
	reapInterval time.Duration
	reapSchedule *cronexpr.Expression
	perJob       time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	active  map[string]struct{}
	waiting []string
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler. Call Start to begin reaping.
func New(runner Runner, cfg config.SchedulerConfig, opts ...Option) (*Scheduler, error) {
	cfg = cfg.Normalize()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:       runner,
		logger:       zap.NewNop(),
		metrics:      noopMetrics{},
		now:          time.Now,
		maxActive:    cfg.MaxActiveJobs,
		maxAge:       cfg.MaxJobAge,
		reapInterval: cfg.ReapInterval,
		perJob:       cfg.PerJobEstimate,
		jobs:         make(map[string]*entry),
		active:       make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	if cfg.ReapSchedule != "" {
		expr, err := cronexpr.Parse(cfg.ReapSchedule)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("parse reap_schedule: %w", err)
		}
		s.reapSchedule = expr
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the reaper.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.reapLoop()
}

// Stop cancels running jobs and waits for workers and the reaper to exit or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit registers a job. It starts immediately when a slot is free and is
// queued otherwise.
func (s *Scheduler) Submit(ctx context.Context, req Request) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return Job{}, fmt.Errorf("%w: topic is required", core.ErrValidation)
	}
	if v, ok := s.runner.(OverridesValidator); ok {
		if err := v.ValidateOverrides(req.Overrides); err != nil {
			if !errors.Is(err, core.ErrValidation) {
				err = fmt.Errorf("%w: config_overrides: %v", core.ErrValidation, err)
			}
			return Job{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Job{}, ErrStopped
	}

	e := &entry{req: req, job: Job{ID: uuid.NewString(), CreatedAt: s.now()}}
	s.jobs[e.job.ID] = e

	start := len(s.active) < s.maxActive
	if start {
		e.start()
	} else {
		pos := len(s.waiting) + 1
		wait := int((time.Duration(pos) * s.perJob).Seconds())
		e.job.Status = StatusQueued
		e.job.Message = fmt.Sprintf("Queued (position %d)", pos)
		e.job.QueuePosition = &pos
		e.job.EstimatedWaitSeconds = &wait
		s.waiting = append(s.waiting, e.job.ID)
	}
	out := e.snapshot()
	if start {
		s.launch(e)
	}
	s.metrics.JobSubmitted(string(out.Status))
	s.metrics.SetLoad(len(s.active), len(s.waiting))
	s.logger.Info("job submitted",
		zap.String("job_id", out.ID),
		zap.String("status", string(out.Status)),
		zap.String("topic", req.Topic))
	return out, nil
}

// Status returns the current view of a job.
func (s *Scheduler) Status(id string) (Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.snapshot(), nil
}

// Load is the number of running jobs.
func (s *Scheduler) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Queued is the number of waiting jobs.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

func (s *Scheduler) Capacity() int { return s.maxActive }

// launch must be called with s.mu held.
func (s *Scheduler) launch(e *entry) {
	s.active[e.job.ID] = struct{}{}
	s.wg.Add(1)
	go s.work(e)
}

func (s *Scheduler) work(e *entry) {
	defer s.wg.Done()
	id := e.job.ID
	started := s.now()
	log := s.logger.With(zap.String("job_id", id))

	var status Status
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
			e.fail(fmt.Errorf("panic: %v", r))
			status = StatusFailed
		}
		s.metrics.JobFinished(string(status), s.now().Sub(started))
		s.release(id)
	}()

	report, err := s.runner.Run(s.ctx, e.req.Topic, core.RunOptions{
		RunID:     id,
		Overrides: e.req.Overrides,
		Progress:  e.progress,
	})
	if err != nil {
		log.Error("job failed", zap.Error(err))
		e.fail(err)
		status = StatusFailed
		return
	}
	e.complete(report)
	status = StatusCompleted
	log.Info("job completed", zap.Duration("took", s.now().Sub(started)))
}

// release frees the job's slot and promotes waiting jobs in FIFO order.
func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	for !s.stopped && len(s.active) < s.maxActive && len(s.waiting) > 0 {
		next := s.waiting[0]
		s.waiting = s.waiting[1:]
		e, ok := s.jobs[next]
		if !ok {
			continue
		}
		e.start()
		s.launch(e)
		s.logger.Info("job promoted", zap.String("job_id", next))
	}
	s.metrics.SetLoad(len(s.active), len(s.waiting))
}

func (s *Scheduler) reapLoop() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.reapWait(time.Now()))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.safeReap()
		}
	}
}

// reapWait is how long the reaper sleeps after now. A schedule with no
// further match falls back to the fixed interval.
func (s *Scheduler) reapWait(now time.Time) time.Duration {
	if s.reapSchedule == nil {
		return s.reapInterval
	}
	next := s.reapSchedule.Next(now)
	if next.IsZero() {
		return s.reapInterval
	}
	return next.Sub(now)
}

func (s *Scheduler) safeReap() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reaper pass panicked", zap.Any("panic", r))
		}
	}()
	if n := s.Reap(); n > 0 {
		s.logger.Info("reaped old jobs", zap.Int("count", n))
	}
}

// Reap drops every job older than the maximum job age, whatever its state,
// and returns how many were removed. A running job keeps its slot until its
// worker returns.
func (s *Scheduler) Reap() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, e := range s.jobs {
		if now.Sub(e.job.CreatedAt) > s.maxAge {
			delete(s.jobs, id)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	kept := s.waiting[:0]
	for _, id := range s.waiting {
		if _, ok := s.jobs[id]; ok {
			kept = append(kept, id)
		}
	}
	s.waiting = kept
	s.metrics.JobsReaped(n)
	s.metrics.SetLoad(len(s.active), len(s.waiting))
	return n
}
