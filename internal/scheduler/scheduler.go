// Package scheduler runs named periodic jobs. Each job has its own ticker,
// runs are serialized per job (a tick that arrives while the previous run is
// still in flight is skipped) and a panicking run never stops the schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	xerrors "GrinderAI-Chain/internal/errors"
)

// Job describes one periodic task.
type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Observer receives run outcomes, typically for metrics.
type Observer interface {
	JobSkipped(name string)
	JobFinished(name string, elapsed time.Duration, err error)
}

// Scheduler owns a set of jobs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []*entry
	started bool

	logger   *slog.Logger
	observer Observer
	wg       sync.WaitGroup
}

type entry struct {
	job     Job
	running atomic.Bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithObserver sets the run observer.
func WithObserver(observer Observer) Option {
	return func(s *Scheduler) { s.observer = observer }
}

// New constructs an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Add registers a job. Jobs cannot be added once Run has been called.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job name and run function are required")
	}
	if job.Interval <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("job %s interval must be positive", job.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return xerrors.New(xerrors.CodeInvalidArgument, "scheduler already started")
	}
	for _, existing := range s.jobs {
		if existing.job.Name == job.Name {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("job %s already registered", job.Name))
		}
	}
	s.jobs = append(s.jobs, &entry{job: job})
	return nil
}

// Run starts every job and blocks until ctx is cancelled and all in-flight
// runs have returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return xerrors.New(xerrors.CodeInvalidArgument, "scheduler already started")
	}
	s.started = true
	jobs := append([]*entry(nil), s.jobs...)
	s.mu.Unlock()

	var loops sync.WaitGroup
	for _, e := range jobs {
		loops.Add(1)
		go func(e *entry) {
			defer loops.Done()
			s.loop(ctx, e)
		}(e)
	}
	loops.Wait()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	s.logger.Info("job scheduled",
		slog.String("job", e.job.Name),
		slog.Duration("interval", e.job.Interval),
		slog.Bool("run_at_start", e.job.RunAtStart))

	if e.job.RunAtStart {
		s.trigger(ctx, e)
	}

	ticker := time.NewTicker(e.job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, e)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in flight, skipping tick", slog.String("job", e.job.Name))
		if s.observer != nil {
			s.observer.JobSkipped(e.job.Name)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		s.execute(ctx, e.job)
	}()
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(runCtx, job)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Log(ctx, xerrors.LevelOf(err), "job run failed",
			append([]any{slog.String("job", job.Name), slog.Duration("elapsed", elapsed)}, xerrors.LogAttrs(err)...)...)
	} else {
		s.logger.Debug("job run finished", slog.String("job", job.Name), slog.Duration("elapsed", elapsed))
	}
	if s.observer != nil {
		s.observer.JobFinished(job.Name, elapsed, err)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("job %s panicked: %v", job.Name, r),
				xerrors.WithMetadata("stack", string(debug.Stack())))
		}
	}()
	return job.Run(ctx)
}
