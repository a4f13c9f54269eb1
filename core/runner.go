package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Runner runs coroutine jobs on a single dispatcher: one logical thread of control.
//
// Job bodies only interleave at suspension points (Delay, Yield, Join, Await, channel
// operations that cannot complete immediately), so state shared by the jobs of one runner
// needs no locking as long as no body blocks outside a suspension point.
type Runner struct {
	name           string
	dispatcher     Dispatcher
	ownsDispatcher bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool

	// job currently holding the baton
	current atomic.Pointer[Job]
	all     *jobGroup

	history   *jobHistory
	launched  atomic.Int64
	completed atomic.Int64
	cancelled atomic.Int64
	failed    atomic.Int64

	panicHandler PanicHandler
	metrics      Metrics
	logger       Logger
	observer     JobObserver
}

// NewRunner creates a runner with a private event loop.
func NewRunner(name string) *Runner {
	cfg := DefaultRunnerConfig()
	cfg.Name = name
	return NewRunnerWithConfig(cfg)
}

// NewRunnerWithConfig creates a runner. Without cfg.Dispatcher the runner starts and owns an EventLoop.
func NewRunnerWithConfig(cfg RunnerConfig) *Runner {
	r := newRunner(cfg)
	if cfg.Dispatcher != nil {
		r.dispatcher = cfg.Dispatcher
	} else {
		r.dispatcher = NewEventLoopWithConfig(r.name, r.dispatcherConfig())
		r.ownsDispatcher = true
	}
	return r
}

// NewPooledRunner creates a runner whose jobs run as one sequence on a shared thread pool.
// cfg.Dispatcher is ignored. Shutting the runner down does not stop the pool.
func NewPooledRunner(pool ThreadPool, cfg RunnerConfig) *Runner {
	r := newRunner(cfg)
	r.dispatcher = NewSequencedTaskRunnerWithConfig(r.name, pool, r.dispatcherConfig())
	r.ownsDispatcher = true
	return r
}

func newRunner(cfg RunnerConfig) *Runner {
	if cfg.Name == "" {
		cfg.Name = "runner"
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NilMetrics{}
	}
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = &DefaultPanicHandler{Logger: cfg.Logger}
	}

	r := &Runner{
		name:         cfg.Name,
		all:          newJobGroup(),
		history:      newJobHistory(cfg.HistoryCapacity),
		panicHandler: cfg.PanicHandler,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
	}
	r.ctx, r.cancel = context.WithCancelCause(context.Background())
	return r
}

func (r *Runner) dispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		PanicHandler: r.panicHandler,
		Metrics:      r.metrics,
		Logger:       r.logger,
	}
}

func (r *Runner) Name() string { return r.name }

// Dispatcher returns the dispatcher the runner's jobs are stepped on.
func (r *Runner) Dispatcher() Dispatcher { return r.dispatcher }

func (r *Runner) IsClosed() bool { return r.closed.Load() }

// Launch creates a job running fn and schedules it; fn starts on a later dispatcher turn.
//
// If ctx belongs to a job (or a Scope), the new job is its child: it is cancelled with its
// parent and the parent does not finish before it. Launching on a closed runner returns a
// job that is already Cancelled.
func (r *Runner) Launch(ctx context.Context, fn func(ctx context.Context) error, opts ...LaunchOption) *Job {
	if ctx == nil {
		ctx = context.Background()
	}
	var o launchOptions
	for _, opt := range opts {
		opt(&o)
	}

	j := &Job{
		id:        GenerateTaskID(),
		name:      resolveJobName(fn, o.name),
		runner:    r,
		parent:    JobFromContext(ctx),
		group:     groupFromContext(ctx),
		children:  newJobGroup(),
		body:      fn,
		createdAt: time.Now(),
		resume:    make(chan struct{}),
		yield:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	jctx, cancel := context.WithCancelCause(ctx)
	jctx = context.WithValue(jctx, jobKey, j)
	jctx = context.WithValue(jctx, groupKey, j.children)
	j.ctx = jctx
	j.cancel = cancel

	r.all.add()
	if j.group != nil {
		j.group.add()
	}
	r.launched.Add(1)

	if r.closed.Load() || r.dispatcher.IsClosed() {
		j.cancel(ErrRunnerClosed)
		j.cancelUnstarted()
		return j
	}

	j.mu.Lock()
	j.stopWatch = append(j.stopWatch, context.AfterFunc(r.ctx, func() { j.cancel(context.Cause(r.ctx)) }))
	j.mu.Unlock()
	stopLazy := context.AfterFunc(jctx, j.cancelUnstarted)
	j.mu.Lock()
	j.stopWatch = append(j.stopWatch, stopLazy)
	j.mu.Unlock()

	r.logger.Debug("job launched", F("runner", r.name), F("job", j.name), F("id", j.id.String()))

	if !o.lazy {
		j.Start()
	}
	return j
}

// jobFinished updates counters, history, metrics and logs for a terminal job.
func (r *Runner) jobFinished(rec JobRecord) {
	switch rec.State {
	case JobCompleted:
		r.completed.Add(1)
	case JobCancelled:
		r.cancelled.Add(1)
	case JobFailed:
		r.failed.Add(1)
		r.logger.Warn("job failed",
			F("runner", r.name), F("job", rec.Name), F("id", rec.ID.String()), F("error", rec.Err))
	}
	r.history.Add(rec)
	r.metrics.RecordJobFinished(r.name, rec.State, rec.Duration)
	r.logger.Debug("job finished",
		F("runner", r.name), F("job", rec.Name), F("state", rec.State.String()), F("duration", rec.Duration))
}

// Shutdown cancels every job with cause ErrRunnerClosed, waits until they are all terminal,
// then stops the dispatcher if the runner created it. New jobs are rejected from the first call on.
// It returns a wrapped *CancellationError if ctx expires before the jobs finished; the
// dispatcher then keeps stepping the remaining jobs and stops once the last one is terminal.
func (r *Runner) Shutdown(ctx context.Context) error {
	if j := currentJob(ctx); j != nil && j.runner == r {
		return ErrBlockingOnRunner
	}

	if r.closed.CompareAndSwap(false, true) {
		r.logger.Info("runner shutting down", F("runner", r.name), F("active", r.all.count()))
	}
	r.cancel(ErrRunnerClosed)

	err := r.all.wait(ctx)
	if err != nil {
		r.logger.Warn("runner shutdown timed out", F("runner", r.name), F("active", r.all.count()))
		err = fmt.Errorf("shutdown runner %s: %w", r.name, err)
	}

	if r.ownsDispatcher {
		r.all.whenEmpty(r.dispatcher.Shutdown)
	}
	return err
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() RunnerStats {
	stats := RunnerStats{
		Name:       r.name,
		Dispatcher: r.dispatcher.Name(),
		Active:     r.all.count(),
		Launched:   r.launched.Load(),
		Completed:  r.completed.Load(),
		Cancelled:  r.cancelled.Load(),
		Failed:     r.failed.Load(),
		Closed:     r.closed.Load(),
	}
	if last, ok := r.history.Last(); ok {
		stats.LastJob = last.Name
		stats.LastJobAt = last.FinishedAt
	}
	return stats
}

// RecentJobs returns up to limit terminal job records, newest first. limit <= 0 returns all kept records.
func (r *Runner) RecentJobs(limit int) []JobRecord {
	return r.history.Recent(limit)
}
