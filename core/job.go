package core

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// JobState is the lifecycle state of a Job.
type JobState int

const (
	JobCreated JobState = iota
	JobRunning
	JobCompleted
	JobCancelled
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "created"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Completed, Cancelled or Failed.
func (s JobState) IsTerminal() bool {
	return s >= JobCompleted
}

// =============================================================================
// Launch options
// =============================================================================

type launchOptions struct {
	name string
	lazy bool
}

// LaunchOption configures Launch and Async.
type LaunchOption func(*launchOptions)

// WithName sets the job name used in logs, metrics and job records.
func WithName(name string) LaunchOption {
	return func(o *launchOptions) { o.name = name }
}

// WithLazyStart keeps the job in the Created state until Start, Join or Await is called.
func WithLazyStart() LaunchOption {
	return func(o *launchOptions) { o.lazy = true }
}

// =============================================================================
// Job
// =============================================================================

// Job is a cooperative unit of work launched on a Runner.
//
// The body runs on its own goroutine, but only while the runner's dispatcher has handed it
// the baton; it gives the baton back at every suspension point. Two jobs of the same runner
// therefore never execute at the same time.
type Job struct {
	id        TaskID
	name      string
	runner    *Runner
	parent    *Job
	group     *jobGroup // the group this job is counted in, nil for root jobs
	children  *jobGroup
	body      func(ctx context.Context) error
	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopWatch []func() bool
	createdAt time.Time

	// baton handoff with the dispatcher
	resume        chan struct{}
	yield         chan struct{}
	spawned       bool // touched by step only
	bodyGoroutine atomic.Uint64

	mu         sync.Mutex
	state      JobState
	err        error
	posted     bool
	startedAt  time.Time
	finishedAt time.Time
	panicked   bool
	waiters    []*waiter
	finished   bool
	onDone     []func(*Job)
	done       chan struct{}
}

type jobKeyType struct{}
type groupKeyType struct{}

var (
	jobKey   jobKeyType
	groupKey groupKeyType
)

// JobFromContext returns the job whose body received ctx, or nil.
func JobFromContext(ctx context.Context) *Job {
	if ctx == nil {
		return nil
	}
	if j, ok := ctx.Value(jobKey).(*Job); ok {
		return j
	}
	return nil
}

// RunnerFromContext returns the runner of the job whose body received ctx, or nil.
func RunnerFromContext(ctx context.Context) *Runner {
	if j := JobFromContext(ctx); j != nil {
		return j.runner
	}
	return nil
}

func groupFromContext(ctx context.Context) *jobGroup {
	if g, ok := ctx.Value(groupKey).(*jobGroup); ok {
		return g
	}
	return nil
}

func (j *Job) ID() TaskID { return j.id }

func (j *Job) Name() string { return j.name }

// Runner returns the runner that executes the job.
func (j *Job) Runner() *Runner { return j.runner }

// Parent returns the job that launched this one, or nil for a root job.
func (j *Job) Parent() *Job { return j.parent }

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns nil unless the job is Cancelled (a *CancellationError) or Failed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job is terminal.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// IsActive reports whether the job was started, is not terminal and was not asked to cancel.
func (j *Job) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.posted && !j.state.IsTerminal() && j.ctx.Err() == nil
}

func (j *Job) IsCompleted() bool {
	return j.State().IsTerminal()
}

func (j *Job) IsCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == JobCancelled || (j.ctx.Err() != nil && !j.state.IsTerminal())
}

// Start schedules a lazily launched job. It returns false if the job was already started or is terminal.
func (j *Job) Start() bool {
	j.mu.Lock()
	if j.posted || j.state.IsTerminal() {
		j.mu.Unlock()
		return false
	}
	j.posted = true
	j.mu.Unlock()

	j.runner.dispatcher.PostTask(j.step)
	return true
}

// Cancel requests cooperative cancellation. The body observes it at its next suspension point
// or through its context. A job that has not started yet never runs its body.
// Cancelling a terminal job has no effect.
func (j *Job) Cancel() {
	j.cancel(ErrCancelled)
	j.cancelUnstarted()
}

// cancelUnstarted finishes a job whose context was cancelled before it was ever scheduled.
func (j *Job) cancelUnstarted() {
	j.mu.Lock()
	unstarted := !j.posted && !j.state.IsTerminal()
	if unstarted {
		j.posted = true
	}
	j.mu.Unlock()

	if unstarted {
		j.complete(nil, nil)
	}
}

// Join waits until the job is terminal. Inside a job it suspends; elsewhere it blocks.
// It does not report the job's own cancellation or failure: the only error is a
// *CancellationError when ctx is cancelled first.
func (j *Job) Join(ctx context.Context) error {
	j.Start()

	for {
		j.mu.Lock()
		if j.finished {
			j.mu.Unlock()
			return nil
		}
		w := newWaiter(ctx)
		j.waiters = append(j.waiters, w)
		j.mu.Unlock()

		w.park(ctx)

		select {
		case <-j.done:
			return nil
		default:
		}
		if ctx.Err() != nil {
			j.removeWaiter(w)
			return cancellationError(ctx)
		}
	}
}

// CancelAndJoin cancels the job and waits for it to finish.
func (j *Job) CancelAndJoin(ctx context.Context) error {
	j.Cancel()
	return j.Join(ctx)
}

// OnCompletion registers fn to run once the job is terminal. If it already is, fn runs immediately.
// fn must not block: it runs on whichever goroutine finishes the job.
func (j *Job) OnCompletion(fn func(*Job)) {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		fn(j)
		return
	}
	j.onDone = append(j.onDone, fn)
	j.mu.Unlock()
}

func (j *Job) removeWaiter(w *waiter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, x := range j.waiters {
		if x == w {
			j.waiters = append(j.waiters[:i], j.waiters[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Execution
// =============================================================================

// step is the dispatcher task that lends the baton to the job until it parks or finishes.
func (j *Job) step(context.Context) {
	if !j.spawned {
		j.spawned = true
		if j.ctx.Err() != nil {
			j.complete(nil, nil)
			return
		}
		go j.run()
	}

	r := j.runner
	r.current.Store(j)
	j.resume <- struct{}{}
	<-j.yield
	r.current.Store(nil)
}

// suspend returns the baton and waits to be stepped again.
func (j *Job) suspend() {
	j.yield <- struct{}{}
	<-j.resume
}

func (j *Job) run() {
	<-j.resume
	j.bodyGoroutine.Store(curGoroutineID())

	j.mu.Lock()
	j.state = JobRunning
	j.startedAt = time.Now()
	j.mu.Unlock()

	bodyCtx := j.ctx
	if obs := j.runner.observer; obs != nil {
		bodyCtx = obs.JobStarted(bodyCtx, j.info())
	}

	var err error
	returned := false
	defer func() {
		if !returned {
			err = ErrBodyExited
		}
		// A job is terminal only once all of its children are.
		j.children.waitAll(j.ctx)

		j.complete(err, bodyCtx)
		j.yield <- struct{}{}
	}()

	err = j.invoke(bodyCtx)
	returned = true
}

func (j *Job) invoke(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			j.mu.Lock()
			j.panicked = true
			j.mu.Unlock()
			j.runner.panicHandler.HandlePanic(ctx, j.runner.name, -1, rec, stack)
			j.runner.metrics.RecordTaskPanic(j.runner.name, rec)
			err = &PanicError{Value: rec, Stack: stack}
		}
	}()
	return j.body(ctx)
}

// complete moves the job to its terminal state exactly once.
// bodyCtx is nil when the body never ran.
func (j *Job) complete(bodyErr error, bodyCtx context.Context) {
	state, err := finalState(j.ctx, bodyErr)

	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.err = err
	j.finishedAt = time.Now()
	record := j.recordLocked()
	stops := j.stopWatch
	j.stopWatch = nil
	j.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	j.cancel(context.Canceled)

	r := j.runner
	r.jobFinished(record)
	if bodyCtx != nil && r.observer != nil {
		r.observer.JobFinished(bodyCtx, record)
	}

	j.mu.Lock()
	j.finished = true
	close(j.done)
	waiters := j.waiters
	callbacks := j.onDone
	j.waiters = nil
	j.onDone = nil
	j.mu.Unlock()

	for _, w := range waiters {
		w.wake()
	}
	for _, fn := range callbacks {
		fn(j)
	}

	if j.group != nil {
		j.group.done()
	}
	r.all.done()
}

// finalState classifies a finished body: a non-cancellation error fails the job, a
// cancellation error or a cancelled context cancels it, anything else completes it.
func finalState(ctx context.Context, err error) (JobState, error) {
	switch {
	case err != nil && !IsCancellation(err):
		return JobFailed, err
	case err != nil:
		if !errors.Is(err, ErrCancelled) {
			err = &CancellationError{Cause: err}
		}
		return JobCancelled, err
	case ctx.Err() != nil:
		return JobCancelled, cancellationError(ctx)
	default:
		return JobCompleted, nil
	}
}

func (j *Job) info() JobInfo {
	info := JobInfo{
		ID:         j.id,
		Name:       j.name,
		RunnerName: j.runner.name,
		CreatedAt:  j.createdAt,
	}
	if j.parent != nil {
		info.ParentID = j.parent.id
	}
	return info
}

func (j *Job) recordLocked() JobRecord {
	rec := JobRecord{
		ID:         j.id,
		Name:       j.name,
		RunnerName: j.runner.name,
		State:      j.state,
		Err:        j.err,
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Panicked:   j.panicked,
	}
	if !j.startedAt.IsZero() {
		rec.Duration = j.finishedAt.Sub(j.startedAt)
	}
	return rec
}

// resolveJobName falls back to the body's function name.
func resolveJobName(fn any, explicit string) string {
	if explicit != "" {
		return explicit
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return "anonymous"
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil || f.Name() == "" {
		return "anonymous"
	}
	return f.Name()
}
