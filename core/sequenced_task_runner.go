package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SequencedTaskRunner runs its tasks one at a time in posting order on a shared ThreadPool.
// Consecutive tasks may run on different worker goroutines but never overlap.
type SequencedTaskRunner struct {
	name          string
	threadPool    ThreadPool
	queue         TaskQueue
	mu            sync.Mutex
	isRunning     bool
	activeRunners int32       // atomic guard for concurrency assertion
	closed        atomic.Bool // indicates if the runner is closed

	executed atomic.Int64
	rejected atomic.Int64

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
}

func NewSequencedTaskRunner(threadPool ThreadPool) *SequencedTaskRunner {
	return NewSequencedTaskRunnerWithConfig("sequence", threadPool, nil)
}

func NewSequencedTaskRunnerWithConfig(name string, threadPool ThreadPool, config *DispatcherConfig) *SequencedTaskRunner {
	cfg := config.withDefaults()
	if name == "" {
		name = "sequence"
	}
	return &SequencedTaskRunner{
		name:                name,
		threadPool:          threadPool,
		queue:               NewFIFOTaskQueue(),
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// Name returns the name of the sequence
func (r *SequencedTaskRunner) Name() string {
	return r.name
}

// ThreadPool returns the pool this sequence runs on
func (r *SequencedTaskRunner) ThreadPool() ThreadPool {
	return r.threadPool
}

func (r *SequencedTaskRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) DelayHandle {
	if r.closed.Load() {
		r.reject("shutting down")
		return noDelayHandle{}
	}
	return r.threadPool.PostDelayedInternal(task, delay, traits, r)
}

func (r *SequencedTaskRunner) PostDelayedTask(task Task, delay time.Duration) DelayHandle {
	return r.PostDelayedTaskWithTraits(task, delay, DefaultTaskTraits())
}

func (r *SequencedTaskRunner) runLoop(ctx context.Context) {
	// Repost only after the assertion guard is released
	if more, nextTraits := r.runOne(ctx); more {
		r.rePostSelf(nextTraits)
	}
}

// runOne executes a single task and reports whether the queue still has work.
func (r *SequencedTaskRunner) runOne(ctx context.Context) (bool, TaskTraits) {
	// Assertion: Ensure strictly one goroutine at a time
	if n := atomic.AddInt32(&r.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("SequencedTaskRunner: concurrent runLoop detected (count=%d)", n))
	}
	defer atomic.AddInt32(&r.activeRunners, -1)

	runCtx := context.WithValue(ctx, taskRunnerKey, r)

	// 1. Fetch SINGLE task
	r.mu.Lock()
	item, ok := r.queue.Pop()
	if !ok {
		r.isRunning = false
		r.mu.Unlock()
		return false, TaskTraits{}
	}
	r.mu.Unlock()

	// 2. Execute ONE task
	r.runTask(runCtx, item)

	// 3. Yield to the pool between every task
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue.IsEmpty() {
		r.isRunning = false
		return false, TaskTraits{}
	}
	nextTraits, _ := r.queue.PeekTraits()
	return true, nextTraits
}

func (r *SequencedTaskRunner) runTask(ctx context.Context, item TaskItem) {
	startedAt := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.panicHandler.HandlePanic(ctx, r.name, -1, rec, debug.Stack())
			r.metrics.RecordTaskPanic(r.name, rec)
		}
		r.executed.Add(1)
		r.metrics.RecordTaskDuration(r.name, item.Traits.Priority, time.Since(startedAt))
	}()
	item.Task(ctx)
}

// scheduleRunLoop starts runLoop (if not already running)
func (r *SequencedTaskRunner) scheduleRunLoop(traits TaskTraits) {
	r.mu.Lock()
	if !r.isRunning {
		r.isRunning = true
		r.mu.Unlock()
		r.threadPool.PostInternal(r.runLoop, traits)
	} else {
		r.mu.Unlock()
	}
}

// rePostSelf re-submits runLoop to Scheduler (for Yield)
func (r *SequencedTaskRunner) rePostSelf(traits TaskTraits) {
	r.threadPool.PostInternal(r.runLoop, traits)
}

// PostTask submits task (using default Traits)
func (r *SequencedTaskRunner) PostTask(task Task) {
	r.PostTaskWithTraits(task, DefaultTaskTraits())
}

// PostTaskWithTraits submits task with traits
func (r *SequencedTaskRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	if r.closed.Load() {
		r.reject("shutting down")
		return
	}
	r.mu.Lock()
	r.queue.Push(task, traits)
	r.mu.Unlock()
	r.metrics.RecordQueueDepth(r.name, r.queue.Len())
	r.scheduleRunLoop(traits)
}

func (r *SequencedTaskRunner) reject(reason string) {
	r.rejected.Add(1)
	r.rejectedTaskHandler.HandleRejectedTask(r.name, reason)
	r.metrics.RecordTaskRejected(r.name, reason)
}

// =============================================================================
// Shutdown and Lifecycle Management
// =============================================================================

// Shutdown stops the runner by:
// 1. Marking it as closed (stops accepting new tasks)
// 2. Clearing all pending tasks in the queue
//
// Note: This will not interrupt currently executing tasks.
func (r *SequencedTaskRunner) Shutdown() {
	r.closed.Store(true)

	r.mu.Lock()
	r.queue.Clear()
	r.mu.Unlock()
}

// IsClosed returns true if the runner has been shut down.
func (r *SequencedTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Stats returns a snapshot of the sequence counters.
func (r *SequencedTaskRunner) Stats() DispatcherStats {
	return DispatcherStats{
		Name:     r.name,
		Type:     "sequenced",
		Pending:  r.queue.Len(),
		Delayed:  r.threadPool.DelayedTaskCount(),
		Executed: r.executed.Load(),
		Rejected: r.rejected.Load(),
		Closed:   r.closed.Load(),
	}
}
