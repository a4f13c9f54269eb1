package core

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDispatcherClosed is returned by WaitIdle once the dispatcher is shut down.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// EventLoop binds a dedicated goroutine that executes posted tasks one at a time, in posting order.
//
// The ready queue is unbounded, so posting never blocks; a task may post to its own loop freely.
// Delayed tasks are kept in the loop's own DelayManager and re-posted when due.
type EventLoop struct {
	name   string
	queue  *FIFOTaskQueue
	signal chan struct{}

	delayManager *DelayManager

	// Lifecycle control
	ctx          context.Context
	cancel       context.CancelFunc
	stopped      chan struct{}
	closed       atomic.Bool
	shutdownOnce sync.Once

	executed atomic.Int64
	rejected atomic.Int64

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
}

// NewEventLoop creates and starts an EventLoop with default handlers.
func NewEventLoop(name string) *EventLoop {
	return NewEventLoopWithConfig(name, nil)
}

// NewEventLoopWithConfig creates and starts an EventLoop. It immediately spawns the loop goroutine.
func NewEventLoopWithConfig(name string, config *DispatcherConfig) *EventLoop {
	cfg := config.withDefaults()
	if name == "" {
		name = "event-loop"
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &EventLoop{
		name:                name,
		queue:               NewFIFOTaskQueue(),
		signal:              make(chan struct{}, 1),
		delayManager:        NewDelayManager(),
		ctx:                 ctx,
		cancel:              cancel,
		stopped:             make(chan struct{}),
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}

	go l.runLoop()

	return l
}

// Name returns the name of the event loop
func (l *EventLoop) Name() string {
	return l.name
}

// PostTask submits a task for execution
func (l *EventLoop) PostTask(task Task) {
	l.PostTaskWithTraits(task, DefaultTaskTraits())
}

// PostTaskWithTraits submits a task. Traits are reported to metrics but do not reorder the queue.
func (l *EventLoop) PostTaskWithTraits(task Task, traits TaskTraits) {
	if l.closed.Load() {
		l.reject("shutting down")
		return
	}

	l.queue.Push(task, traits)

	select {
	case l.signal <- struct{}{}:
	default:
		// A wakeup is already pending
	}
}

// PostDelayedTask submits a task that is queued after delay
func (l *EventLoop) PostDelayedTask(task Task, delay time.Duration) DelayHandle {
	return l.PostDelayedTaskWithTraits(task, delay, DefaultTaskTraits())
}

// PostDelayedTaskWithTraits submits a delayed task with traits.
func (l *EventLoop) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) DelayHandle {
	if l.closed.Load() {
		l.reject("shutting down")
		return noDelayHandle{}
	}
	return l.delayManager.AddDelayedTask(task, delay, traits, l)
}

// Shutdown marks the loop as closed and stops it after the task currently executing.
// Pending and delayed tasks are dropped. It is safe to call from a task running on the loop.
func (l *EventLoop) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.closed.Store(true)
		l.delayManager.Stop()
		l.cancel()
	})
}

// Stop shuts the loop down and waits for the loop goroutine to exit.
// It must not be called from a task running on this loop.
func (l *EventLoop) Stop() {
	l.Shutdown()
	<-l.stopped
}

// IsClosed returns true once Shutdown was called
func (l *EventLoop) IsClosed() bool {
	return l.closed.Load()
}

// Done is closed when the loop goroutine has exited.
func (l *EventLoop) Done() <-chan struct{} {
	return l.stopped
}

// WaitIdle blocks until every task posted before the call has executed.
// Delayed tasks that have not fired yet are not waited for.
func (l *EventLoop) WaitIdle(ctx context.Context) error {
	if l.IsClosed() {
		return ErrDispatcherClosed
	}

	done := make(chan struct{})
	l.PostTask(func(context.Context) {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the loop counters.
func (l *EventLoop) Stats() DispatcherStats {
	return DispatcherStats{
		Name:     l.name,
		Type:     "event_loop",
		Pending:  l.queue.Len(),
		Delayed:  l.delayManager.TaskCount(),
		Executed: l.executed.Load(),
		Rejected: l.rejected.Load(),
		Closed:   l.closed.Load(),
	}
}

func (l *EventLoop) reject(reason string) {
	l.rejected.Add(1)
	l.rejectedTaskHandler.HandleRejectedTask(l.name, reason)
	l.metrics.RecordTaskRejected(l.name, reason)
}

// runLoop occupies the dedicated goroutine
func (l *EventLoop) runLoop() {
	defer close(l.stopped)
	defer l.queue.Clear()

	runCtx := context.WithValue(l.ctx, taskRunnerKey, l)

	for {
		if l.ctx.Err() != nil {
			return
		}

		item, ok := l.queue.Pop()
		if ok {
			l.runTask(runCtx, item)
			continue
		}

		select {
		case <-l.signal:
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *EventLoop) runTask(ctx context.Context, item TaskItem) {
	startedAt := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.panicHandler.HandlePanic(ctx, l.name, -1, r, debug.Stack())
			l.metrics.RecordTaskPanic(l.name, r)
		}
		l.executed.Add(1)
		l.metrics.RecordTaskDuration(l.name, item.Traits.Priority, time.Since(startedAt))
		l.metrics.RecordQueueDepth(l.name, l.queue.Len())
	}()
	item.Task(ctx)
}

// noDelayHandle is returned for delayed tasks that were never scheduled.
type noDelayHandle struct{}

func (noDelayHandle) Cancel() bool { return false }
