package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TaskScheduler is the ready queue shared by the workers of a GoroutineThreadPool.
type TaskScheduler struct {
	name        string
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	metricQueued int32 // Waiting in ReadyQueue
	metricActive int32 // Executing in Worker

	// Handlers and Metrics
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	// Lifecycle
	shuttingDown int32 // atomic flag
}

func NewPriorityTaskScheduler(workerCount int) *TaskScheduler {
	return NewPriorityTaskSchedulerWithConfig(workerCount, nil)
}

func NewPriorityTaskSchedulerWithConfig(workerCount int, config *DispatcherConfig) *TaskScheduler {
	return newTaskScheduler(workerCount, NewPriorityTaskQueue(), config)
}

func NewFIFOTaskScheduler(workerCount int) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig(workerCount, nil)
}

func NewFIFOTaskSchedulerWithConfig(workerCount int, config *DispatcherConfig) *TaskScheduler {
	return newTaskScheduler(workerCount, NewFIFOTaskQueue(), config)
}

func newTaskScheduler(workerCount int, queue TaskQueue, config *DispatcherConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	cfg := config.withDefaults()
	return &TaskScheduler{
		name:                "TaskScheduler",
		queue:               queue,
		signal:              make(chan struct{}, workerCount*2),
		workerCount:         workerCount,
		delayManager:        NewDelayManager(),
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// PostInternal queues a task for the next free worker.
func (s *TaskScheduler) PostInternal(task Task, traits TaskTraits) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.rejectedTaskHandler.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return
	}

	s.queue.Push(task, traits)
	queued := atomic.AddInt32(&s.metricQueued, 1) // Metric++
	s.metrics.RecordQueueDepth(s.name, int(queued))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
}

// PostDelayedInternal posts task to target once delay has elapsed.
func (s *TaskScheduler) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) DelayHandle {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.rejectedTaskHandler.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return noDelayHandle{}
	}
	return s.delayManager.AddDelayedTask(task, delay, traits, target)
}

// GetWork blocks until a task is available or stopCh closes (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if item, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1) // Metric-- (Left Queue)
			return item.Task, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (s *TaskScheduler) Shutdown() {
	// 1. Mark as shutting down to stop accepting new tasks
	atomic.StoreInt32(&s.shuttingDown, 1)

	// 2. Stop DelayManager (no more new tasks generated)
	s.delayManager.Stop()

	// 3. Clear queue to release all task references (including runLoop bound methods)
	s.queue.Clear()
	atomic.StoreInt32(&s.metricQueued, 0)
}

// ShutdownGraceful waits for all queued and active tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.queue.Clear()
			atomic.StoreInt32(&s.metricQueued, 0)
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

// IsShuttingDown reports whether Shutdown or ShutdownGraceful was called.
func (s *TaskScheduler) IsShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) == 1
}

// Metrics
func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) DelayedTaskCount() int {
	return s.delayManager.TaskCount()
}

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}
