package core

import (
	"context"
	"time"
)

// WorkSource is what pool workers pull tasks from.
type WorkSource interface {
	GetWork(stopCh <-chan struct{}) (Task, bool)
}

// =============================================================================
// ThreadPool: Define task execution interface
// =============================================================================

// ThreadPool executes tasks on a set of worker goroutines.
// SequencedTaskRunner multiplexes one ordered sequence onto it.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits)
	PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) DelayHandle

	Start(ctx context.Context)
	Stop()

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int  // In queue
	ActiveTaskCount() int  // Executing
	DelayedTaskCount() int // Delayed
}
