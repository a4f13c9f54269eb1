package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is the unit of work a dispatcher executes (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: Define task attributes (priority, category)
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority.
	// Only the priority scheduler reorders by it; an EventLoop is always FIFO.
	TaskPriorityUserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityBestEffort:
		return "best_effort"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityUserBlocking:
		return "user_blocking"
	default:
		return "unknown"
	}
}

type TaskTraits struct {
	Priority TaskPriority
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

// =============================================================================
// TaskID
// =============================================================================

// TaskID identifies a job or a dispatcher task. The zero value means "no ID".
type TaskID uuid.UUID

// GenerateTaskID returns a new random (v4) TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// =============================================================================
// TaskRunner / Dispatcher: Define task submission interface
// =============================================================================

// DelayHandle controls a delayed task that has not fired yet.
type DelayHandle interface {
	// Cancel removes the task from the timer queue.
	// It returns false when the task already fired or was already cancelled.
	Cancel() bool
}

type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration) DelayHandle
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) DelayHandle
}

// Dispatcher is a TaskRunner that executes its tasks one at a time in posting order.
// A coroutine Runner needs exactly this guarantee from whatever it runs on.
type Dispatcher interface {
	TaskRunner
	Name() string
	Shutdown()
	IsClosed() bool
	Stats() DispatcherStats
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the dispatcher executing the current task, or nil.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
