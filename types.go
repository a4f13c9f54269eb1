package coroutine

import (
	"context"
	"time"

	"github.com/Swind/go-coroutine/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the coroutine package for most use cases.

// Runner runs jobs on one logical thread of control.
type Runner = core.Runner

// Job is a launched unit of work.
type Job = core.Job

// JobState is the lifecycle state of a Job.
type JobState = core.JobState

// Deferred is a job with a result.
type Deferred[T any] = core.Deferred[T]

// Channel is a FIFO queue between jobs.
type Channel[T any] = core.Channel[T]

// Broadcast delivers every value to every subscriber.
type Broadcast[T any] = core.Broadcast[T]

type LaunchOption = core.LaunchOption
type RunnerConfig = core.RunnerConfig
type RunnerStats = core.RunnerStats
type JobRecord = core.JobRecord

// Task is the unit of work run by a dispatcher.
type Task = core.Task

// TaskTraits defines task attributes (priority, category)
type TaskTraits = core.TaskTraits

// TaskPriority defines the priority levels for tasks
type TaskPriority = core.TaskPriority

type TaskRunner = core.TaskRunner
type Dispatcher = core.Dispatcher
type ThreadPool = core.ThreadPool
type EventLoop = core.EventLoop
type SequencedTaskRunner = core.SequencedTaskRunner

// Job states
const (
	JobCreated   = core.JobCreated
	JobRunning   = core.JobRunning
	JobCompleted = core.JobCompleted
	JobCancelled = core.JobCancelled
	JobFailed    = core.JobFailed
)

// Channel capacities
const (
	Rendezvous = core.Rendezvous
	Unlimited  = core.Unlimited
)

// Priority constants
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Errors
var (
	ErrCancelled        = core.ErrCancelled
	ErrClosedChannel    = core.ErrClosedChannel
	ErrChannelFull      = core.ErrChannelFull
	ErrTimeout          = core.ErrTimeout
	ErrRunnerClosed     = core.ErrRunnerClosed
	ErrBlockingOnRunner = core.ErrBlockingOnRunner
	ErrBodyExited       = core.ErrBodyExited
)

var (
	NewRunner           = core.NewRunner
	NewRunnerWithConfig = core.NewRunnerWithConfig
	NewPooledRunner     = core.NewPooledRunner
	DefaultRunnerConfig = core.DefaultRunnerConfig

	WithName      = core.WithName
	WithLazyStart = core.WithLazyStart

	Delay          = core.Delay
	Yield          = core.Yield
	IsActive       = core.IsActive
	EnsureActive   = core.EnsureActive
	IsCancellation = core.IsCancellation
	Scope          = core.Scope
	RunBlocking    = core.RunBlocking
	JoinAll        = core.JoinAll

	JobFromContext    = core.JobFromContext
	RunnerFromContext = core.RunnerFromContext

	DefaultTaskTraits  = core.DefaultTaskTraits
	TraitsUserBlocking = core.TraitsUserBlocking
	TraitsBestEffort   = core.TraitsBestEffort

	// GetCurrentTaskRunner retrieves the current dispatcher from a task context
	GetCurrentTaskRunner = core.GetCurrentTaskRunner
)

// NewChannel creates a channel with capacity Rendezvous, Unlimited or a positive buffer size.
func NewChannel[T any](capacity int) *Channel[T] {
	return core.NewChannel[T](capacity)
}

func NewBroadcast[T any](capacity int) *Broadcast[T] {
	return core.NewBroadcast[T](capacity)
}

// Async launches fn on r and returns its Deferred result.
func Async[T any](ctx context.Context, r *Runner, fn func(ctx context.Context) (T, error), opts ...LaunchOption) *Deferred[T] {
	return core.Async(ctx, r, fn, opts...)
}

func AwaitAll[T any](ctx context.Context, ds ...*Deferred[T]) ([]T, error) {
	return core.AwaitAll(ctx, ds...)
}

// Produce launches a producer job feeding a new channel that closes when the job ends.
func Produce[T any](ctx context.Context, r *Runner, capacity int, fn func(ctx context.Context, out *Channel[T]) error, opts ...LaunchOption) (*Channel[T], *Job) {
	return core.Produce(ctx, r, capacity, fn, opts...)
}

func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	return core.WithTimeout(ctx, d, fn)
}

// WithTimeoutOrZero reports a timeout as ok == false instead of an error.
func WithTimeoutOrZero[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	return core.WithTimeoutOrZero(ctx, d, fn)
}

// Launch launches fn on the DefaultRunner.
func Launch(ctx context.Context, fn func(ctx context.Context) error, opts ...LaunchOption) *Job {
	return DefaultRunner().Launch(ctx, fn, opts...)
}
