package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a dispatcher task or a job body panics.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the panicked task (may carry the job or dispatcher)
	// - source: The name of the dispatcher or runner where the panic occurred
	// - workerID: The pool worker ID, -1 for event loops and jobs
	// - panicInfo: The recovered value
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, source string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, source string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	fields := []Field{F("source", source), F("panic", panicInfo), F("stack", string(stackTrace))}
	if workerID >= 0 {
		fields = append(fields, F("worker", workerID))
	}
	if job := JobFromContext(ctx); job != nil {
		fields = append(fields, F("job", job.ID().String()))
	}
	logger.Error("task panicked", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects dispatcher and job metrics.
// Methods should be non-blocking and fast; they run on the dispatcher goroutine.
type Metrics interface {
	// RecordTaskDuration records how long one dispatcher task (one job step) ran.
	RecordTaskDuration(dispatcher string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task or job body panicked.
	RecordTaskPanic(source string, panicInfo any)

	// RecordQueueDepth records the ready-queue depth of a dispatcher.
	RecordQueueDepth(dispatcher string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(dispatcher string, reason string)

	// RecordJobFinished records a job reaching a terminal state.
	RecordJobFinished(runner string, state JobState, duration time.Duration)
}

// NilMetrics is a no-op Metrics, the default when none is configured.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(dispatcher string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(source string, panicInfo any)         {}
func (m *NilMetrics) RecordQueueDepth(dispatcher string, depth int)        {}
func (m *NilMetrics) RecordTaskRejected(dispatcher string, reason string)  {}
func (m *NilMetrics) RecordJobFinished(string, JobState, time.Duration)    {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a dispatcher refuses a task because it is shut down.
type RejectedTaskHandler interface {
	HandleRejectedTask(dispatcher string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at debug level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(dispatcher string, reason string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug("task rejected", F("dispatcher", dispatcher), F("reason", reason))
}

// =============================================================================
// JobObserver: lifecycle hooks for tracing
// =============================================================================

// JobObserver is notified when a job body starts and when the job becomes terminal.
// JobStarted runs on the job's goroutine; the context it returns becomes the body's context
// and is handed back to JobFinished.
type JobObserver interface {
	JobStarted(ctx context.Context, info JobInfo) context.Context
	JobFinished(ctx context.Context, record JobRecord)
}

// =============================================================================
// Configuration
// =============================================================================

// DispatcherConfig holds the handlers shared by EventLoop and TaskScheduler.
// Nil fields fall back to defaults.
type DispatcherConfig struct {
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	Logger              Logger
}

// DefaultDispatcherConfig returns a config with default handlers.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              NewNoOpLogger(),
	}
}

func (c *DispatcherConfig) withDefaults() DispatcherConfig {
	var out DispatcherConfig
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	return out
}

// RunnerConfig configures a coroutine Runner.
type RunnerConfig struct {
	// Name labels logs, metrics and job records. Defaults to "runner".
	Name string

	// Dispatcher executes the runner's steps. Nil means a private EventLoop
	// that the runner owns and shuts down.
	Dispatcher Dispatcher

	// HistoryCapacity bounds the terminal job records kept by the runner.
	HistoryCapacity int

	PanicHandler PanicHandler
	Metrics      Metrics
	Logger       Logger
	Observer     JobObserver
}

// DefaultRunnerConfig returns a config with a private event loop and no-op observability.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Name:            "runner",
		HistoryCapacity: defaultJobHistoryCapacity,
	}
}
