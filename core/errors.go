package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled matches every error produced by a cancelled job or suspension point.
	ErrCancelled = errors.New("job was cancelled")

	// ErrClosedChannel is returned by Send on a closed channel and by Receive on a closed, drained channel.
	ErrClosedChannel = errors.New("channel is closed")

	// ErrChannelFull is returned by TrySend when the value cannot be accepted without suspending.
	ErrChannelFull = errors.New("channel is full")

	// ErrTimeout is the cancellation cause set by WithTimeout.
	ErrTimeout = errors.New("timed out")

	// ErrRunnerClosed is the cancellation cause of jobs stopped by Runner.Shutdown.
	ErrRunnerClosed = errors.New("runner is closed")

	// ErrBodyExited is the failure of a job whose body left its goroutine with runtime.Goexit.
	ErrBodyExited = errors.New("job body exited without returning")

	// ErrBlockingOnRunner is returned when a job tries to block on its own runner.
	ErrBlockingOnRunner = errors.New("blocking wait from a job of the same runner")
)

// CancellationError is returned by suspension points of a cancelled context and by
// Await on a cancelled job. Cause is the context cause (ErrCancelled, ErrTimeout, ErrRunnerClosed, ...).
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil || e.Cause == ErrCancelled {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.Cause)
}

func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// PanicError is the failure recorded for a job whose body panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// IsCancellation reports whether err means "cancelled" rather than "failed".
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func cancellationError(ctx context.Context) error {
	return &CancellationError{Cause: context.Cause(ctx)}
}
