package core

import (
	"context"
	"errors"
	"time"
)

// WithTimeout runs fn inline with a context that is cancelled after d with cause ErrTimeout.
// fn's suspension points then return a *CancellationError that matches both ErrCancelled and
// ErrTimeout, and so does WithTimeout. A fn that finishes successfully keeps its result even
// if the deadline passed meanwhile.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
	defer cancel()

	v, err := fn(tctx)
	if err != nil {
		var zero T
		if timedOut(ctx, tctx) && IsCancellation(err) && !errors.Is(err, ErrTimeout) {
			err = &CancellationError{Cause: ErrTimeout}
		}
		return zero, err
	}
	return v, nil
}

// WithTimeoutOrZero is WithTimeout that reports a timeout as ok == false instead of an error.
// Cancellation of ctx itself is still returned as an error.
func WithTimeoutOrZero[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (v T, ok bool, err error) {
	tctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
	defer cancel()

	v, err = fn(tctx)
	if err != nil {
		var zero T
		if timedOut(ctx, tctx) && IsCancellation(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return v, true, nil
}

// timedOut reports whether tctx ended because of its own deadline rather than its parent.
func timedOut(parent, tctx context.Context) bool {
	return parent.Err() == nil && errors.Is(context.Cause(tctx), ErrTimeout)
}
