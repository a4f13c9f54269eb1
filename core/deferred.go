package core

import (
	"context"
)

// Deferred is a job that produces a value.
type Deferred[T any] struct {
	*Job
	value T
}

// Async launches fn on r like Launch; its result is retrieved with Await.
func Async[T any](ctx context.Context, r *Runner, fn func(ctx context.Context) (T, error), opts ...LaunchOption) *Deferred[T] {
	d := &Deferred[T]{}
	opts = append([]LaunchOption{WithName(resolveJobName(fn, ""))}, opts...)
	d.Job = r.Launch(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			d.value = v
		}
		return err
	}, opts...)
	return d
}

// Await waits for the job and returns its value. A cancelled job yields a *CancellationError
// (errors.Is(err, ErrCancelled)); a failed job yields its error. If ctx is cancelled first,
// Await returns a *CancellationError for ctx and leaves the job running.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if err := d.Join(ctx); err != nil {
		return zero, err
	}
	if err := d.Err(); err != nil {
		return zero, err
	}
	return d.value, nil
}

// AwaitAll awaits every deferred in order and returns their values, or the first error.
func AwaitAll[T any](ctx context.Context, ds ...*Deferred[T]) ([]T, error) {
	out := make([]T, 0, len(ds))
	for _, d := range ds {
		v, err := d.Await(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// JoinAll joins every job in order.
func JoinAll(ctx context.Context, jobs ...*Job) error {
	for _, j := range jobs {
		if err := j.Join(ctx); err != nil {
			return err
		}
	}
	return nil
}
