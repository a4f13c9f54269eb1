// Package flow provides cold asynchronous streams on top of the core runner.
//
// A Flow does nothing until it is collected; every Collect runs the producer again, in the
// collecting goroutine or job. Producers suspend through the core primitives (core.Delay,
// channel operations), so a flow collected inside a job never blocks its runner.
package flow

import (
	"context"
	"errors"

	"github.com/Swind/go-coroutine/core"
)

var (
	// ErrAbort is returned by emit once the downstream stopped collecting (Take, First).
	// Producers should return it unchanged so that their deferred cleanup runs and the
	// operator that aborted can recognise it.
	ErrAbort = errors.New("flow: collection aborted")

	// ErrEmpty is returned by First on a flow that emitted nothing.
	ErrEmpty = errors.New("flow: no elements")
)

// abortSignal identifies the operator that stopped the upstream, so nested Takes do not
// swallow each other's aborts.
type abortSignal struct{}

func (*abortSignal) Error() string        { return ErrAbort.Error() }
func (*abortSignal) Is(target error) bool { return target == ErrAbort }

// Flow is a cold stream of T.
type Flow[T any] struct {
	run func(ctx context.Context, emit func(T) error) error
}

// New creates a flow from a producer. emit hands a value downstream and returns its error;
// a producer must stop and return that error when it is non-nil.
func New[T any](producer func(ctx context.Context, emit func(T) error) error) Flow[T] {
	return Flow[T]{run: producer}
}

// Of emits values in order.
func Of[T any](values ...T) Flow[T] {
	return FromSlice(values)
}

// FromSlice emits the elements of s in order.
func FromSlice[T any](s []T) Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		for _, v := range s {
			if err := core.EnsureActive(ctx); err != nil {
				return err
			}
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// FromChannel emits the values received from ch until it is closed and drained.
// Collecting it twice does not replay values: the channel is consumed.
func FromChannel[T any](ch *core.Channel[T]) Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		return ch.ConsumeEach(ctx, emit)
	})
}

// Collect runs the flow and calls fn for every value. It returns the first error of the
// producer or of fn.
func (f Flow[T]) Collect(ctx context.Context, fn func(T) error) error {
	if err := core.EnsureActive(ctx); err != nil {
		return err
	}
	return f.run(ctx, fn)
}

// =============================================================================
// Intermediate operators
// =============================================================================

// Map transforms every value with fn.
func Map[T, R any](f Flow[T], fn func(ctx context.Context, v T) (R, error)) Flow[R] {
	return New(func(ctx context.Context, emit func(R) error) error {
		return f.run(ctx, func(v T) error {
			r, err := fn(ctx, v)
			if err != nil {
				return err
			}
			return emit(r)
		})
	})
}

// Filter keeps the values for which keep returns true.
func Filter[T any](f Flow[T], keep func(v T) bool) Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		return f.run(ctx, func(v T) error {
			if !keep(v) {
				return nil
			}
			return emit(v)
		})
	})
}

// Transform calls fn for every value; fn may emit any number of values downstream.
func Transform[T, R any](f Flow[T], fn func(ctx context.Context, v T, emit func(R) error) error) Flow[R] {
	return New(func(ctx context.Context, emit func(R) error) error {
		return f.run(ctx, func(v T) error {
			return fn(ctx, v, emit)
		})
	})
}

// OnEach calls fn for every value before passing it on unchanged.
func OnEach[T any](f Flow[T], fn func(ctx context.Context, v T) error) Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		return f.run(ctx, func(v T) error {
			if err := fn(ctx, v); err != nil {
				return err
			}
			return emit(v)
		})
	})
}

// Take passes on the first n values and then stops the upstream: the upstream's emit
// returns an error matching ErrAbort right after the nth value.
func Take[T any](f Flow[T], n int) Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		if n <= 0 {
			return nil
		}
		abort := &abortSignal{}
		taken := 0
		err := f.run(ctx, func(v T) error {
			taken++
			if err := emit(v); err != nil {
				return err
			}
			if taken >= n {
				return abort
			}
			return nil
		})
		if errors.Is(err, abort) {
			return nil
		}
		return err
	})
}

// =============================================================================
// Terminal operators
// =============================================================================

// ToList collects every value into a slice.
func ToList[T any](ctx context.Context, f Flow[T]) ([]T, error) {
	var out []T
	err := f.Collect(ctx, func(v T) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first value and stops the upstream, or ErrEmpty.
func First[T any](ctx context.Context, f Flow[T]) (T, error) {
	var (
		first T
		found bool
	)
	err := Take(f, 1).Collect(ctx, func(v T) error {
		first, found = v, true
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return first, ErrEmpty
	}
	return first, nil
}

// Count returns the number of values emitted.
func Count[T any](ctx context.Context, f Flow[T]) (int, error) {
	n := 0
	err := f.Collect(ctx, func(T) error {
		n++
		return nil
	})
	return n, err
}

// Reduce folds the values into an accumulator starting at initial.
func Reduce[T, A any](ctx context.Context, f Flow[T], initial A, fn func(acc A, v T) (A, error)) (A, error) {
	acc := initial
	err := f.Collect(ctx, func(v T) error {
		next, err := fn(acc, v)
		if err != nil {
			return err
		}
		acc = next
		return nil
	})
	return acc, err
}

// ProduceIn collects f in a producer job on r and exposes the values as a channel of the given
// capacity. The channel is closed when the flow ends, fails or the job is cancelled.
func ProduceIn[T any](ctx context.Context, f Flow[T], r *core.Runner, capacity int, opts ...core.LaunchOption) (*core.Channel[T], *core.Job) {
	opts = append([]core.LaunchOption{core.WithName("flow-producer")}, opts...)
	return core.Produce(ctx, r, capacity, func(ctx context.Context, out *core.Channel[T]) error {
		return f.Collect(ctx, func(v T) error {
			return out.Send(ctx, v)
		})
	}, opts...)
}
