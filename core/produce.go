package core

import (
	"context"
)

// Produce launches fn as a job on r that feeds a new channel of the given capacity.
// The channel is closed as soon as the job is terminal, whether it completed, failed or was
// cancelled before it ever ran.
func Produce[T any](ctx context.Context, r *Runner, capacity int, fn func(ctx context.Context, out *Channel[T]) error, opts ...LaunchOption) (*Channel[T], *Job) {
	out := NewChannel[T](capacity)
	opts = append([]LaunchOption{WithName(resolveJobName(fn, ""))}, opts...)
	job := r.Launch(ctx, func(ctx context.Context) error {
		return fn(ctx, out)
	}, opts...)
	job.OnCompletion(func(*Job) { out.Close() })
	return out, job
}

// Merge forwards every value of inputs into one channel until all inputs are closed and drained.
// Values of one input keep their order; values of different inputs interleave by arrival.
func Merge[T any](ctx context.Context, r *Runner, capacity int, inputs ...*Channel[T]) (*Channel[T], *Job) {
	return Produce(ctx, r, capacity, func(ctx context.Context, out *Channel[T]) error {
		for _, in := range inputs {
			r.Launch(ctx, func(ctx context.Context) error {
				return in.ConsumeEach(ctx, func(v T) error {
					return out.Send(ctx, v)
				})
			}, WithName("merge-input"))
		}
		return nil
	}, WithName("merge"))
}
