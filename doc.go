// Package coroutine provides cooperative jobs and channels on top of a single-threaded dispatcher.
//
// A Runner executes jobs on one logical thread of control: its dispatcher (an EventLoop or a
// sequence on a GoroutineThreadPool) lends the baton to one job at a time, and a job only gives
// it back at a suspension point (Delay, Yield, Join, Await, a channel operation that has to
// wait). State shared by the jobs of one runner therefore needs no locks.
//
// # Quick Start
//
//	r := coroutine.NewRunner("main")
//	defer r.Shutdown(ctx)
//
//	coroutine.RunBlocking(ctx, r, func(ctx context.Context) error {
//		ch := coroutine.NewChannel[int](3)
//		r.Launch(ctx, func(ctx context.Context) error {
//			defer ch.Close()
//			for i := range 10 {
//				if err := ch.Send(ctx, i); err != nil {
//					return err
//				}
//			}
//			return nil
//		})
//		return ch.ConsumeEach(ctx, func(v int) error {
//			fmt.Println(v)
//			return nil
//		})
//	})
//
// # Key Concepts
//
// Job: launched with Runner.Launch. It is Created, then Running, then exactly one of Completed,
// Cancelled or Failed. Cancellation is cooperative: Cancel cancels the job's context and the
// body observes it at its next suspension point. A job launched from another job's context is
// its child; the parent is not terminal before its children.
//
// Deferred: a job with a result, created with Async and read with Await.
//
// Channel: a FIFO queue with Rendezvous, bounded or Unlimited capacity. Several consumers
// compete for values; Broadcast gives every subscriber every value.
//
// # Infrastructure
//
// Bootstrap builds a runner together with slog logging, Prometheus metrics and OpenTelemetry
// tracing from a config.Config. The global thread pool (InitGlobalThreadPool, CreateRunner)
// and DefaultRunner cover programs that want a shared runner without wiring one.
package coroutine
