package core

import (
	"context"
	"sync"
)

// jobGroup counts unfinished jobs and wakes waiters when the count drops to zero.
type jobGroup struct {
	mu      sync.Mutex
	active  int
	waiters []*waiter
	onEmpty []func()
}

func newJobGroup() *jobGroup {
	return &jobGroup{}
}

func (g *jobGroup) add() {
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
}

func (g *jobGroup) done() {
	g.mu.Lock()
	g.active--
	var waiters []*waiter
	var callbacks []func()
	if g.active == 0 {
		waiters = g.waiters
		callbacks = g.onEmpty
		g.waiters = nil
		g.onEmpty = nil
	}
	g.mu.Unlock()

	for _, w := range waiters {
		w.wake()
	}
	for _, fn := range callbacks {
		fn()
	}
}

// whenEmpty runs fn once the group is empty, immediately if it already is.
func (g *jobGroup) whenEmpty(fn func()) {
	g.mu.Lock()
	if g.active == 0 {
		g.mu.Unlock()
		fn()
		return
	}
	g.onEmpty = append(g.onEmpty, fn)
	g.mu.Unlock()
}

func (g *jobGroup) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// wait returns once the group is empty, or with a *CancellationError when ctx is cancelled first.
func (g *jobGroup) wait(ctx context.Context) error {
	return g.waitFor(ctx, true)
}

// waitAll returns once the group is empty. ctx only tells whether the caller is a job.
func (g *jobGroup) waitAll(ctx context.Context) {
	_ = g.waitFor(ctx, false)
}

func (g *jobGroup) waitFor(ctx context.Context, cancellable bool) error {
	for {
		g.mu.Lock()
		if g.active == 0 {
			g.mu.Unlock()
			return nil
		}
		w := newWaiter(ctx)
		g.waiters = append(g.waiters, w)
		g.mu.Unlock()

		if !cancellable {
			w.park(nil)
			continue
		}

		w.park(ctx)
		if ctx.Err() != nil {
			g.removeWaiter(w)
			if g.count() == 0 {
				return nil
			}
			return cancellationError(ctx)
		}
	}
}

func (g *jobGroup) removeWaiter(w *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, x := range g.waiters {
		if x == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Structured scopes
// =============================================================================

// Scope runs fn inline and returns only after every job launched with fn's context
// (on any runner) is terminal. If fn returns an error, those jobs are cancelled first.
// A failing child does not cancel the scope or its siblings.
func Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	g := newJobGroup()
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)
	sctx = context.WithValue(sctx, groupKey, g)

	err := fn(sctx)
	if err != nil {
		cancel(err)
	}

	// children are waited for with the caller's context so a job caller suspends
	g.waitAll(ctx)
	return err
}

// RunBlocking launches fn as a job on r and blocks the calling goroutine until the job and
// all of its children are terminal. It returns the job's error (nil when Completed).
// Calling it from a job of r would deadlock the runner, so it returns ErrBlockingOnRunner instead.
func RunBlocking(ctx context.Context, r *Runner, fn func(ctx context.Context) error, opts ...LaunchOption) error {
	if j := currentJob(ctx); j != nil && j.runner == r {
		return ErrBlockingOnRunner
	}

	job := r.Launch(ctx, fn, opts...)
	<-job.Done()
	return job.Err()
}
