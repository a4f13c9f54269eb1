package core

import (
	"bytes"
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// waiter is a one-shot parking spot. Inside a job, parking hands the runner's baton back
// to the dispatcher and waking re-posts the job; anywhere else it is a plain channel wait.
type waiter struct {
	fired atomic.Bool
	job   *Job
	ch    chan struct{}
}

func newWaiter(ctx context.Context) *waiter {
	if j := currentJob(ctx); j != nil {
		return &waiter{job: j}
	}
	return &waiter{ch: make(chan struct{})}
}

// wake resumes the parked caller. Only the first call has an effect.
func (w *waiter) wake() bool {
	if !w.fired.CompareAndSwap(false, true) {
		return false
	}
	if w.job != nil {
		w.job.runner.dispatcher.PostTask(w.job.step)
	} else {
		close(w.ch)
	}
	return true
}

// park blocks until wake. A non-nil ctx also wakes the waiter when it is cancelled;
// the caller re-checks its own condition and ctx afterwards.
func (w *waiter) park(ctx context.Context) {
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { w.wake() })
		defer stop()
	}
	if w.job != nil {
		w.job.suspend()
		return
	}
	<-w.ch
}

// currentJob returns the job that owns ctx when the caller is that job's body goroutine and
// the job holds its runner's baton. Other goroutines sharing the context get nil.
func currentJob(ctx context.Context) *Job {
	if ctx == nil {
		return nil
	}
	j := JobFromContext(ctx)
	if j == nil || j.runner.current.Load() != j {
		return nil
	}
	if gid := j.bodyGoroutine.Load(); gid == 0 || gid != curGoroutineID() {
		return nil
	}
	return j
}

// curGoroutineID parses the current goroutine id from runtime.Stack. It returns 0 on failure.
func curGoroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	var id uint64
	for _, c := range b[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// =============================================================================
// Suspension points
// =============================================================================

// Delay suspends the calling job for d without blocking its runner.
// Outside a job it sleeps the calling goroutine. It returns a *CancellationError if ctx is
// cancelled first.
func Delay(ctx context.Context, d time.Duration) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	w := newWaiter(ctx)
	var stopTimer func() bool
	if w.job != nil {
		h := w.job.runner.dispatcher.PostDelayedTask(func(context.Context) { w.wake() }, d)
		stopTimer = h.Cancel
	} else {
		t := time.AfterFunc(d, func() { w.wake() })
		stopTimer = t.Stop
	}

	w.park(ctx)
	stopTimer()

	return EnsureActive(ctx)
}

// Yield lets every other ready job of the runner run once before the caller continues.
// Outside a job it yields the processor.
func Yield(ctx context.Context) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}

	w := newWaiter(ctx)
	if w.job == nil {
		runtime.Gosched()
		return EnsureActive(ctx)
	}
	w.wake()
	w.park(nil)

	return EnsureActive(ctx)
}

// IsActive reports whether ctx has not been cancelled. Long-running loops poll it.
func IsActive(ctx context.Context) bool {
	return ctx.Err() == nil
}

// EnsureActive returns a *CancellationError once ctx is cancelled, nil otherwise.
func EnsureActive(ctx context.Context) error {
	if ctx.Err() != nil {
		return cancellationError(ctx)
	}
	return nil
}
