package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestRunner_Shutdown verifies shutdown cancels running jobs and rejects new ones
// Given: A runner with three jobs suspended in long delays
// When: Shutdown is called
// Then: Every job is Cancelled with cause ErrRunnerClosed and later launches are Cancelled at once
func TestRunner_Shutdown(t *testing.T) {
	// Arrange
	r := NewRunner("shutdown")
	ctx := testCtx(t)
	var jobs []*Job
	for i := 0; i < 3; i++ {
		jobs = append(jobs, r.Launch(ctx, func(ctx context.Context) error {
			return Delay(ctx, time.Hour)
		}))
	}
	waitUntil(t, 2*time.Second, "jobs to start", func() bool {
		for _, j := range jobs {
			if !j.IsActive() || j.State() != JobRunning {
				return false
			}
		}
		return true
	})

	// Act
	err := r.Shutdown(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	for i, j := range jobs {
		if j.State() != JobCancelled || !errors.Is(j.Err(), ErrRunnerClosed) {
			t.Errorf("job %d: state = %v, err = %v", i, j.State(), j.Err())
		}
	}
	if !r.IsClosed() || !r.Dispatcher().IsClosed() {
		t.Error("runner or its owned dispatcher still open after Shutdown")
	}

	// Act - Launch after shutdown
	late := r.Launch(ctx, func(ctx context.Context) error { return nil })

	// Assert
	if late.State() != JobCancelled || !errors.Is(late.Err(), ErrRunnerClosed) {
		t.Errorf("late job: state = %v, err = %v", late.State(), late.Err())
	}
	if err := late.Join(ctx); err != nil {
		t.Errorf("Join() on a rejected job = %v", err)
	}
}

// TestRunner_ShutdownTimeout verifies Shutdown gives up when a body ignores cancellation
func TestRunner_ShutdownTimeout(t *testing.T) {
	// Arrange
	r := NewRunner("stuck")
	release := make(chan struct{})
	started := make(chan struct{})
	job := r.Launch(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	shortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// Act
	err := r.Shutdown(shortCtx)

	// Assert
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() = %v, want a wrapped deadline cancellation", err)
	}

	// Cleanup
	close(release)
	waitTimeout(t, job.Done(), 2*time.Second, "stuck job to finish")
	if job.State() != JobCancelled {
		t.Errorf("state = %v, want cancelled", job.State())
	}
}

// TestRunner_ShutdownTimeoutKeepsSteppingJobs verifies a timed-out Shutdown does not strand suspended jobs
// Given: A job suspended in a delay that ignores cancellation
// When: Shutdown gives up before the delay ends
// Then: The job still resumes and ends Cancelled, and the owned dispatcher closes afterwards
func TestRunner_ShutdownTimeoutKeepsSteppingJobs(t *testing.T) {
	// Arrange
	r := NewRunner("stranded")
	started := make(chan struct{})
	job := r.Launch(context.Background(), func(ctx context.Context) error {
		close(started)
		_ = Delay(context.WithoutCancel(ctx), 50*time.Millisecond)
		return EnsureActive(ctx)
	})
	<-started
	shortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Act
	err := r.Shutdown(shortCtx)

	// Assert
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() = %v, want a deadline error", err)
	}
	waitTimeout(t, job.Done(), 2*time.Second, "stranded job to finish")
	if job.State() != JobCancelled || !errors.Is(job.Err(), ErrRunnerClosed) {
		t.Errorf("state = %v, err = %v; want cancelled by runner close", job.State(), job.Err())
	}
	waitUntil(t, 2*time.Second, "dispatcher to close", r.Dispatcher().IsClosed)
}

// TestRunner_ShutdownFromOwnJob verifies a job cannot block on its own runner
func TestRunner_ShutdownFromOwnJob(t *testing.T) {
	// Arrange
	r := newTestRunner(t)
	ctx := testCtx(t)
	var shutdownErr, blockingErr error

	// Act
	job := r.Launch(ctx, func(ctx context.Context) error {
		shutdownErr = r.Shutdown(ctx)
		blockingErr = RunBlocking(ctx, r, func(ctx context.Context) error { return nil })
		return nil
	})
	_ = job.Join(ctx)

	// Assert
	if !errors.Is(shutdownErr, ErrBlockingOnRunner) {
		t.Errorf("Shutdown() from a job = %v, want ErrBlockingOnRunner", shutdownErr)
	}
	if !errors.Is(blockingErr, ErrBlockingOnRunner) {
		t.Errorf("RunBlocking() from a job = %v, want ErrBlockingOnRunner", blockingErr)
	}
	if r.IsClosed() {
		t.Error("runner closed by a rejected Shutdown")
	}
}

// TestRunner_RunBlockingAcrossRunners verifies a job may block on a different runner
func TestRunner_RunBlockingAcrossRunners(t *testing.T) {
	// Arrange
	a := newTestRunner(t)
	b := newTestRunner(t)
	ctx := testCtx(t)
	var inner error

	// Act
	err := RunBlocking(ctx, a, func(ctx context.Context) error {
		inner = RunBlocking(ctx, b, func(ctx context.Context) error {
			if RunnerFromContext(ctx) != b {
				return errors.New("wrong runner in context")
			}
			return Delay(ctx, 5*time.Millisecond)
		})
		return inner
	})

	// Assert
	if err != nil || inner != nil {
		t.Errorf("RunBlocking() = %v, inner = %v", err, inner)
	}
}

// TestRunner_StatsAndHistory verifies counters and job records
// Main test items:
// 1. Launched/Completed/Cancelled/Failed counters
// 2. RecentJobs newest first with names and states
// 3. LastJob and Dispatcher name in Stats
func TestRunner_StatsAndHistory(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	cfg := DefaultRunnerConfig()
	cfg.Name = "stats"
	cfg.Metrics = metrics
	cfg.HistoryCapacity = 10
	r := NewRunnerWithConfig(cfg)
	ctx := testCtx(t)

	// Act
	ok := r.Launch(ctx, func(ctx context.Context) error { return nil }, WithName("ok"))
	bad := r.Launch(ctx, func(ctx context.Context) error { return errors.New("bad") }, WithName("bad"))
	cancelled := r.Launch(ctx, func(ctx context.Context) error { return Delay(ctx, time.Hour) }, WithName("cancelled"))
	_ = JoinAll(ctx, ok, bad)
	_ = cancelled.CancelAndJoin(ctx)
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	// Assert
	stats := r.Stats()
	if stats.Launched != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Cancelled != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Active != 0 || !stats.Closed || stats.Name != "stats" || stats.Dispatcher != "stats" {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.LastJob != "cancelled" {
		t.Errorf("LastJob = %q, want cancelled", stats.LastJob)
	}
	recs := r.RecentJobs(0)
	if len(recs) != 3 {
		t.Fatalf("len(RecentJobs(0)) = %d, want 3", len(recs))
	}
	if recs[0].Name != "cancelled" || recs[0].State != JobCancelled ||
		recs[2].Name != "ok" || recs[2].State != JobCompleted {
		t.Errorf("RecentJobs(0) = %+v", recs)
	}
	if recs[1].Err == nil || recs[1].RunnerName != "stats" {
		t.Errorf("failed record = %+v", recs[1])
	}
	if metrics.Finished(JobCompleted) != 1 || metrics.Finished(JobFailed) != 1 || metrics.Finished(JobCancelled) != 1 {
		t.Error("RecordJobFinished was not called once per state")
	}
}

// TestRunner_Pooled verifies a runner stepped by a sequence on a shared pool
// Given: Two pooled runners on one 2-worker pool
// When: Each runs jobs that delay and count
// Then: Both finish and shutting them down leaves the pool running
func TestRunner_Pooled(t *testing.T) {
	// Arrange
	pool := newTestPool(2)
	pool.Start(context.Background())
	defer pool.Stop()
	ctx := testCtx(t)
	var total atomic.Int32

	var runners []*Runner
	for _, name := range []string{"p1", "p2"} {
		cfg := DefaultRunnerConfig()
		cfg.Name = name
		runners = append(runners, NewPooledRunner(pool, cfg))
	}

	// Act
	var jobs []*Job
	for _, r := range runners {
		for i := 0; i < 5; i++ {
			jobs = append(jobs, r.Launch(ctx, func(ctx context.Context) error {
				if err := Delay(ctx, 5*time.Millisecond); err != nil {
					return err
				}
				total.Add(1)
				return nil
			}))
		}
	}
	err := JoinAll(ctx, jobs...)
	for _, r := range runners {
		if err := r.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown(%s) = %v", r.Name(), err)
		}
	}

	// Assert
	if err != nil {
		t.Fatalf("JoinAll() = %v", err)
	}
	if n := total.Load(); n != 10 {
		t.Errorf("total = %d, want 10", n)
	}
	if !pool.IsRunning() {
		t.Error("pool stopped by runner shutdown")
	}
	if stats := runners[0].Dispatcher().Stats(); stats.Type != "sequenced" {
		t.Errorf("dispatcher type = %q, want sequenced", stats.Type)
	}
}

// TestRunner_ExternalDispatcher verifies a runner does not stop a dispatcher it does not own
func TestRunner_ExternalDispatcher(t *testing.T) {
	// Arrange
	loop := NewEventLoop("shared")
	defer loop.Stop()
	cfg := DefaultRunnerConfig()
	cfg.Dispatcher = loop
	r := NewRunnerWithConfig(cfg)

	// Act
	err := RunBlocking(testCtx(t), r, func(ctx context.Context) error { return Yield(ctx) })
	shutdownErr := r.Shutdown(testCtx(t))

	// Assert
	if err != nil || shutdownErr != nil {
		t.Fatalf("RunBlocking() = %v, Shutdown() = %v", err, shutdownErr)
	}
	if loop.IsClosed() {
		t.Error("external dispatcher closed by runner shutdown")
	}
}

// recordingObserver records job lifecycle callbacks
type recordingObserver struct {
	mu       sync.Mutex
	started  []JobInfo
	finished []JobRecord
	sawValue bool
}

type observerKey struct{}

func (o *recordingObserver) JobStarted(ctx context.Context, info JobInfo) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
	return context.WithValue(ctx, observerKey{}, info.ID)
}

func (o *recordingObserver) JobFinished(ctx context.Context, record JobRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, record)
	if id, ok := ctx.Value(observerKey{}).(TaskID); ok && id == record.ID {
		o.sawValue = true
	}
}

// TestRunner_Observer verifies observer hooks wrap the body
// Given: A runner with an observer that decorates the context
// When: A parent and a child job run
// Then: The body sees the decorated context and both hooks fire with matching IDs
func TestRunner_Observer(t *testing.T) {
	// Arrange
	obs := &recordingObserver{}
	cfg := DefaultRunnerConfig()
	cfg.Name = "observed"
	cfg.Observer = obs
	r := NewRunnerWithConfig(cfg)
	defer r.Shutdown(context.Background())
	var bodySaw bool

	// Act
	err := RunBlocking(testCtx(t), r, func(ctx context.Context) error {
		_, bodySaw = ctx.Value(observerKey{}).(TaskID)
		r.Launch(ctx, func(ctx context.Context) error { return nil }, WithName("child"))
		return nil
	}, WithName("parent"))

	// Assert
	if err != nil {
		t.Fatalf("RunBlocking() = %v", err)
	}
	if !bodySaw {
		t.Error("body did not receive the observer context")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.started) != 2 || len(obs.finished) != 2 {
		t.Fatalf("started = %d, finished = %d; want 2 each", len(obs.started), len(obs.finished))
	}
	if obs.started[1].Name != "child" || obs.started[1].ParentID != obs.started[0].ID {
		t.Errorf("child info = %+v, parent ID = %v", obs.started[1], obs.started[0].ID)
	}
	if !obs.sawValue {
		t.Error("JobFinished did not receive the context returned by JobStarted")
	}
}
