package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-coroutine/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type runnerStub struct {
	stats core.RunnerStats
}

func (s runnerStub) Stats() core.RunnerStats { return s.stats }

type dispatcherStub struct {
	stats core.DispatcherStats
}

func (s dispatcherStub) Stats() core.DispatcherStats { return s.stats }

type poolStub struct {
	stats core.PoolStats
}

func (s poolStub) Stats() core.PoolStats { return s.stats }

func TestSnapshotPoller_CollectsAllStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("coroutine", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddRunner("runner-a", runnerStub{stats: core.RunnerStats{
		Active:   3,
		Launched: 10,
		Failed:   2,
		Closed:   true,
	}})
	poller.AddDispatcher("loop-a", dispatcherStub{stats: core.DispatcherStats{
		Type:     "event_loop",
		Pending:  5,
		Executed: 42,
		Rejected: 1,
	}})
	poller.AddPool("pool-a", poolStub{stats: core.PoolStats{
		Queued:  4,
		Active:  2,
		Delayed: 1,
		Workers: 8,
		Running: true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		active := testutil.ToFloat64(poller.runnerActive.WithLabelValues("runner-a"))
		pending := testutil.ToFloat64(poller.dispatcherPending.WithLabelValues("loop-a", "event_loop"))
		queued := testutil.ToFloat64(poller.poolQueued.WithLabelValues("pool-a"))
		return active == 3 && pending == 5 && queued == 4
	})

	if got := testutil.ToFloat64(poller.runnerClosed.WithLabelValues("runner-a")); got != 1 {
		t.Fatalf("runner closed gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.runnerFailed.WithLabelValues("runner-a")); got != 2 {
		t.Fatalf("runner failed gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.dispatcherExecuted.WithLabelValues("loop-a", "event_loop")); got != 42 {
		t.Fatalf("dispatcher executed gauge = %v, want 42", got)
	}
	if got := testutil.ToFloat64(poller.poolRunning.WithLabelValues("pool-a")); got != 1 {
		t.Fatalf("pool running gauge = %v, want 1", got)
	}
}

// TestSnapshotPoller_LiveRunner verifies a real runner's stats flow into the gauges
// Given: a runner with two finished jobs registered with the poller
// When: CollectOnce runs
// Then: launched is 2 and the event loop dispatcher is reported open
func TestSnapshotPoller_LiveRunner(t *testing.T) {
	// Arrange
	poller, err := NewSnapshotPoller("", prom.NewRegistry(), time.Second)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}
	r := core.NewRunner("live")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer r.Shutdown(ctx)

	for range 2 {
		if err := r.Launch(ctx, func(ctx context.Context) error { return nil }).Join(ctx); err != nil {
			t.Fatalf("Join() = %v", err)
		}
	}
	poller.AddRunner(r.Name(), r)
	poller.AddDispatcher(r.Name(), r.Dispatcher())

	// Act
	poller.CollectOnce()

	// Assert
	if got := testutil.ToFloat64(poller.runnerLaunched.WithLabelValues("live")); got != 2 {
		t.Errorf("launched gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.dispatcherClosed.WithLabelValues("live", "event_loop")); got != 0 {
		t.Errorf("dispatcher closed gauge = %v, want 0", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("coroutine", reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
