package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-coroutine/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RunnerSnapshotProvider provides current runner stats snapshots.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// DispatcherSnapshotProvider provides current dispatcher stats snapshots.
type DispatcherSnapshotProvider interface {
	Stats() core.DispatcherStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports runner, dispatcher and pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu          sync.RWMutex
	runners     map[string]RunnerSnapshotProvider
	dispatchers map[string]DispatcherSnapshotProvider
	pools       map[string]PoolSnapshotProvider

	runnerActive   *prom.GaugeVec
	runnerLaunched *prom.GaugeVec
	runnerFailed   *prom.GaugeVec
	runnerClosed   *prom.GaugeVec

	dispatcherPending  *prom.GaugeVec
	dispatcherDelayed  *prom.GaugeVec
	dispatcherExecuted *prom.GaugeVec
	dispatcherRejected *prom.GaugeVec
	dispatcherClosed   *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolDelayed *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	registered registration

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval:    interval,
		registered:  registration{reg: reg},
		runners:     make(map[string]RunnerSnapshotProvider),
		dispatchers: make(map[string]DispatcherSnapshotProvider),
		pools:       make(map[string]PoolSnapshotProvider),

		runnerActive:   gauge("runner_active_jobs", "Jobs launched and not yet terminal.", "runner"),
		runnerLaunched: gauge("runner_launched_jobs", "Jobs launched since the runner was created.", "runner"),
		runnerFailed:   gauge("runner_failed_jobs", "Jobs that ended Failed.", "runner"),
		runnerClosed:   gauge("runner_closed", "Runner closed state (1=closed, 0=open).", "runner"),

		dispatcherPending:  gauge("dispatcher_pending", "Tasks waiting in the dispatcher queue.", "dispatcher", "type"),
		dispatcherDelayed:  gauge("dispatcher_delayed", "Delayed tasks not yet due.", "dispatcher", "type"),
		dispatcherExecuted: gauge("dispatcher_executed", "Tasks executed by the dispatcher.", "dispatcher", "type"),
		dispatcherRejected: gauge("dispatcher_rejected", "Tasks rejected by the dispatcher.", "dispatcher", "type"),
		dispatcherClosed:   gauge("dispatcher_closed", "Dispatcher closed state (1=closed, 0=open).", "dispatcher", "type"),

		poolQueued:  gauge("pool_queued", "Queued tasks per pool.", "pool"),
		poolActive:  gauge("pool_active", "Active tasks per pool.", "pool"),
		poolDelayed: gauge("pool_delayed", "Delayed tasks per pool.", "pool"),
		poolWorkers: gauge("pool_workers", "Worker count per pool.", "pool"),
		poolRunning: gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.runnerActive, &p.runnerLaunched, &p.runnerFailed, &p.runnerClosed,
		&p.dispatcherPending, &p.dispatcherDelayed, &p.dispatcherExecuted, &p.dispatcherRejected, &p.dispatcherClosed,
		&p.poolQueued, &p.poolActive, &p.poolDelayed, &p.poolWorkers, &p.poolRunning,
	} {
		registered, err := registerCollector(&p.registered, *g)
		if err != nil {
			p.registered.unregister()
			return nil, err
		}
		*g = registered
	}

	return p, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.runners[normalizeLabel(name, "runner")] = provider
	p.mu.Unlock()
}

// AddDispatcher adds or replaces a dispatcher snapshot provider by name.
func (p *SnapshotPoller) AddDispatcher(name string, provider DispatcherSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.dispatchers[normalizeLabel(name, "dispatcher")] = provider
	p.mu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.pools[normalizeLabel(name, "pool")] = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()

	cancel()
	<-done
}

// Unregister removes the gauges this poller registered. Call it after Stop.
func (p *SnapshotPoller) Unregister() {
	if p == nil {
		return
	}
	p.registered.unregister()
}

// CollectOnce exports one snapshot of every provider immediately.
func (p *SnapshotPoller) CollectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.runners {
		stats := provider.Stats()
		p.runnerActive.WithLabelValues(name).Set(float64(stats.Active))
		p.runnerLaunched.WithLabelValues(name).Set(float64(stats.Launched))
		p.runnerFailed.WithLabelValues(name).Set(float64(stats.Failed))
		p.runnerClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}

	for name, provider := range p.dispatchers {
		stats := provider.Stats()
		typeLabel := normalizeLabel(stats.Type, "unknown")
		p.dispatcherPending.WithLabelValues(name, typeLabel).Set(float64(stats.Pending))
		p.dispatcherDelayed.WithLabelValues(name, typeLabel).Set(float64(stats.Delayed))
		p.dispatcherExecuted.WithLabelValues(name, typeLabel).Set(float64(stats.Executed))
		p.dispatcherRejected.WithLabelValues(name, typeLabel).Set(float64(stats.Rejected))
		p.dispatcherClosed.WithLabelValues(name, typeLabel).Set(boolGauge(stats.Closed))
	}

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
