package coroutine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-coroutine/core"
)

// GoroutineThreadPool runs pool tasks on a fixed set of worker goroutines pulling from a TaskScheduler.
// Pooled runners multiplex their job steps onto it as sequences.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a FIFO pool with default handlers.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, nil)
}

// NewGoroutineThreadPoolWithConfig creates a FIFO pool; nil config fields use defaults.
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.DispatcherConfig) *GoroutineThreadPool {
	return newPool(id, workers, core.NewFIFOTaskSchedulerWithConfig(workers, config))
}

// NewPriorityGoroutineThreadPool creates a pool that runs higher-priority sequences first.
func NewPriorityGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewPriorityGoroutineThreadPoolWithConfig(id, workers, nil)
}

func NewPriorityGoroutineThreadPoolWithConfig(id string, workers int, config *core.DispatcherConfig) *GoroutineThreadPool {
	return newPool(id, workers, core.NewPriorityTaskSchedulerWithConfig(workers, config))
}

func newPool(id string, workers int, scheduler *core.TaskScheduler) *GoroutineThreadPool {
	if workers <= 0 {
		workers = 1
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: scheduler,
	}
}

// Start starts all worker goroutines; calling it on a running pool does nothing.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop shuts the scheduler down, dropping queued tasks, and waits for the workers to exit.
func (tg *GoroutineThreadPool) Stop() {
	// The scheduler is shut down even for a pool that never started so its delay goroutine exits.
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	tg.stopWorkers()
}

// StopGraceful waits up to timeout for queued tasks to drain, then stops the workers.
// It returns the scheduler's timeout error if the queue did not drain in time.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)
	tg.stopWorkers()
	return err
}

func (tg *GoroutineThreadPool) stopWorkers() {
	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		tg.scheduler.OnTaskStart()
		tg.runTask(ctx, id, task)
	}
}

// runTask keeps the worker alive when a task panics. Sequenced runners recover their own
// tasks, so this only catches tasks posted to the pool directly.
func (tg *GoroutineThreadPool) runTask(ctx context.Context, workerID int, task core.Task) {
	defer func() {
		tg.scheduler.OnTaskEnd()
		if r := recover(); r != nil {
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, workerID, r, debug.Stack())
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
		}
	}()
	task(ctx)
}

// Join waits for all worker goroutines to finish.
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

func (tg *GoroutineThreadPool) DelayedTaskCount() int {
	return tg.scheduler.DelayedTaskCount()
}

// GetScheduler exposes the scheduler for advanced wiring and tests.
func (tg *GoroutineThreadPool) GetScheduler() *core.TaskScheduler {
	return tg.scheduler
}

// Stats returns a snapshot of the pool counters.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Delayed: tg.DelayedTaskCount(),
		Running: tg.IsRunning(),
	}
}

func (tg *GoroutineThreadPool) PostInternal(task core.Task, traits core.TaskTraits) {
	tg.scheduler.PostInternal(task, traits)
}

func (tg *GoroutineThreadPool) PostDelayedInternal(task core.Task, delay time.Duration, traits core.TaskTraits, target core.TaskRunner) core.DelayHandle {
	return tg.scheduler.PostDelayedInternal(task, delay, traits, target)
}

// =============================================================================
// Global Thread Pool and Default Runner (Singletons)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	defaultRunner    *core.Runner
	globalMu         sync.Mutex
)

// InitGlobalThreadPool creates and starts the global pool. Later calls do nothing until
// ShutdownGlobalThreadPool.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global pool.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global pool. Runners created with CreateRunner should be
// shut down first; their pending steps are dropped otherwise.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// CreateRunner creates a coroutine runner whose jobs run as one sequence on the global pool.
func CreateRunner(name string) *core.Runner {
	pool := GetGlobalThreadPool()
	cfg := core.DefaultRunnerConfig()
	cfg.Name = name
	return core.NewPooledRunner(pool, cfg)
}

// DefaultRunner returns the process-wide runner, creating it on its own event loop on first use.
func DefaultRunner() *core.Runner {
	globalMu.Lock()
	defer globalMu.Unlock()

	if defaultRunner == nil || defaultRunner.IsClosed() {
		defaultRunner = core.NewRunner("default")
	}
	return defaultRunner
}

// ShutdownDefaultRunner shuts the process-wide runner down if it was created.
func ShutdownDefaultRunner(ctx context.Context) error {
	globalMu.Lock()
	r := defaultRunner
	defaultRunner = nil
	globalMu.Unlock()

	if r == nil {
		return nil
	}
	return r.Shutdown(ctx)
}
