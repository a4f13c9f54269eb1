package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Test doubles shared by the core tests
// =============================================================================

// recordingRunner is a TaskRunner that records posted tasks instead of running them.
type recordingRunner struct {
	mu     sync.Mutex
	tasks  []TaskItem
	posted chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{posted: make(chan struct{}, 1024)}
}

func (r *recordingRunner) PostTask(task Task) {
	r.PostTaskWithTraits(task, DefaultTaskTraits())
}

func (r *recordingRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	r.mu.Lock()
	r.tasks = append(r.tasks, TaskItem{Task: task, Traits: traits})
	r.mu.Unlock()
	r.posted <- struct{}{}
}

func (r *recordingRunner) PostDelayedTask(task Task, delay time.Duration) DelayHandle {
	return noDelayHandle{}
}

func (r *recordingRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) DelayHandle {
	return noDelayHandle{}
}

func (r *recordingRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// TestPanicHandler is a mock panic handler for testing
type TestPanicHandler struct {
	mu    sync.Mutex
	calls []PanicCall
}

type PanicCall struct {
	Source    string
	WorkerID  int
	PanicInfo any
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, source string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, PanicCall{Source: source, WorkerID: workerID, PanicInfo: panicInfo})
}

func (h *TestPanicHandler) Calls() []PanicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PanicCall(nil), h.calls...)
}

// TestMetrics records every metrics call
type TestMetrics struct {
	mu        sync.Mutex
	durations int
	panics    int
	rejected  []string
	depths    []int
	finished  map[JobState]int
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{finished: make(map[JobState]int)}
}

func (m *TestMetrics) RecordTaskDuration(dispatcher string, priority TaskPriority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *TestMetrics) RecordTaskPanic(source string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *TestMetrics) RecordQueueDepth(dispatcher string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, depth)
}

func (m *TestMetrics) RecordTaskRejected(dispatcher string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *TestMetrics) RecordJobFinished(runner string, state JobState, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[state]++
}

func (m *TestMetrics) Finished(state JobState) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[state]
}

func (m *TestMetrics) Panics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panics
}

func (m *TestMetrics) Rejected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rejected)
}

// testPool is a minimal ThreadPool over a TaskScheduler
type testPool struct {
	scheduler *TaskScheduler
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	running   atomic.Bool
}

func newTestPool(workers int) *testPool {
	return &testPool{scheduler: NewFIFOTaskScheduler(workers)}
}

func (p *testPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)
	for range p.scheduler.WorkerCount() {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				task, ok := p.scheduler.GetWork(ctx.Done())
				if !ok {
					return
				}
				p.scheduler.OnTaskStart()
				task(ctx)
				p.scheduler.OnTaskEnd()
			}
		}()
	}
}

func (p *testPool) Stop() {
	p.scheduler.Shutdown()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.running.Store(false)
}

func (p *testPool) PostInternal(task Task, traits TaskTraits) {
	p.scheduler.PostInternal(task, traits)
}

func (p *testPool) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) DelayHandle {
	return p.scheduler.PostDelayedInternal(task, delay, traits, target)
}

func (p *testPool) ID() string            { return "test-pool" }
func (p *testPool) IsRunning() bool       { return p.running.Load() }
func (p *testPool) WorkerCount() int      { return p.scheduler.WorkerCount() }
func (p *testPool) QueuedTaskCount() int  { return p.scheduler.QueuedTaskCount() }
func (p *testPool) ActiveTaskCount() int  { return p.scheduler.ActiveTaskCount() }
func (p *testPool) DelayedTaskCount() int { return p.scheduler.DelayedTaskCount() }

// newTestRunner creates a runner on its own event loop and shuts it down with the test.
func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r := NewRunner(t.Name())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() = %v", err)
		}
	})
	return r
}

// waitTimeout fails the test if ch is not closed within d.
func waitTimeout(t *testing.T, ch <-chan struct{}, d time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// testCtx returns a context bounded by a generous deadline.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitUntil polls cond until it holds or d elapses.
func waitUntil(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
