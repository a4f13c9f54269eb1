package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedTask is a task waiting in the timer heap.
type DelayedTask struct {
	RunAt  time.Time
	Task   Task
	Traits TaskTraits
	Target TaskRunner

	dm    *DelayManager
	index int // heap position, -1 once popped or removed
}

// Cancel implements DelayHandle.
func (t *DelayedTask) Cancel() bool {
	if t == nil || t.dm == nil {
		return false
	}
	return t.dm.remove(t)
}

// DelayedTaskHeap implements heap.Interface
type DelayedTaskHeap []*DelayedTask

func (h DelayedTaskHeap) Len() int           { return len(h) }
func (h DelayedTaskHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedTaskHeap) Push(x any) {
	item := x.(*DelayedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *DelayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedTaskHeap) Peek() *DelayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager owns one timer goroutine and posts expired tasks to their target runner.
type DelayManager struct {
	pq     DelayedTaskHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedTaskHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// AddDelayedTask schedules task to be posted to target after delay.
func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) *DelayedTask {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &DelayedTask{
		RunAt:  time.Now().Add(delay),
		Task:   task,
		Traits: traits,
		Target: target,
		dm:     dm,
	}
	if dm.ctx.Err() != nil {
		item.index = -1
		return item
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		dm.signal()
	}
	return item
}

func (dm *DelayManager) remove(item *DelayedTask) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if item.index < 0 || item.index >= len(dm.pq) || dm.pq[item.index] != item {
		return false
	}
	wasHead := item.index == 0
	heap.Remove(&dm.pq, item.index)
	item.Task = nil
	item.Target = nil
	if wasHead {
		dm.signal()
	}
	return true
}

func (dm *DelayManager) signal() {
	select {
	case dm.wakeup <- struct{}{}:
	default:
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, ok := dm.calculateNextRun()
		if !ok {
			// Nothing scheduled, sleep until woken
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpiredTasks()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun reports how long until the head task is due.
func (dm *DelayManager) calculateNextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}

	wait := time.Until(item.RunAt)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// processExpiredTasks pops every due task and posts them outside the lock.
func (dm *DelayManager) processExpiredTasks() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*DelayedTask

	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	for _, item := range expired {
		item.Target.PostTaskWithTraits(item.Task, item.Traits)
	}
}

// Stop terminates the timer goroutine and drops every pending task.
func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	for _, item := range dm.pq {
		item.index = -1
	}
	dm.pq = make(DelayedTaskHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
