package core

import (
	"sync"
)

const (
	minRingSize   = 16
	shrinkMinSize = 64 // rings smaller than this never shrink
)

// TaskItem is one ready entry: usually a job step, sometimes a plain posted task.
type TaskItem struct {
	Task   Task
	Traits TaskTraits
}

// TaskQueue holds the ready entries of a dispatcher or of the pool scheduler.
// Dispatchers pop one entry per turn, so a job's step and any other posted work
// interleave in the order the queue hands them out.
type TaskQueue interface {
	Push(t Task, traits TaskTraits)
	Pop() (TaskItem, bool)
	PeekTraits() (TaskTraits, bool)
	Len() int
	IsEmpty() bool
	Clear()
}

// =============================================================================
// itemRing: growable circular buffer
// =============================================================================

type itemRing struct {
	slots []TaskItem
	head  int
	n     int
}

func (r *itemRing) push(item TaskItem) {
	if r.n == len(r.slots) {
		r.resize(max(2*len(r.slots), minRingSize))
	}
	r.slots[(r.head+r.n)%len(r.slots)] = item
	r.n++
}

func (r *itemRing) pop() (TaskItem, bool) {
	if r.n == 0 {
		return TaskItem{}, false
	}
	item := r.slots[r.head]
	r.slots[r.head] = TaskItem{} // release the closure
	r.head = (r.head + 1) % len(r.slots)
	r.n--

	if size := len(r.slots); size >= shrinkMinSize && r.n*4 < size {
		r.resize(max(size/2, minRingSize))
	}
	return item, true
}

func (r *itemRing) peek() (TaskItem, bool) {
	if r.n == 0 {
		return TaskItem{}, false
	}
	return r.slots[r.head], true
}

func (r *itemRing) resize(size int) {
	slots := make([]TaskItem, size)
	for i := 0; i < r.n; i++ {
		slots[i] = r.slots[(r.head+i)%len(r.slots)]
	}
	r.slots = slots
	r.head = 0
}

func (r *itemRing) reset() {
	*r = itemRing{}
}

// =============================================================================
// FIFOTaskQueue
// =============================================================================

// FIFOTaskQueue hands entries out in push order and ignores priorities.
// It is the ready queue of an EventLoop and of a SequencedTaskRunner.
type FIFOTaskQueue struct {
	mu   sync.Mutex
	ring itemRing
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{}
}

func (q *FIFOTaskQueue) Push(t Task, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ring.push(TaskItem{Task: t, Traits: traits})
}

func (q *FIFOTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.pop()
}

func (q *FIFOTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.ring.peek()
	return item.Traits, ok
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.n
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *FIFOTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ring.reset()
}

// =============================================================================
// PriorityTaskQueue: highest priority first, FIFO within one priority
// =============================================================================

const priorityLevels = int(TaskPriorityUserBlocking) + 1

// PriorityTaskQueue keeps one FIFO ring per priority level.
// The pool scheduler uses it so user-blocking sequences are stepped before best-effort ones.
type PriorityTaskQueue struct {
	mu     sync.Mutex
	levels [priorityLevels]itemRing
	n      int
}

func NewPriorityTaskQueue() *PriorityTaskQueue {
	return &PriorityTaskQueue{}
}

func levelOf(p TaskPriority) int {
	return min(max(int(p), 0), priorityLevels-1)
}

func (q *PriorityTaskQueue) Push(t Task, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels[levelOf(traits.Priority)].push(TaskItem{Task: t, Traits: traits})
	q.n++
}

func (q *PriorityTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := priorityLevels - 1; i >= 0; i-- {
		if item, ok := q.levels[i].pop(); ok {
			q.n--
			return item, true
		}
	}
	return TaskItem{}, false
}

func (q *PriorityTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := priorityLevels - 1; i >= 0; i-- {
		if item, ok := q.levels[i].peek(); ok {
			return item.Traits, true
		}
	}
	return TaskTraits{}, false
}

func (q *PriorityTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *PriorityTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *PriorityTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.levels {
		q.levels[i].reset()
	}
	q.n = 0
}
