package core

import (
	"sync"
)

const defaultJobHistoryCapacity = 100

// jobHistory is a fixed-size ring of terminal job records, newest overwriting oldest.
type jobHistory struct {
	mu    sync.Mutex
	items []JobRecord
	head  int
	count int
}

func newJobHistory(capacity int) *jobHistory {
	if capacity < 1 {
		capacity = defaultJobHistoryCapacity
	}
	return &jobHistory{items: make([]JobRecord, capacity)}
}

func (h *jobHistory) Add(record JobRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *jobHistory) Recent(limit int) []JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]JobRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *jobHistory) Last() (JobRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return JobRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
