package core

import "time"

// JobInfo describes a job at the moment its body starts.
type JobInfo struct {
	ID         TaskID
	Name       string
	RunnerName string
	ParentID   TaskID
	CreatedAt  time.Time
}

// JobRecord captures a job that reached a terminal state.
type JobRecord struct {
	ID         TaskID
	Name       string
	RunnerName string
	State      JobState
	Err        error
	CreatedAt  time.Time
	StartedAt  time.Time // zero when the body never ran
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// RunnerStats represents runtime observability state for a coroutine runner.
type RunnerStats struct {
	Name       string
	Dispatcher string
	Active     int   // jobs launched and not yet terminal
	Launched   int64 // total jobs launched
	Completed  int64
	Cancelled  int64
	Failed     int64
	Closed     bool
	LastJob    string
	LastJobAt  time.Time
}

// DispatcherStats represents runtime observability state for a dispatcher.
type DispatcherStats struct {
	Name     string
	Type     string
	Pending  int
	Delayed  int
	Executed int64
	Rejected int64
	Closed   bool
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	Running bool
}
