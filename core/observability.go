package core

import "time"

// QueueDepths is the number of pending items per dispatcher category.
type QueueDepths struct {
	Logs         int
	Starts       int
	Stops        int
	RoutineTasks int
	Actions      int
}

// Total returns the sum over all categories.
func (q QueueDepths) Total() int {
	return q.Logs + q.Starts + q.Stops + q.RoutineTasks + q.Actions
}

// DispatcherStats represents runtime observability state for a dispatcher.
type DispatcherStats struct {
	Pending        QueueDepths
	Drains         int64
	ItemsExecuted  int64
	Panics         int64
	Rejected       int64
	ActiveRoutines int
	Synchronous    bool
	Quitting       bool
	LastDrainAt    time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
