package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// QueuedAction is an action waiting in an ActionQueue. Drop, when set, is
// called instead of Run if the action is discarded unexecuted.
type QueuedAction struct {
	Run  Action
	Drop func(error)
}

// ActionQueue is the FIFO work queue behind a thread pool.
type ActionQueue struct {
	mu      sync.Mutex
	actions []QueuedAction
}

func NewActionQueue() *ActionQueue {
	return &ActionQueue{
		actions: make([]QueuedAction, 0, defaultQueueCap),
	}
}

func (q *ActionQueue) Push(a Action, drop func(error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(q.actions, QueuedAction{Run: a, Drop: drop})
}

func (q *ActionQueue) Pop() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return nil, false
	}

	a := q.actions[0].Run
	// Zero out the element in the underlying array to prevent memory leak
	q.actions[0] = QueuedAction{}
	q.actions = q.actions[1:]
	q.maybeCompactLocked()

	return a, true
}

func (q *ActionQueue) maybeCompactLocked() {
	n := len(q.actions)
	c := cap(q.actions)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.actions = make([]QueuedAction, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]QueuedAction, n, newCap)
	copy(newSlice, q.actions)
	q.actions = newSlice
}

func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Clear empties the queue and returns what was removed, in queue order.
func (q *ActionQueue) Clear() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.actions
	q.actions = make([]QueuedAction, 0, defaultQueueCap)
	return removed
}
