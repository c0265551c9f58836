package core

import (
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

// TaskExecutionRecord is a snapshot of a task taken when it finished.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Strategy   Strategy
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Err        error
}

// Faulted reports whether the task ended in StatusFaulted.
func (r TaskExecutionRecord) Faulted() bool { return r.Status == StatusFaulted }

// recordOf snapshots a terminal task. Called from finish, after the status
// has been published.
func recordOf(t *Task) TaskExecutionRecord {
	return TaskExecutionRecord{
		TaskID:     t.id,
		Name:       t.name,
		Strategy:   t.strategy,
		Status:     t.Status(),
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		Duration:   t.finishedAt.Sub(t.startedAt),
		Err:        t.err,
	}
}

// taskHistory keeps the last finished tasks of a Factory in a ring.
type taskHistory struct {
	mu      sync.Mutex
	records []TaskExecutionRecord
	next    int
	full    bool
}

func newTaskHistory(capacity int) *taskHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &taskHistory{records: make([]TaskExecutionRecord, capacity)}
}

func (h *taskHistory) add(rec TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.next] = rec
	h.next++
	if h.next == len(h.records) {
		h.next = 0
		h.full = true
	}
}

func (h *taskHistory) size() int {
	if h.full {
		return len(h.records)
	}
	return h.next
}

// recent walks newest to oldest and returns up to limit records accepted by
// keep. A limit <= 0 means no limit; a nil keep accepts everything.
func (h *taskHistory) recent(limit int, keep func(TaskExecutionRecord) bool) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.size()
	if limit <= 0 || limit > n {
		limit = n
	}

	var out []TaskExecutionRecord
	for i := 1; i <= n && len(out) < limit; i++ {
		rec := h.records[(h.next-i+len(h.records))%len(h.records)]
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (h *taskHistory) last() (TaskExecutionRecord, bool) {
	recs := h.recent(1, nil)
	if len(recs) == 0 {
		return TaskExecutionRecord{}, false
	}
	return recs[0], true
}
