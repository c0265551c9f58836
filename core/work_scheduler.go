package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// WorkScheduler is the queue and bookkeeping shared by a pool's workers.
type WorkScheduler struct {
	queue       *ActionQueue
	signal      chan struct{}
	workerCount int

	metricQueued int32 // Waiting in queue
	metricActive int32 // Executing in worker

	panicHandler    PanicHandler
	metrics         Metrics
	rejectedHandler RejectedHandler

	// Lifecycle
	shuttingDown int32        // atomic flag
	postMu       sync.RWMutex // orders the flag against in-flight posts
}

// WorkSchedulerConfig holds the handlers used by a WorkScheduler.
type WorkSchedulerConfig struct {
	PanicHandler    PanicHandler
	Metrics         Metrics
	RejectedHandler RejectedHandler
}

func NewWorkScheduler(workerCount int) *WorkScheduler {
	return NewWorkSchedulerWithConfig(workerCount, nil)
}

func NewWorkSchedulerWithConfig(workerCount int, config *WorkSchedulerConfig) *WorkScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &WorkScheduler{
		queue:       NewActionQueue(),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
	}

	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedHandler = config.RejectedHandler
	}

	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedHandler == nil {
		s.rejectedHandler = &DefaultRejectedHandler{}
	}

	return s
}

// Post queues an action for the next free worker.
func (s *WorkScheduler) Post(action Action) error {
	return s.PostWithDrop(action, nil)
}

// PostWithDrop is Post with a callback that receives ErrPoolNotRunning if the
// action is dropped by a shutdown before a worker picks it up. It is not
// called when PostWithDrop itself returns an error.
func (s *WorkScheduler) PostWithDrop(action Action, drop func(error)) error {
	s.postMu.RLock()
	defer s.postMu.RUnlock()

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.rejectedHandler.HandleRejected("pool", "shutting down")
		s.metrics.RecordTaskRejected("pool", "shutting down")
		return ErrPoolNotRunning
	}

	s.queue.Push(action, drop)
	atomic.AddInt32(&s.metricQueued, 1)

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but the action is already queued
	}
	return nil
}

// GetWork blocks until an action is available or stopCh closes. Called by workers.
func (s *WorkScheduler) GetWork(stopCh <-chan struct{}) (Action, bool) {
	for {
		if a, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return a, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (s *WorkScheduler) Shutdown() {
	s.markShuttingDown()
	s.dropQueued()
}

func (s *WorkScheduler) markShuttingDown() {
	s.postMu.Lock()
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.postMu.Unlock()
}

func (s *WorkScheduler) dropQueued() {
	dropped := s.queue.Clear()
	atomic.AddInt32(&s.metricQueued, -int32(len(dropped)))
	for _, a := range dropped {
		if a.Drop != nil {
			a.Drop(ErrPoolNotRunning)
		}
	}
}

// ShutdownGraceful waits for all queued and active actions to complete
// Returns error if timeout is exceeded before they complete
func (s *WorkScheduler) ShutdownGraceful(timeout time.Duration) error {
	s.markShuttingDown()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.dropQueued()
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

// Metrics
func (s *WorkScheduler) WorkerCount() int     { return s.workerCount }
func (s *WorkScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *WorkScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }

func (s *WorkScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *WorkScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *WorkScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *WorkScheduler) GetMetrics() Metrics {
	return s.metrics
}
