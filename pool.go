package mainthread

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-mainthread/core"
)

// GoroutineThreadPool manages a set of worker goroutines.
// Workers pull actions from the WorkScheduler and run them; Background tasks
// are posted here.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.WorkScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a new GoroutineThreadPool
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, nil)
}

// NewGoroutineThreadPoolWithConfig creates a pool whose scheduler uses the given handlers.
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.WorkSchedulerConfig) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: core.NewWorkSchedulerWithConfig(workers, config),
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(tg.ctx)
	}
}

// Stop stops the thread pool. Queued actions that have not started are dropped.
func (tg *GoroutineThreadPool) Stop() {
	// Always shut the scheduler down so later posts are refused,
	// even if the pool was never started
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful stops the thread pool gracefully, waiting for queued actions to complete
// Returns error if timeout is exceeded before they complete
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		// No workers to drain the queue
		tg.scheduler.Shutdown()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)

	// Drained or timed out, either way the workers go
	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	return err
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// Post queues an action. It fails with core.ErrPoolNotRunning once the pool
// has been stopped.
func (tg *GoroutineThreadPool) Post(action core.Action) error {
	return tg.PostWithDrop(action, nil)
}

// PostWithDrop queues an action; drop receives core.ErrPoolNotRunning if the
// pool stops before a worker picks the action up.
func (tg *GoroutineThreadPool) PostWithDrop(action core.Action, drop func(error)) error {
	if action == nil {
		return nil
	}
	return tg.scheduler.PostWithDrop(action, drop)
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		action, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		tg.scheduler.OnTaskStart()
		tg.run(ctx, action)
	}
}

func (tg *GoroutineThreadPool) run(ctx context.Context, action core.Action) {
	defer func() {
		tg.scheduler.OnTaskEnd()
		if r := recover(); r != nil {
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, r, debug.Stack())
		}
	}()
	action(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

// GetScheduler exposes the pool's scheduler.
func (tg *GoroutineThreadPool) GetScheduler() *core.WorkScheduler {
	return tg.scheduler
}

// Stats returns a snapshot for the metrics poller.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Running: tg.IsRunning(),
	}
}
