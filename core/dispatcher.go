package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Queue category names, in drain order.
const (
	CategoryLogs         = "logs"
	CategoryStarts       = "starts"
	CategoryStops        = "stops"
	CategoryRoutineTasks = "routine_tasks"
	CategoryActions      = "actions"
)

type pendingAction struct {
	run  Action
	drop func(error)
}

type startRequest struct {
	handle  *RoutineHandle
	routine Routine
}

type routineTask struct {
	routine Routine
	onDone  func(error)
}

// pendingWork holds the five insertion-ordered queues. It is only touched
// while holding Dispatcher.mu.
type pendingWork struct {
	logs         []LogRecord
	starts       []startRequest
	stops        []*RoutineHandle
	routineTasks []routineTask
	actions      []pendingAction
}

func (p *pendingWork) depths() QueueDepths {
	return QueueDepths{
		Logs:         len(p.logs),
		Starts:       len(p.starts),
		Stops:        len(p.stops),
		RoutineTasks: len(p.routineTasks),
		Actions:      len(p.actions),
	}
}

// Dispatcher runs work posted from any goroutine on the goroutine that
// created it (the main goroutine).
//
// Work is appended to one of five queues under a single mutex. DrainOnce,
// called by the host once per tick on the main goroutine, takes the queued
// work and runs it in a fixed order: log records, routine starts, routine
// stops, routine tasks, then actions. Within a category items run in the
// order they were posted. Work posted while a drain is running is picked up
// by the next drain.
//
// After Quit every post is rejected with ErrDispatcherClosed and DrainOnce
// does nothing.
type Dispatcher struct {
	mu           sync.Mutex
	pending      pendingWork
	pendingCount atomic.Int64

	aff      affinity
	ctx      context.Context
	cancel   context.CancelFunc
	quitting atomic.Bool
	teardown sync.Once

	logger          Logger
	sink            LogSink
	metrics         Metrics
	panicHandler    PanicHandler
	rejectedHandler RejectedHandler
	driver          RoutineDriver
	synchronous     bool
	maxSteps        int

	drains         atomic.Int64
	executed       atomic.Int64
	panics         atomic.Int64
	rejected       atomic.Int64
	activeRoutines atomic.Int64
	lastDrainAt    atomic.Int64
}

// NewDispatcher creates a Dispatcher bound to the calling goroutine.
func NewDispatcher(config *DispatcherConfig) *Dispatcher {
	cfg := config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		ctx:             ctx,
		cancel:          cancel,
		logger:          cfg.Logger,
		sink:            cfg.Sink,
		metrics:         cfg.Metrics,
		panicHandler:    cfg.PanicHandler,
		rejectedHandler: cfg.RejectedHandler,
		driver:          cfg.Driver,
		synchronous:     cfg.Synchronous,
		maxSteps:        cfg.MaxFlattenSteps,
	}
	d.aff.bind()

	if d.driver == nil && !d.synchronous {
		d.driver = NewStepper(cfg.Logger)
	}
	if st, ok := d.driver.(*Stepper); ok && st.aff == nil {
		st.aff = &d.aff
	}
	return d
}

// Context returns a context that is canceled when the dispatcher quits.
func (d *Dispatcher) Context() context.Context { return d.ctx }

// IsMainThread reports whether the caller is the main goroutine, or a
// routine body being stepped on its behalf.
func (d *Dispatcher) IsMainThread() bool { return d.aff.isCurrent() }

// Synchronous reports whether routines are flattened within the drain.
func (d *Dispatcher) Synchronous() bool { return d.synchronous }

// IsQuitting reports whether Quit has been called.
func (d *Dispatcher) IsQuitting() bool { return d.quitting.Load() }

// =============================================================================
// Enqueue
// =============================================================================

// Enqueue posts an action to run on the next drain.
func (d *Dispatcher) Enqueue(action Action) error {
	return d.enqueueAction(action, nil)
}

func (d *Dispatcher) enqueueAction(action Action, drop func(error)) error {
	if action == nil {
		return nil
	}
	return d.push(CategoryActions, func(p *pendingWork) {
		p.actions = append(p.actions, pendingAction{run: action, drop: drop})
	})
}

// StartRoutine posts r to be started on the driver at the next drain. The
// returned handle can be polled, stopped, or yielded by another routine
// running on the driver. On error the handle is already done.
func (d *Dispatcher) StartRoutine(r Routine) (*RoutineHandle, error) {
	h := newRoutineHandle()
	err := d.push(CategoryStarts, func(p *pendingWork) {
		p.starts = append(p.starts, startRequest{handle: h, routine: r})
	})
	if err != nil {
		h.finish(err)
	}
	return h, err
}

// StopRoutine posts a request to stop the routine behind h.
func (d *Dispatcher) StopRoutine(h *RoutineHandle) error {
	if h == nil {
		return nil
	}
	return d.push(CategoryStops, func(p *pendingWork) {
		p.stops = append(p.stops, h)
	})
}

// Log posts a record for the log sink.
func (d *Dispatcher) Log(level LogLevel, message string) error {
	return d.push(CategoryLogs, func(p *pendingWork) {
		p.logs = append(p.logs, LogRecord{Level: level, Message: message})
	})
}

// Logf posts a formatted record for the log sink.
func (d *Dispatcher) Logf(level LogLevel, format string, args ...any) error {
	return d.Log(level, fmt.Sprintf(format, args...))
}

// EnqueueRoutineTask posts r to run to completion on the main goroutine;
// onDone then receives nil or the error that ended it.
func (d *Dispatcher) EnqueueRoutineTask(r Routine, onDone func(error)) error {
	return d.push(CategoryRoutineTasks, func(p *pendingWork) {
		p.routineTasks = append(p.routineTasks, routineTask{routine: r, onDone: onDone})
	})
}

func (d *Dispatcher) push(category string, add func(*pendingWork)) error {
	if d.quitting.Load() {
		d.reject(category)
		return ErrDispatcherClosed
	}

	d.mu.Lock()
	if d.quitting.Load() {
		d.mu.Unlock()
		d.reject(category)
		return ErrDispatcherClosed
	}
	add(&d.pending)
	d.pendingCount.Add(1)
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) reject(category string) {
	d.rejected.Add(1)
	d.rejectedHandler.HandleRejected(category, "quitting")
	d.metrics.RecordTaskRejected(category, "quitting")
}

// =============================================================================
// Drain
// =============================================================================

// DrainOnce runs everything posted before the call. It returns immediately,
// without locking, when nothing is pending, and ErrNotMainThread when called
// from another goroutine with work pending.
//
// A panicking item is reported to the PanicHandler and the drain continues.
func (d *Dispatcher) DrainOnce() error {
	if d.quitting.Load() {
		if d.IsMainThread() {
			d.teardownDriver()
		}
		return nil
	}
	if d.pendingCount.Load() == 0 {
		return nil
	}
	if !d.IsMainThread() {
		return ErrNotMainThread
	}

	d.mu.Lock()
	batch := d.pending
	d.pending = pendingWork{}
	d.pendingCount.Store(0)
	d.mu.Unlock()

	depths := batch.depths()
	d.metrics.RecordQueueDepth(CategoryLogs, depths.Logs)
	d.metrics.RecordQueueDepth(CategoryStarts, depths.Starts)
	d.metrics.RecordQueueDepth(CategoryStops, depths.Stops)
	d.metrics.RecordQueueDepth(CategoryRoutineTasks, depths.RoutineTasks)
	d.metrics.RecordQueueDepth(CategoryActions, depths.Actions)

	for _, rec := range batch.logs {
		d.protect(CategoryLogs, func() { d.sink.Emit(rec) })
	}
	for _, s := range batch.starts {
		d.startRoutine(s)
	}
	for _, h := range batch.stops {
		d.protect(CategoryStops, func() { d.stopRoutine(h) })
	}
	for _, rt := range batch.routineTasks {
		d.runRoutineTask(rt.routine, rt.onDone)
	}
	for _, a := range batch.actions {
		d.protect(CategoryActions, func() { a.run(d.ctx) })
	}

	d.drains.Add(1)
	d.lastDrainAt.Store(time.Now().UnixNano())
	return nil
}

// Pump drains the queues and then advances the driver by one tick when it
// implements Ticker. Hosts call it once per frame.
func (d *Dispatcher) Pump() error {
	if err := d.DrainOnce(); err != nil {
		return err
	}
	if d.quitting.Load() {
		return nil
	}
	if t, ok := d.driver.(Ticker); ok {
		d.protect("driver", t.Step)
	}
	if a, ok := d.driver.(interface{ Active() int }); ok {
		d.activeRoutines.Store(int64(a.Active()))
	}
	return nil
}

func (d *Dispatcher) startRoutine(s startRequest) {
	if d.driver == nil || d.synchronous {
		d.protect(CategoryStarts, func() {
			if s.handle.StopRequested() {
				s.handle.finish(ErrRoutineStopped)
				return
			}
			s.handle.finish(d.flatten(s.routine))
		})
		return
	}
	d.protect(CategoryStarts, func() { d.driver.Start(s.handle, s.routine, nil) })
}

func (d *Dispatcher) stopRoutine(h *RoutineHandle) {
	if d.driver == nil {
		h.requestStop()
		return
	}
	d.driver.Stop(h)
}

// runRoutineTask runs r on the main goroutine: flattened in place in
// synchronous mode, otherwise handed to the driver.
func (d *Dispatcher) runRoutineTask(r Routine, onDone func(error)) {
	done := func(err error) {
		if onDone != nil {
			d.protect(CategoryRoutineTasks, func() { onDone(err) })
		}
	}

	if d.driver == nil || d.synchronous {
		done(d.flatten(r))
		return
	}

	h := newRoutineHandle()
	d.protect(CategoryRoutineTasks, func() { d.driver.Start(h, r, done) })
}

// flatten runs r synchronously and maps an exhausted budget to ErrStepBudgetExceeded.
func (d *Dispatcher) flatten(r Routine) error {
	f := NewFlattener(d.maxSteps, d.logger)
	f.metrics = d.metrics
	f.aff = &d.aff
	finished, err := f.Run(r)
	if err != nil {
		return err
	}
	if !finished {
		return fmt.Errorf("%w: %d steps", ErrStepBudgetExceeded, f.Steps())
	}
	return nil
}

func (d *Dispatcher) protect(source string, f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.panics.Add(1)
			d.metrics.RecordTaskPanic(source, rec)
			d.panicHandler.HandlePanic(d.ctx, source, rec, debug.Stack())
		}
	}()
	f()
	d.executed.Add(1)
}

// =============================================================================
// Shutdown
// =============================================================================

// Quit marks the dispatcher as quitting. Pending work is discarded: pending
// tasks fault with ErrDispatcherClosed and pending routine handles complete
// with it. Routines already on the driver are ended by the next DrainOnce or
// Pump on the main goroutine, or immediately when Quit is called there.
func (d *Dispatcher) Quit() {
	if !d.quitting.CompareAndSwap(false, true) {
		return
	}
	d.cancel()

	d.mu.Lock()
	dropped := d.pending
	d.pending = pendingWork{}
	d.pendingCount.Store(0)
	d.mu.Unlock()

	for _, s := range dropped.starts {
		s.handle.finish(ErrDispatcherClosed)
	}
	for _, rt := range dropped.routineTasks {
		if rt.onDone != nil {
			rt.onDone(ErrDispatcherClosed)
		}
	}
	for _, a := range dropped.actions {
		if a.drop != nil {
			a.drop(ErrDispatcherClosed)
		}
	}

	if d.IsMainThread() {
		d.teardownDriver()
	}
	d.logger.Debug("dispatcher quit", F("dropped", dropped.depths().Total()))
}

func (d *Dispatcher) teardownDriver() {
	d.teardown.Do(func() {
		if s, ok := d.driver.(interface{ StopAll(error) }); ok {
			d.protect("driver", func() { s.StopAll(ErrDispatcherClosed) })
		}
		d.activeRoutines.Store(0)
	})
}

// =============================================================================
// Stats
// =============================================================================

// Pending returns the current queue depths.
func (d *Dispatcher) Pending() QueueDepths {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.depths()
}

// Stats returns a snapshot of the dispatcher's observability state. It is
// safe to call from any goroutine.
func (d *Dispatcher) Stats() DispatcherStats {
	stats := DispatcherStats{
		Pending:        d.Pending(),
		Drains:         d.drains.Load(),
		ItemsExecuted:  d.executed.Load(),
		Panics:         d.panics.Load(),
		Rejected:       d.rejected.Load(),
		ActiveRoutines: int(d.activeRoutines.Load()),
		Synchronous:    d.synchronous,
		Quitting:       d.quitting.Load(),
	}
	if ns := d.lastDrainAt.Load(); ns != 0 {
		stats.LastDrainAt = time.Unix(0, ns)
	}
	return stats
}
