package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Action is a unit of work posted to the dispatcher or a thread pool.
type Action func(ctx context.Context)

// =============================================================================
// Status / Strategy
// =============================================================================

// Status is the lifecycle state of a Task. Transitions only move forward and
// Success and Faulted are terminal.
type Status int32

const (
	StatusCreated Status = iota
	StatusRunning
	StatusSuccess
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Success or Faulted.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFaulted
}

// Strategy selects where a Task's body executes.
type Strategy int

const (
	// StrategyBackground runs the body on a ThreadPool worker.
	StrategyBackground Strategy = iota

	// StrategyMainThread posts the body to the dispatcher's action queue.
	StrategyMainThread

	// StrategyCurrentThread runs the body inline, before Start returns.
	StrategyCurrentThread

	// StrategyCoroutine runs a Routine on the main goroutine through the
	// dispatcher's driver or flattener.
	StrategyCoroutine

	// StrategyCustom never executes; used for pre-completed tasks.
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyBackground:
		return "background"
	case StrategyMainThread:
		return "main_thread"
	case StrategyCurrentThread:
		return "current_thread"
	case StrategyCoroutine:
		return "coroutine"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// TaskID uniquely identifies a Task.
type TaskID uuid.UUID

// GenerateTaskID returns a new time-ordered TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.Must(uuid.NewV7()))
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero TaskID.
func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// =============================================================================
// Task
// =============================================================================

// Task is a future for one unit of work. It is shared between its creator and
// the executor that runs it: only the executor writes the outcome, and any
// goroutine may read Status, Err and Done.
//
// The outcome is published by the atomic status store, so Err (and Result on
// TaskOf) must only be trusted after Status reports a terminal state.
type Task struct {
	id       TaskID
	name     string
	strategy Strategy

	status    atomic.Int32
	finishing atomic.Bool
	stopReq   atomic.Bool
	err       error
	failure   error
	done      chan struct{}

	startedAt  time.Time
	finishedAt time.Time

	body        func(ctx context.Context) error
	makeRoutine func() Routine

	ctx        context.Context
	dispatcher *Dispatcher
	pool       ThreadPool
	onFinish   func(*Task)
}

func newTask(name string, strategy Strategy) *Task {
	return &Task{
		id:       GenerateTaskID(),
		name:     name,
		strategy: strategy,
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
}

// ID returns the task identifier.
func (t *Task) ID() TaskID { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Strategy returns the execution strategy.
func (t *Task) Strategy() Strategy { return t.strategy }

// Status returns the current status.
func (t *Task) Status() Status { return Status(t.status.Load()) }

// IsDone reports whether the task reached a terminal state.
func (t *Task) IsDone() bool { return t.Status().IsTerminal() }

// Err returns the failure of a Faulted task and nil otherwise.
func (t *Task) Err() error {
	if t.Status() != StatusFaulted {
		return nil
	}
	return t.err
}

// Done returns a channel closed once the task is terminal.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is terminal or ctx ends.
//
// Never Wait on the main goroutine for a MainThread or Coroutine task: the
// drain that would complete it cannot run while Wait blocks. Yield
// WaitRoutine from a routine instead.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitRoutine returns a routine that yields while the task is not terminal.
func (t *Task) WaitRoutine() Routine {
	return func(yield func(any) bool) {
		for !t.IsDone() {
			if !yield(nil) {
				return
			}
		}
	}
}

// String formats the task for log output.
func (t *Task) String() string {
	return fmt.Sprintf("%s[%s %s]", t.name, t.strategy, t.Status())
}

// RequestStop asks a Coroutine task to end at its next step. The task then
// completes as Success unless Fail was called.
func (t *Task) RequestStop() { t.stopReq.Store(true) }

// StopRequested reports whether RequestStop or Fail was called.
func (t *Task) StopRequested() bool { return t.stopReq.Load() }

// Fail records err as the outcome of a Coroutine task and stops it at the
// next step. Only the routine body should call it.
func (t *Task) Fail(err error) {
	t.failure = err
	t.RequestStop()
}

// Start moves the task from Created to Running and dispatches it according
// to its strategy. Failures of the body are never returned here; they are
// stored on the task.
func (t *Task) Start() error {
	if t.strategy == StrategyCustom {
		return ErrCustomStrategy
	}
	if !t.status.CompareAndSwap(int32(StatusCreated), int32(StatusRunning)) {
		return ErrTaskAlreadyStarted
	}

	switch t.strategy {
	case StrategyBackground:
		if t.pool == nil {
			t.finish(ErrPoolNotRunning)
			return nil
		}
		if err := t.pool.PostWithDrop(t.execute, t.finish); err != nil {
			t.finish(err)
		}
	case StrategyMainThread:
		if t.dispatcher == nil {
			t.finish(ErrDispatcherClosed)
			return nil
		}
		if err := t.dispatcher.enqueueAction(t.execute, t.finish); err != nil {
			t.finish(err)
		}
	case StrategyCurrentThread:
		t.execute(t.ctx)
	case StrategyCoroutine:
		t.startRoutine()
	}
	return nil
}

// execute runs the body and captures its outcome.
func (t *Task) execute(ctx context.Context) {
	t.startedAt = time.Now()
	err := try(func() error {
		return t.body(ctx)
	})
	t.finish(err)
}

func (t *Task) startRoutine() {
	d := t.dispatcher
	if d == nil {
		t.finish(ErrDispatcherClosed)
		return
	}

	var r Routine
	if err := try(func() error {
		r = t.makeRoutine()
		return nil
	}); err != nil {
		t.finish(err)
		return
	}

	t.startedAt = time.Now()
	r = t.guard(r)
	onDone := func(err error) {
		if err == nil {
			err = t.failure
		}
		t.finish(err)
	}

	if d.IsMainThread() {
		d.runRoutineTask(r, onDone)
		return
	}
	if err := d.EnqueueRoutineTask(r, onDone); err != nil {
		t.finish(err)
	}
}

// guard ends r at the first step boundary after a stop request.
func (t *Task) guard(r Routine) Routine {
	return func(yield func(any) bool) {
		if t.StopRequested() || r == nil {
			return
		}
		for v := range r {
			if !yield(v) || t.StopRequested() {
				return
			}
		}
	}
}

func (t *Task) finish(err error) {
	if !t.finishing.CompareAndSwap(false, true) {
		return
	}
	t.finishedAt = time.Now()
	if t.startedAt.IsZero() {
		t.startedAt = t.finishedAt
	}
	t.err = err
	if err != nil {
		t.status.Store(int32(StatusFaulted))
	} else {
		t.status.Store(int32(StatusSuccess))
	}
	close(t.done)
	if t.onFinish != nil {
		t.onFinish(t)
	}
}

// =============================================================================
// Pre-completed tasks
// =============================================================================

func completedTask(err error) *Task {
	t := newTask("", StrategyCustom)
	t.status.Store(int32(StatusRunning))
	t.finish(err)
	return t
}

// SuccessTask returns a task that already succeeded.
func SuccessTask() *Task {
	return completedTask(nil)
}

// FailedTask returns a task that already faulted with err.
func FailedTask(err error) *Task {
	if err == nil {
		err = ErrTaskFailed
	}
	return completedTask(err)
}
