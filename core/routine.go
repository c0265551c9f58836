package core

import (
	"iter"
	"sync"
	"sync/atomic"
)

// Routine is a lazy cooperative sequence. Every value it yields is one step;
// the driver resumes it later. A yielded value may be:
//   - another Routine (or iter.Seq[any]): run it to completion first
//   - a *RoutineHandle: wait until that routine finishes
//   - a Waiter such as *Task: wait on its WaitRoutine
//   - anything else, including nil: resume on the next step
type Routine func(yield func(any) bool)

// Waiter is anything a routine can yield to suspend until it completes.
type Waiter interface {
	WaitRoutine() Routine
}

// RoutineDriver steps routines across pump ticks. Start and Stop are only
// called on the main goroutine.
type RoutineDriver interface {
	// Start begins stepping r. onDone is called exactly once, on the main
	// goroutine, with nil on completion or the error that ended it.
	Start(h *RoutineHandle, r Routine, onDone func(error))

	// Stop ends the routine identified by h at its next step.
	Stop(h *RoutineHandle)
}

// Ticker is implemented by drivers that advance on each pump tick.
type Ticker interface {
	Step()
}

var routineSeq atomic.Uint64

// RoutineHandle identifies a routine started through the dispatcher's
// asynchronous path. It is safe to read from any goroutine.
type RoutineHandle struct {
	id      uint64
	stopped atomic.Bool
	done    atomic.Bool
	once    sync.Once
	err     error
}

func newRoutineHandle() *RoutineHandle {
	return &RoutineHandle{id: routineSeq.Add(1)}
}

// ID returns a process-unique identifier.
func (h *RoutineHandle) ID() uint64 { return h.id }

// Done reports whether the routine has finished or been stopped.
func (h *RoutineHandle) Done() bool { return h.done.Load() }

// Err returns the error that ended the routine, once Done.
func (h *RoutineHandle) Err() error {
	if !h.done.Load() {
		return nil
	}
	return h.err
}

// StopRequested reports whether a stop was requested for this routine.
func (h *RoutineHandle) StopRequested() bool { return h.stopped.Load() }

func (h *RoutineHandle) requestStop() { h.stopped.Store(true) }

func (h *RoutineHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		h.done.Store(true)
	})
}

// WaitRoutine yields until the handle is done.
func (h *RoutineHandle) WaitRoutine() Routine {
	return func(yield func(any) bool) {
		for !h.Done() {
			if !yield(nil) {
				return
			}
		}
	}
}

// Yield returns a routine that yields n times and then finishes.
func Yield(n int) Routine {
	return func(yield func(any) bool) {
		for range n {
			if !yield(nil) {
				return
			}
		}
	}
}

// Sequence chains routines one after another.
func Sequence(routines ...Routine) Routine {
	return func(yield func(any) bool) {
		for _, r := range routines {
			if !yield(r) {
				return
			}
		}
	}
}

// frame is one pulled routine on a driver stack.
type frame struct {
	next func() (any, bool)
	stop func()
}

func pull(r Routine, aff *affinity) frame {
	next, stop := iter.Pull(iter.Seq[any](aff.adopt(r)))
	return frame{next: next, stop: stop}
}

// advance steps f once, converting a panic in the routine body into an error.
func (f frame) advance() (v any, ok bool, err error) {
	err = try(func() error {
		v, ok = f.next()
		return nil
	})
	return v, ok, err
}

func unwindFrames(stack []frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		stop := stack[i].stop
		_ = try(func() error {
			stop()
			return nil
		})
	}
}

// nested reports whether v is a routine to run before resuming its parent.
func nested(v any) (Routine, bool) {
	switch r := v.(type) {
	case Routine:
		return r, r != nil
	case func(func(any) bool):
		return Routine(r), r != nil
	case iter.Seq[any]:
		return Routine(r), r != nil
	case Waiter:
		if r == nil {
			return nil, false
		}
		return r.WaitRoutine(), true
	}
	return nil, false
}
