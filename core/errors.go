package core

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrNotMainThread is returned when a main-only operation is called from another goroutine.
	ErrNotMainThread = errors.New("mainthread: not called from the main goroutine")

	// ErrDispatcherClosed is returned when work is posted after Quit.
	ErrDispatcherClosed = errors.New("mainthread: dispatcher is quitting")

	// ErrAsyncInSync is returned when a flattened routine yields a handle to
	// work that was started through the asynchronous driver.
	ErrAsyncInSync = errors.New("mainthread: cannot wait on an asynchronously started routine while flattening")

	// ErrStepBudgetExceeded faults a flattened routine task that did not finish within its step budget.
	ErrStepBudgetExceeded = errors.New("mainthread: routine did not finish within the step budget")

	// ErrTaskAlreadyStarted is returned by Start on a task that has left the Created state.
	ErrTaskAlreadyStarted = errors.New("mainthread: task already started")

	// ErrCustomStrategy is returned by Start on a task built with StrategyCustom.
	ErrCustomStrategy = errors.New("mainthread: custom tasks cannot be started")

	// ErrRoutineStopped completes the handle of a routine stopped before it finished.
	ErrRoutineStopped = errors.New("mainthread: routine stopped")

	// ErrTaskFailed is the failure of a FailedTask built without an error.
	ErrTaskFailed = errors.New("mainthread: task failed")

	// ErrPoolNotRunning is returned when background work is posted to a pool that is not running.
	ErrPoolNotRunning = errors.New("mainthread: thread pool is not running")
)

// PanicError is a recovered panic captured at an execution boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// try runs f and converts a panic into a *PanicError.
func try(f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newPanicError(rec)
		}
	}()
	return f()
}
