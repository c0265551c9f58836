package core

// DefaultMaxSteps is the step budget used when none is configured.
const DefaultMaxSteps = 1000

// Flattener runs a routine and every routine it nests to completion within a
// single call, for hosts without a per-tick driver (headless runs, tests).
//
// It keeps in-flight routines on an explicit stack and counts every advance.
// Once the count reaches MaxSteps the run is abandoned and reported as
// unfinished, so an infinite routine cannot hang the caller.
//
// A Flattener is not safe for concurrent use.
type Flattener struct {
	maxSteps int
	logger   Logger
	metrics  Metrics
	aff      *affinity
	steps    int
}

// NewFlattener creates a Flattener with the given budget. A budget <= 0 uses
// DefaultMaxSteps.
func NewFlattener(maxSteps int, logger Logger) *Flattener {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Flattener{maxSteps: maxSteps, logger: logger, metrics: &NilMetrics{}}
}

// MaxSteps returns the step budget.
func (f *Flattener) MaxSteps() int { return f.maxSteps }

// Steps returns the number of advances made by the last Run.
func (f *Flattener) Steps() int { return f.steps }

// Run drives r until it and all nested routines are exhausted.
//
// It returns (true, nil) when everything finished and (false, nil) when the
// step budget ran out first. A non-nil error means the run failed: the routine
// panicked (*PanicError) or yielded a *RoutineHandle (ErrAsyncInSync), which
// cannot complete while this call holds the main goroutine.
func (f *Flattener) Run(r Routine) (finished bool, err error) {
	f.steps = 0
	if r == nil {
		return true, nil
	}

	stack := []frame{pull(r, f.aff)}
	defer func() {
		unwindFrames(stack)
		f.metrics.RecordFlatten(f.steps, finished)
	}()

	for len(stack) > 0 {
		if f.steps >= f.maxSteps {
			f.logger.Warn("routine did not finish within step budget",
				F("steps", f.steps), F("depth", len(stack)))
			return false, nil
		}

		top := stack[len(stack)-1]
		f.steps++
		v, ok, err := top.advance()
		if err != nil {
			return false, err
		}
		if !ok {
			top.stop()
			stack = stack[:len(stack)-1]
			continue
		}

		if _, async := v.(*RoutineHandle); async {
			return false, ErrAsyncInSync
		}
		if child, ok := nested(v); ok {
			stack = append(stack, pull(child, f.aff))
		}
	}
	return true, nil
}

// RunSync flattens r with the default step budget.
func RunSync(r Routine) (bool, error) {
	return NewFlattener(DefaultMaxSteps, nil).Run(r)
}
