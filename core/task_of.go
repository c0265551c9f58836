package core

// TaskOf is a Task that also carries a typed result.
type TaskOf[T any] struct {
	*Task
	result   T
	fallback bool // result survives a fault; set only by FailedTaskOf
}

// Result returns the value of a successful task. It is the zero value while
// the task runs and after a fault, unless FailedTaskOf was given a result.
func (t *TaskOf[T]) Result() T {
	var zero T
	switch t.Status() {
	case StatusSuccess:
		return t.result
	case StatusFaulted:
		if t.fallback {
			return t.result
		}
	}
	return zero
}

// SetResult stores a value from inside the task's own routine, e.g. a
// partial result before RequestStop. It must not be called by other goroutines.
func (t *TaskOf[T]) SetResult(v T) {
	t.result = v
}

// SuccessTaskOf returns a task that already succeeded with value.
func SuccessTaskOf[T any](value T) *TaskOf[T] {
	t := &TaskOf[T]{Task: newTask("", StrategyCustom), result: value}
	t.status.Store(int32(StatusRunning))
	t.finish(nil)
	return t
}

// FailedTaskOf returns a task that already faulted with err. An optional
// result is kept for callers that want a fallback value.
func FailedTaskOf[T any](err error, result ...T) *TaskOf[T] {
	if err == nil {
		err = ErrTaskFailed
	}
	t := &TaskOf[T]{Task: newTask("", StrategyCustom)}
	if len(result) > 0 {
		t.result = result[0]
		t.fallback = true
	}
	t.status.Store(int32(StatusRunning))
	t.finish(err)
	return t
}
