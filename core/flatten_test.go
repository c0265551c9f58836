package core

import (
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nestedRoutine yields width plain values and then, above depth 1, one
// child routine of the next depth.
func nestedRoutine(depth, width int, visits *[]int) Routine {
	return func(yield func(any) bool) {
		for i := 0; i < width; i++ {
			*visits = append(*visits, depth)
			if !yield(i) {
				return
			}
		}
		if depth > 1 {
			yield(nestedRoutine(depth-1, width, visits))
		}
	}
}

func endless() Routine {
	return func(yield func(any) bool) {
		for yield(nil) {
		}
	}
}

// TestFlattener_Nested tests flattening nested routines
// Main test items:
// 1. Three levels of ten values finish within the default budget
// 2. Every advance, including each frame's final one, is a step
// 3. Parents resume only after their child is exhausted
func TestFlattener_Nested(t *testing.T) {
	var visits []int
	f := NewFlattener(0, nil)

	finished, err := f.Run(nestedRoutine(3, 10, &visits))

	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 35, f.Steps())
	assert.Equal(t, DefaultMaxSteps, f.MaxSteps())
	require.Len(t, visits, 30)
	assert.Equal(t, 3, visits[0])
	assert.Equal(t, 2, visits[10])
	assert.Equal(t, 1, visits[29])
}

func TestFlattener_Endless(t *testing.T) {
	f := NewFlattener(1000, nil)

	finished, err := f.Run(endless())

	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, 1000, f.Steps())
}

func TestFlattener_NilRoutine(t *testing.T) {
	finished, err := RunSync(nil)
	require.NoError(t, err)
	assert.True(t, finished)
}

func TestFlattener_YieldedKinds(t *testing.T) {
	var order []string
	seq := iter.Seq[any](func(yield func(any) bool) {
		order = append(order, "seq")
	})
	plain := func(yield func(any) bool) {
		order = append(order, "func")
	}
	done := SuccessTask()

	f := NewFlattener(100, nil)
	finished, err := f.Run(func(yield func(any) bool) {
		_ = yield(seq) && yield(plain) && yield(done) && yield("value") && yield(Routine(nil))
		order = append(order, "end")
	})

	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, []string{"seq", "func", "end"}, order)
}

func TestFlattener_Sequence(t *testing.T) {
	var order []int
	mark := func(n int) Routine {
		return func(yield func(any) bool) { order = append(order, n) }
	}

	finished, err := RunSync(Sequence(mark(1), Yield(3), mark(2)))

	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, []int{1, 2}, order)
}

func TestFlattener_AsyncHandleIsRejected(t *testing.T) {
	h := newRoutineHandle()

	finished, err := RunSync(func(yield func(any) bool) {
		yield(h)
	})

	assert.False(t, finished)
	assert.ErrorIs(t, err, ErrAsyncInSync)
}

// TestFlattener_Panic tests panics in nested bodies
// Main test items:
// 1. A panic in a child surfaces as *PanicError
// 2. The panic value stays reachable through errors.Is
func TestFlattener_Panic(t *testing.T) {
	boom := errors.New("boom")

	finished, err := RunSync(Sequence(Yield(1), func(yield func(any) bool) {
		panic(boom)
	}))

	assert.False(t, finished)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Same(t, boom, pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.ErrorIs(t, err, boom)
}

func TestFlattener_UnwindsOnBudget(t *testing.T) {
	cleaned := false
	f := NewFlattener(5, nil)

	finished, err := f.Run(Sequence(func(yield func(any) bool) {
		defer func() { cleaned = true }()
		for yield(nil) {
		}
	}))

	require.NoError(t, err)
	assert.False(t, finished)
	assert.True(t, cleaned, "abandoned frames are stopped")
}

func TestFlattener_RecordsMetrics(t *testing.T) {
	metrics := NewTestMetrics()
	f := NewFlattener(10, nil)
	f.metrics = metrics

	_, _ = f.Run(Yield(2))
	_, _ = f.Run(endless())

	assert.Equal(t, []FlattenMetric{
		{Steps: 3, Finished: true},
		{Steps: 10, Finished: false},
	}, metrics.GetFlattens())
}

func TestFlattener_WaitsOnFinishedTask(t *testing.T) {
	failed := FailedTask(errors.New("nope"))

	finished, err := RunSync(func(yield func(any) bool) {
		yield(failed)
	})

	require.NoError(t, err, "waiting on a faulted task is not a flattening error")
	assert.True(t, finished)
}
