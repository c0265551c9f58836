package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepper_OneStepPerTick(t *testing.T) {
	s := NewStepper(nil)
	var trace []string
	mark := func(name string, n int) Routine {
		return func(yield func(any) bool) {
			for i := 0; i < n; i++ {
				trace = append(trace, name)
				if !yield(nil) {
					return
				}
			}
		}
	}

	a, b := newRoutineHandle(), newRoutineHandle()
	s.Start(a, mark("a", 2), nil)
	s.Start(b, mark("b", 1), nil)
	assert.Equal(t, 2, s.Active())
	assert.Empty(t, trace, "Start does not advance")

	s.Step()
	assert.Equal(t, []string{"a", "b"}, trace)

	s.Step()
	assert.Equal(t, []string{"a", "b", "a"}, trace)
	assert.True(t, b.Done())
	assert.False(t, a.Done())

	s.Step()
	assert.True(t, a.Done())
	assert.Zero(t, s.Active())
}

func TestStepper_OnDone(t *testing.T) {
	s := NewStepper(nil)

	var calls []error
	h := newRoutineHandle()
	s.Start(h, Yield(0), func(err error) { calls = append(calls, err) })
	s.Step()
	s.Step()

	assert.Equal(t, []error{nil}, calls, "onDone runs exactly once")
}

func TestStepper_StartStopped(t *testing.T) {
	s := NewStepper(nil)
	h := newRoutineHandle()
	h.requestStop()

	var got error
	s.Start(h, Yield(1), func(err error) { got = err })

	assert.ErrorIs(t, got, ErrRoutineStopped)
	assert.Zero(t, s.Active())
}

func TestStepper_Panic(t *testing.T) {
	s := NewStepper(nil)
	h := newRoutineHandle()

	s.Start(h, func(yield func(any) bool) {
		yield(nil)
		panic("broken")
	}, nil)
	s.Step()
	s.Step()

	var pe *PanicError
	require.True(t, errors.As(h.Err(), &pe))
	assert.Equal(t, "broken", pe.Value)
	assert.Zero(t, s.Active())
}

func TestStepper_NestedChild(t *testing.T) {
	s := NewStepper(nil)
	h := newRoutineHandle()

	var order []string
	s.Start(h, func(yield func(any) bool) {
		if !yield(Yield(2)) {
			return
		}
		order = append(order, "parent resumed")
	}, nil)

	// push child, two child yields, child end, parent end
	for i := 0; i < 4; i++ {
		s.Step()
		assert.False(t, h.Done(), "step %d", i)
	}
	s.Step()

	assert.True(t, h.Done())
	assert.Equal(t, []string{"parent resumed"}, order)
}

func TestStepper_StopAll(t *testing.T) {
	s := NewStepper(nil)
	cleaned := 0
	forever := func(yield func(any) bool) {
		defer func() { cleaned++ }()
		for yield(nil) {
		}
	}

	a, b := newRoutineHandle(), newRoutineHandle()
	s.Start(a, forever, nil)
	s.Start(b, forever, nil)
	s.Step()

	s.StopAll(ErrDispatcherClosed)

	assert.ErrorIs(t, a.Err(), ErrDispatcherClosed)
	assert.ErrorIs(t, b.Err(), ErrDispatcherClosed)
	assert.Equal(t, 2, cleaned)
	assert.Zero(t, s.Active())
}

func TestStepper_WaitOnTask(t *testing.T) {
	s := NewStepper(nil)
	task := NewFactory(nil, nil).New(StrategyCurrentThread, func(ctx context.Context) error {
		return nil
	})

	h := newRoutineHandle()
	s.Start(h, func(yield func(any) bool) { yield(task) }, nil)

	s.Step() // parent yields the task
	s.Step() // task not started yet
	s.Step()
	assert.False(t, h.Done(), "still waiting on the task")

	require.NoError(t, task.Start())
	s.Step() // wait routine ends
	s.Step() // parent ends
	assert.True(t, h.Done())
	assert.NoError(t, h.Err())
}
