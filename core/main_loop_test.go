package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *MainLoop {
	t.Helper()
	l := StartMainLoop(&DispatcherConfig{Logger: NewNoOpLogger()}, time.Millisecond)
	t.Cleanup(l.Stop)
	return l
}

// TestMainLoop_ExecutionOrder tests execution order
// Main test items:
// 1. Actions posted from another goroutine all run
// 2. They run in the order they were posted
func TestMainLoop_ExecutionOrder(t *testing.T) {
	l := newTestLoop(t)
	d := l.Dispatcher()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		id := i
		require.NoError(t, d.Enqueue(func(ctx context.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

// TestMainLoop_ThreadAffinity tests thread affinity
// Main test items:
// 1. Every action runs on the same goroutine
// 2. That goroutine is the dispatcher's main goroutine
// 3. The test goroutine is not
func TestMainLoop_ThreadAffinity(t *testing.T) {
	l := newTestLoop(t)
	d := l.Dispatcher()

	assert.False(t, d.IsMainThread(), "test goroutine must not be main")

	var mu sync.Mutex
	ids := make(map[uint64]bool)
	var offMain atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Enqueue(func(ctx context.Context) {
			if !d.IsMainThread() {
				offMain.Add(1)
			}
			mu.Lock()
			ids[goroutineID()] = true
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, ids, 1, "all actions should run on one goroutine")
	assert.Zero(t, offMain.Load())
}

func TestMainLoop_Ticks(t *testing.T) {
	l := newTestLoop(t)
	require.Eventually(t, func() bool { return l.Ticks() >= 3 }, time.Second, time.Millisecond)
}

// TestMainLoop_PanicRecovery tests panic recovery
// Main test items:
// 1. A panicking action is reported
// 2. Later actions still run and the loop stays open
func TestMainLoop_PanicRecovery(t *testing.T) {
	handler := NewTestPanicHandler()
	l := StartMainLoop(&DispatcherConfig{Logger: NewNoOpLogger(), PanicHandler: handler}, time.Millisecond)
	defer l.Stop()
	d := l.Dispatcher()

	require.NoError(t, d.Enqueue(func(ctx context.Context) { panic("test panic") }))

	var executed atomic.Bool
	require.NoError(t, d.Enqueue(func(ctx context.Context) { executed.Store(true) }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))

	assert.True(t, executed.Load(), "action after panic was not executed")
	assert.False(t, l.IsClosed(), "loop should not be closed after panic")
	require.Equal(t, 1, handler.CallCount())
	assert.Equal(t, CategoryActions, handler.GetCalls()[0].Source)
	assert.True(t, handler.GetCalls()[0].HasStack)
	assert.Equal(t, int64(1), d.Stats().Panics)
}

// TestMainLoop_Stop tests stopping the loop
// Main test items:
// 1. Stop closes the loop and quits the dispatcher
// 2. Posting afterwards fails with ErrDispatcherClosed
// 3. Stop and WaitShutdown are safe to repeat
func TestMainLoop_Stop(t *testing.T) {
	l := StartMainLoop(&DispatcherConfig{Logger: NewNoOpLogger()}, time.Millisecond)

	l.Stop()
	l.Stop()

	assert.True(t, l.IsClosed())
	assert.True(t, l.Dispatcher().IsQuitting())
	assert.ErrorIs(t, l.Dispatcher().Enqueue(func(context.Context) {}), ErrDispatcherClosed)
	assert.Error(t, l.WaitIdle(context.Background()), "WaitIdle on a closed loop")
	assert.NoError(t, l.WaitShutdown(context.Background()))
}

func TestMainLoop_QuitFromInside(t *testing.T) {
	l := StartMainLoop(&DispatcherConfig{Logger: NewNoOpLogger()}, time.Millisecond)
	defer l.Stop()
	d := l.Dispatcher()

	require.NoError(t, d.Enqueue(func(ctx context.Context) {
		// Stop on the loop goroutine must not wait for itself.
		l.Stop()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitShutdown(ctx))
	assert.True(t, l.IsClosed())
}

func TestMainLoop_WaitShutdown_ContextCancelled(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitShutdown(ctx), context.DeadlineExceeded)
}

// TestMainLoop_StopEndsRoutines tests routine teardown on Stop
// Main test items:
// 1. A routine that never finishes is stepped by the loop
// 2. Stop completes its handle with ErrDispatcherClosed
func TestMainLoop_StopEndsRoutines(t *testing.T) {
	l := StartMainLoop(&DispatcherConfig{Logger: NewNoOpLogger()}, time.Millisecond)
	d := l.Dispatcher()

	h, err := d.StartRoutine(func(yield func(any) bool) {
		for yield(nil) {
		}
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.Stats().ActiveRoutines == 1 }, time.Second, time.Millisecond)

	l.Stop()

	assert.True(t, h.Done())
	assert.ErrorIs(t, h.Err(), ErrDispatcherClosed)
	assert.Zero(t, d.Stats().ActiveRoutines)
}

func TestMainLoop_CoroutineTask(t *testing.T) {
	l := newTestLoop(t)
	f := NewFactory(l.Dispatcher(), nil)

	var steps atomic.Int32
	task := f.RunCoroutine(func(*Task) Routine {
		return func(yield func(any) bool) {
			for i := 0; i < 3; i++ {
				steps.Add(1)
				if !yield(nil) {
					return
				}
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
	assert.Equal(t, StatusSuccess, task.Status())
	assert.Equal(t, int32(3), steps.Load())
}
