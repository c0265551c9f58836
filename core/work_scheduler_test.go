package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestWorkScheduler_ExecutionOrder tests FIFO execution order
// Main test items:
// 1. Actions execute in insertion order
// 2. GetWork returns false once stopCh closes on an empty queue
func TestWorkScheduler_ExecutionOrder(t *testing.T) {
	s := NewWorkScheduler(1)

	results := make(chan string, 10)
	makeAction := func(name string) Action {
		return func(ctx context.Context) {
			results <- name
		}
	}

	for _, name := range []string{"first", "second", "third"} {
		if err := s.Post(makeAction(name)); err != nil {
			t.Fatalf("Post(%s) failed: %v", name, err)
		}
	}

	expected := []string{"first", "second", "third"}
	stopCh := make(chan struct{})

	for i, exp := range expected {
		action, ok := s.GetWork(stopCh)
		if !ok {
			t.Fatalf("Step %d: expected action but got none", i)
		}
		action(context.Background())

		got := <-results
		if got != exp {
			t.Errorf("Step %d: Expected %s, got %s", i, exp, got)
		}
	}

	close(stopCh)
	if _, ok := s.GetWork(stopCh); ok {
		t.Error("GetWork on an empty queue with a closed stopCh should return false")
	}
}

// TestWorkScheduler_Metrics tests scheduler metric reporting
// Main test items:
// 1. WorkerCount returns configured worker count
// 2. QueuedTaskCount reports queued actions accurately
// 3. ActiveTaskCount follows OnTaskStart/OnTaskEnd
func TestWorkScheduler_Metrics(t *testing.T) {
	s := NewWorkScheduler(2)

	if s.WorkerCount() != 2 {
		t.Errorf("Expected WorkerCount 2, got %d", s.WorkerCount())
	}
	if s.QueuedTaskCount() != 0 || s.ActiveTaskCount() != 0 {
		t.Errorf("Expected empty scheduler, got queued=%d active=%d", s.QueuedTaskCount(), s.ActiveTaskCount())
	}

	noop := func(ctx context.Context) {}
	_ = s.Post(noop)
	_ = s.Post(noop)

	if s.QueuedTaskCount() != 2 {
		t.Errorf("Expected QueuedTaskCount 2, got %d", s.QueuedTaskCount())
	}

	stopCh := make(chan struct{})
	if _, ok := s.GetWork(stopCh); !ok {
		t.Fatal("Failed to get work")
	}
	if s.QueuedTaskCount() != 1 {
		t.Errorf("Expected QueuedTaskCount 1 (after pop), got %d", s.QueuedTaskCount())
	}

	s.OnTaskStart()
	if s.ActiveTaskCount() != 1 {
		t.Errorf("Expected ActiveTaskCount 1, got %d", s.ActiveTaskCount())
	}
	s.OnTaskEnd()
	if s.ActiveTaskCount() != 0 {
		t.Errorf("Expected ActiveTaskCount 0, got %d", s.ActiveTaskCount())
	}
}

func TestWorkScheduler_ZeroWorkersClamped(t *testing.T) {
	if got := NewWorkScheduler(0).WorkerCount(); got != 1 {
		t.Errorf("WorkerCount() = %d, want 1", got)
	}
}

// TestWorkScheduler_Shutdown tests immediate shutdown behavior
// Main test items:
// 1. Shutdown() drops queued actions
// 2. New actions are rejected with ErrPoolNotRunning
// 3. Rejections reach the handler and metrics
func TestWorkScheduler_Shutdown(t *testing.T) {
	rejected := NewTestRejectedHandler()
	metrics := NewTestMetrics()
	s := NewWorkSchedulerWithConfig(1, &WorkSchedulerConfig{
		RejectedHandler: rejected,
		Metrics:         metrics,
	})
	noop := func(ctx context.Context) {}

	_ = s.Post(noop)
	if s.QueuedTaskCount() != 1 {
		t.Fatal("Setup failed: should have 1 action")
	}

	s.Shutdown()
	if s.QueuedTaskCount() != 0 {
		t.Errorf("Shutdown should drop queued actions, got %d", s.QueuedTaskCount())
	}

	err := s.Post(noop)
	if !errors.Is(err, ErrPoolNotRunning) {
		t.Errorf("Post after Shutdown = %v, want ErrPoolNotRunning", err)
	}
	if s.QueuedTaskCount() != 0 {
		t.Errorf("Shutdown failed: accepted new action (count: %d)", s.QueuedTaskCount())
	}

	want := TaskRejectionMetric{Source: "pool", Reason: "shutting down"}
	if got := rejected.GetRejections(); len(got) != 1 || got[0] != want {
		t.Errorf("rejections = %v, want [%v]", got, want)
	}
	if got := metrics.GetTaskRejections(); len(got) != 1 || got[0] != want {
		t.Errorf("rejection metrics = %v, want [%v]", got, want)
	}
}

func TestWorkScheduler_Handlers(t *testing.T) {
	s := NewWorkScheduler(1)
	if _, ok := s.GetPanicHandler().(*DefaultPanicHandler); !ok {
		t.Errorf("GetPanicHandler() = %T, want *DefaultPanicHandler", s.GetPanicHandler())
	}
	if _, ok := s.GetMetrics().(*NilMetrics); !ok {
		t.Errorf("GetMetrics() = %T, want *NilMetrics", s.GetMetrics())
	}

	ph := NewTestPanicHandler()
	s = NewWorkSchedulerWithConfig(1, &WorkSchedulerConfig{PanicHandler: ph})
	if s.GetPanicHandler() != ph {
		t.Error("GetPanicHandler() should return the configured handler")
	}
}

// TestWorkScheduler_ShutdownGraceful_EmptyQueue tests graceful shutdown with empty queue
// Main test items:
// 1. ShutdownGraceful completes immediately when queue is empty
// 2. New actions are rejected after graceful shutdown
func TestWorkScheduler_ShutdownGraceful_EmptyQueue(t *testing.T) {
	s := NewWorkScheduler(2)

	if err := s.ShutdownGraceful(1 * time.Second); err != nil {
		t.Fatalf("ShutdownGraceful failed: %v", err)
	}

	if err := s.Post(func(ctx context.Context) {}); err == nil {
		t.Error("ShutdownGraceful should reject new actions")
	}
	if s.QueuedTaskCount() != 0 {
		t.Error("ShutdownGraceful should reject new actions")
	}
}

// TestWorkScheduler_ShutdownGraceful_WithActiveTasks tests graceful shutdown with active work
// Main test items:
// 1. ShutdownGraceful waits for active actions to complete
// 2. Returns nil when all active actions finish
func TestWorkScheduler_ShutdownGraceful_WithActiveTasks(t *testing.T) {
	s := NewWorkScheduler(2)

	// Simulate actions already picked up by workers
	for i := 0; i < 3; i++ {
		s.OnTaskStart()
	}

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(20 * time.Millisecond)
			s.OnTaskEnd()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ShutdownGraceful(1 * time.Second)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ShutdownGraceful failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("ShutdownGraceful timed out")
	}

	if s.ActiveTaskCount() != 0 {
		t.Errorf("Expected 0 active actions after shutdown, got %d", s.ActiveTaskCount())
	}
}

// TestWorkScheduler_ShutdownGraceful_Timeout tests graceful shutdown timeout behavior
// Main test items:
// 1. ShutdownGraceful returns error when timeout occurs
// 2. Queue is dropped even when timeout happens
func TestWorkScheduler_ShutdownGraceful_Timeout(t *testing.T) {
	s := NewWorkScheduler(1)

	var dropped error
	_ = s.PostWithDrop(func(ctx context.Context) {}, func(err error) { dropped = err })
	s.OnTaskStart() // never ends

	err := s.ShutdownGraceful(50 * time.Millisecond)
	if err == nil {
		t.Error("Expected timeout error, got nil")
	}
	if s.QueuedTaskCount() != 0 {
		t.Errorf("Expected queue to be dropped after timeout, got %d", s.QueuedTaskCount())
	}
	if !errors.Is(dropped, ErrPoolNotRunning) {
		t.Errorf("drop callback got %v, want ErrPoolNotRunning", dropped)
	}
}

// TestWorkScheduler_ShutdownCallsDrop tests drop callbacks of discarded actions
// Main test items:
// 1. Every queued action's drop callback receives ErrPoolNotRunning, in order
// 2. A rejected post never calls its drop callback
func TestWorkScheduler_ShutdownCallsDrop(t *testing.T) {
	s := NewWorkScheduler(1)
	var got []string
	for _, name := range []string{"a", "b"} {
		name := name
		_ = s.PostWithDrop(func(ctx context.Context) {}, func(err error) {
			if !errors.Is(err, ErrPoolNotRunning) {
				t.Errorf("drop %s got %v, want ErrPoolNotRunning", name, err)
			}
			got = append(got, name)
		})
	}
	_ = s.Post(func(ctx context.Context) {}) // no callback

	s.Shutdown()

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("dropped = %v, want [a b]", got)
	}

	err := s.PostWithDrop(func(ctx context.Context) {}, func(error) { got = append(got, "late") })
	if !errors.Is(err, ErrPoolNotRunning) {
		t.Errorf("PostWithDrop after Shutdown = %v, want ErrPoolNotRunning", err)
	}
	if len(got) != 2 {
		t.Errorf("rejected post called its drop callback: %v", got)
	}
}
