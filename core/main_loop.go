package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is the pump cadence used when none is given (~60 Hz).
const DefaultTickInterval = 16 * time.Millisecond

// MainLoop binds a Dispatcher to a dedicated goroutine and pumps it on a
// fixed cadence. Use it when the host has no frame loop of its own; hosts
// with a frame loop call Dispatcher.Pump directly instead.
//
// The loop goroutine is the dispatcher's main goroutine, so MainThread and
// Coroutine tasks always execute there.
type MainLoop struct {
	dispatcher *Dispatcher
	interval   time.Duration

	// Lifecycle control
	ready   chan struct{}
	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool
	ticks   atomic.Int64
}

// StartMainLoop spawns the loop goroutine, creates its Dispatcher there, and
// returns once the dispatcher exists. An interval <= 0 uses DefaultTickInterval.
func StartMainLoop(config *DispatcherConfig, interval time.Duration) *MainLoop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	l := &MainLoop{
		interval: interval,
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go l.runLoop(config)
	<-l.ready
	return l
}

// Dispatcher returns the dispatcher owned by the loop.
func (l *MainLoop) Dispatcher() *Dispatcher { return l.dispatcher }

// Ticks returns how many times the loop has pumped.
func (l *MainLoop) Ticks() int64 { return l.ticks.Load() }

// IsClosed returns true once the loop has been stopped or its dispatcher quit.
func (l *MainLoop) IsClosed() bool {
	return l.closed.Load() || l.dispatcher.IsQuitting()
}

// Stop quits the dispatcher and waits for the loop goroutine to exit.
// Called from work running on the loop itself, it only quits: the loop
// exits once that work returns.
func (l *MainLoop) Stop() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.dispatcher.Quit()
	})
	if l.dispatcher.IsMainThread() {
		return
	}
	<-l.stopped
}

// runLoop is the core of this loop, it occupies a dedicated goroutine
func (l *MainLoop) runLoop(config *DispatcherConfig) {
	defer close(l.stopped)

	l.dispatcher = NewDispatcher(config)
	close(l.ready)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	quit := l.dispatcher.Context().Done()
	for {
		select {
		case <-ticker.C:
			if err := l.dispatcher.Pump(); err != nil {
				l.dispatcher.logger.Error("pump failed", F("error", err))
			}
			l.ticks.Add(1)

		case <-quit:
			// Ends routines still on the driver, from the main goroutine.
			_ = l.dispatcher.DrainOnce()
			l.closed.Store(true)
			return
		}
	}
}

// WaitIdle blocks until all actions posted before the call have run.
// This is implemented by posting a barrier action and waiting for it.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - The loop is closed
func (l *MainLoop) WaitIdle(ctx context.Context) error {
	if l.IsClosed() {
		return fmt.Errorf("main loop is closed")
	}

	done := make(chan struct{})
	if err := l.dispatcher.Enqueue(func(context.Context) { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitShutdown blocks until the dispatcher quits, either through Stop or
// through work running on the loop calling Quit.
func (l *MainLoop) WaitShutdown(ctx context.Context) error {
	select {
	case <-l.dispatcher.Context().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
