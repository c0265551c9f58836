package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling panics raised by dispatched work
// =============================================================================

// PanicHandler is called when an action, routine or log sink panics while the
// dispatcher is draining. Task bodies never reach it: their panics are stored
// on the Task instead.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when dispatched work panics.
	//
	// Parameters:
	// - ctx: The dispatcher context
	// - source: The queue category or component the work came from
	// - panicInfo: The panic value recovered from the work
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, source string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, source string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Dispatcher %s] Panic: %v\nStack trace:\n%s", source, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting the main goroutine.
type Metrics interface {
	// RecordTaskDuration records how long a task body took, per strategy.
	RecordTaskDuration(strategy Strategy, duration time.Duration)

	// RecordTaskFaulted records that a task finished in the Faulted state.
	RecordTaskFaulted(strategy Strategy)

	// RecordTaskPanic records that dispatched work panicked during a drain.
	RecordTaskPanic(source string, panicInfo any)

	// RecordQueueDepth records the pending item count of one queue category
	// at the start of a drain.
	RecordQueueDepth(category string, depth int)

	// RecordTaskRejected records work refused by the dispatcher or pool.
	RecordTaskRejected(source string, reason string)

	// RecordFlatten records the outcome of one synchronous flattening run.
	RecordFlatten(steps int, finished bool)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(strategy Strategy, duration time.Duration) {}
func (m *NilMetrics) RecordTaskFaulted(strategy Strategy)                          {}
func (m *NilMetrics) RecordTaskPanic(source string, panicInfo any)                 {}
func (m *NilMetrics) RecordQueueDepth(category string, depth int)                  {}
func (m *NilMetrics) RecordTaskRejected(source string, reason string)              {}
func (m *NilMetrics) RecordFlatten(steps int, finished bool)                       {}

// =============================================================================
// RejectedHandler: Interface for handling rejected work
// =============================================================================

// RejectedHandler is called when work is refused because the dispatcher is
// quitting or the pool is stopped.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedHandler interface {
	// HandleRejected is called when work is rejected.
	//
	// Parameters:
	// - source: The queue category or pool that refused the work
	// - reason: Why the work was rejected (e.g., "quitting")
	HandleRejected(source string, reason string)
}

// DefaultRejectedHandler provides a basic handler that logs rejected work.
type DefaultRejectedHandler struct{}

// HandleRejected logs the rejected work.
func (h *DefaultRejectedHandler) HandleRejected(source string, reason string) {
	fmt.Printf("[Dispatcher %s] Work rejected: %s\n", source, reason)
}

// =============================================================================
// DispatcherConfig: Configuration for Dispatcher
// =============================================================================

// DispatcherConfig holds configuration options for a Dispatcher.
// All handlers are optional; if not provided, default implementations will be used.
type DispatcherConfig struct {
	// Logger receives internal diagnostics. Defaults to DefaultLogger.
	Logger Logger

	// Sink receives queued log records in enqueue order. Defaults to a LoggerSink over Logger.
	Sink LogSink

	// Metrics is called to record execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when dispatched work panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// RejectedHandler is called when work is posted after Quit. Defaults to DefaultRejectedHandler.
	RejectedHandler RejectedHandler

	// Driver steps routines across pump ticks. Defaults to a new Stepper.
	Driver RoutineDriver

	// Synchronous runs routine starts and routine tasks through the Flattener
	// within the drain instead of handing them to Driver.
	Synchronous bool

	// MaxFlattenSteps bounds each synchronous flattening run. Defaults to DefaultMaxSteps.
	MaxFlattenSteps int
}

// DefaultDispatcherConfig returns a config with default handlers.
func DefaultDispatcherConfig() *DispatcherConfig {
	logger := NewDefaultLogger()
	return &DispatcherConfig{
		Logger:          logger,
		Sink:            NewLoggerSink(logger),
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
		RejectedHandler: &DefaultRejectedHandler{},
		MaxFlattenSteps: DefaultMaxSteps,
	}
}

// withDefaults returns a copy of c with every nil field filled in.
func (c *DispatcherConfig) withDefaults() DispatcherConfig {
	var cfg DispatcherConfig
	if c != nil {
		cfg = *c
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger()
	}
	if cfg.Sink == nil {
		cfg.Sink = NewLoggerSink(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NilMetrics{}
	}
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = &DefaultPanicHandler{}
	}
	if cfg.RejectedHandler == nil {
		cfg.RejectedHandler = &DefaultRejectedHandler{}
	}
	if cfg.MaxFlattenSteps <= 0 {
		cfg.MaxFlattenSteps = DefaultMaxSteps
	}
	return cfg
}
