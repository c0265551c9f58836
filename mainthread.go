package mainthread

import (
	"context"
	"sync"

	"github.com/Swind/go-mainthread/core"
)

// Instance bundles the process-wide dispatcher, its worker pool and the
// task factory that uses both.
type Instance struct {
	dispatcher *core.Dispatcher
	loop       *core.MainLoop
	pool       *GoroutineThreadPool
	factory    *core.Factory
	config     Config
}

var (
	current   *Instance
	currentMu sync.Mutex
)

// Init creates the process-wide instance bound to the calling goroutine,
// which becomes the main goroutine. Any previous instance is shut down
// first. A nil cfg uses DefaultConfig.
func Init(cfg *Config) *Instance {
	c := resolveConfig(cfg)
	inst := newInstance(c, core.NewDispatcher(c.DispatcherConfig()), nil)
	replace(inst)
	return inst
}

// InitMainLoop is Init for hosts without a frame loop: the dispatcher is
// owned by a MainLoop goroutine pumping every cfg.TickInterval.
func InitMainLoop(cfg *Config) *Instance {
	c := resolveConfig(cfg)
	loop := core.StartMainLoop(c.DispatcherConfig(), c.TickInterval)
	inst := newInstance(c, loop.Dispatcher(), loop)
	replace(inst)
	return inst
}

// Default returns the live instance, calling Init(nil) on first use.
func Default() *Instance {
	currentMu.Lock()
	defer currentMu.Unlock()

	if current == nil {
		c := resolveConfig(nil)
		current = newInstance(c, core.NewDispatcher(c.DispatcherConfig()), nil)
	}
	return current
}

// Current returns the live instance, or nil when none exists.
func Current() *Instance {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

// Shutdown quits the live instance and clears it.
func Shutdown() {
	replace(nil)
}

// replace swaps in next and closes the previous instance outside the lock,
// so work still draining on the old main goroutine may call Default.
func replace(next *Instance) {
	currentMu.Lock()
	prev := current
	current = next
	currentMu.Unlock()

	if prev != nil {
		prev.close()
	}
}

func resolveConfig(cfg *Config) Config {
	c := *DefaultConfig()
	if cfg != nil {
		c = *cfg
		if c.Workers <= 0 {
			c.Workers = 1
		}
		if c.TickInterval <= 0 {
			c.TickInterval = core.DefaultTickInterval
		}
	}
	if c.Logger == nil {
		c.Logger = core.NewDefaultLogger()
	}
	return c
}

func newInstance(c Config, d *core.Dispatcher, loop *core.MainLoop) *Instance {
	pool := NewGoroutineThreadPoolWithConfig("mainthread-pool", c.Workers, c.schedulerConfig())
	pool.Start(context.Background())

	factory := core.NewFactory(d, pool,
		core.WithContext(d.Context()),
		core.WithLogger(c.Logger),
		core.WithMetrics(metricsOrNil(c.Metrics)),
		core.WithFaultReporting(c.ReportFaults),
	)

	return &Instance{
		dispatcher: d,
		loop:       loop,
		pool:       pool,
		factory:    factory,
		config:     c,
	}
}

func metricsOrNil(m core.Metrics) core.Metrics {
	if m == nil {
		return &core.NilMetrics{}
	}
	return m
}

func (i *Instance) close() {
	if i.loop != nil {
		i.loop.Stop()
	} else {
		i.dispatcher.Quit()
	}
	i.pool.Stop()
}

// Dispatcher returns the instance's dispatcher.
func (i *Instance) Dispatcher() *core.Dispatcher { return i.dispatcher }

// Pool returns the pool serving Background tasks.
func (i *Instance) Pool() *GoroutineThreadPool { return i.pool }

// Factory returns the factory used by the package-level Run helpers.
func (i *Instance) Factory() *core.Factory { return i.factory }

// MainLoop returns the loop created by InitMainLoop, or nil.
func (i *Instance) MainLoop() *core.MainLoop { return i.loop }

// Config returns a copy of the configuration the instance was built with.
func (i *Instance) Config() Config { return i.config }

// IsQuitting reports whether the instance's dispatcher has quit.
func (i *Instance) IsQuitting() bool { return i.dispatcher.IsQuitting() }

// =============================================================================
// Package-level helpers over Default()
// =============================================================================

// IsMainThread reports whether the caller is the default instance's main goroutine.
func IsMainThread() bool { return Default().dispatcher.IsMainThread() }

// Enqueue posts an action to the default dispatcher.
func Enqueue(action Action) error { return Default().dispatcher.Enqueue(action) }

// Log posts a log record to the default dispatcher.
func Log(level LogLevel, message string) error { return Default().dispatcher.Log(level, message) }

// DrainOnce drains the default dispatcher. Call it from the main goroutine.
func DrainOnce() error { return Default().dispatcher.DrainOnce() }

// Pump drains the default dispatcher and steps its driver once.
func Pump() error { return Default().dispatcher.Pump() }

// Run starts body on the worker pool.
func Run(body func(ctx context.Context) error) *Task {
	return Default().factory.Run(body)
}

// RunOnMain runs body on the main goroutine at the next drain.
func RunOnMain(body func(ctx context.Context) error) *Task {
	return Default().factory.RunOnMain(body)
}

// RunOnCurrent runs body on the calling goroutine before returning.
func RunOnCurrent(body func(ctx context.Context) error) *Task {
	return Default().factory.RunOnCurrent(body)
}

// RunCoroutine runs the routine built by build on the main goroutine.
func RunCoroutine(build func(t *Task) Routine) *Task {
	return Default().factory.RunCoroutine(build)
}

// RunOf starts a typed task on the default instance.
func RunOf[T any](strategy Strategy, body func(ctx context.Context) (T, error)) *TaskOf[T] {
	return core.RunOf(Default().factory, strategy, body)
}

// RunCoroutineOf starts a typed Coroutine task on the default instance.
func RunCoroutineOf[T any](build func(t *TaskOf[T]) Routine) *TaskOf[T] {
	return core.RunCoroutineOf(Default().factory, build)
}
