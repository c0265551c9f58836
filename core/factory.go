package core

import (
	"context"
	"reflect"
	"runtime"
)

// ThreadPool runs background actions. The root package's GoroutineThreadPool
// implements it.
type ThreadPool interface {
	ID() string
	IsRunning() bool
	Post(action Action) error
	// PostWithDrop is Post; drop is called if the pool discards the action
	// before running it.
	PostWithDrop(action Action, drop func(error)) error
}

// Factory builds and starts Tasks against one dispatcher and one pool.
// It is safe for concurrent use.
type Factory struct {
	dispatcher   *Dispatcher
	pool         ThreadPool
	ctx          context.Context
	logger       Logger
	metrics      Metrics
	reportFaults bool
	history      *taskHistory
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithContext sets the context passed to CurrentThread bodies.
func WithContext(ctx context.Context) FactoryOption {
	return func(f *Factory) { f.ctx = ctx }
}

// WithLogger sets the logger used for task diagnostics.
func WithLogger(logger Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithMetrics sets the metrics collector for task durations and faults.
func WithMetrics(metrics Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = metrics }
}

// WithFaultReporting posts an error record to the dispatcher's log queue for
// every task that faults. Off by default: faults are otherwise only visible
// through Status and Err.
func WithFaultReporting(enabled bool) FactoryOption {
	return func(f *Factory) { f.reportFaults = enabled }
}

// WithHistoryCapacity sets how many finished tasks Recent can return.
func WithHistoryCapacity(capacity int) FactoryOption {
	return func(f *Factory) { f.history = newTaskHistory(capacity) }
}

// NewFactory creates a Factory. dispatcher serves MainThread and Coroutine
// tasks and pool serves Background tasks; either may be nil, in which case
// tasks needing it fault on Start.
func NewFactory(dispatcher *Dispatcher, pool ThreadPool, opts ...FactoryOption) *Factory {
	f := &Factory{
		dispatcher: dispatcher,
		pool:       pool,
		ctx:        context.Background(),
		logger:     NewNoOpLogger(),
		metrics:    &NilMetrics{},
		history:    newTaskHistory(defaultTaskHistoryCapacity),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dispatcher returns the dispatcher used for MainThread and Coroutine tasks.
func (f *Factory) Dispatcher() *Dispatcher { return f.dispatcher }

// Recent returns up to limit finished tasks, newest first. A limit <= 0
// returns everything still held.
func (f *Factory) Recent(limit int) []TaskExecutionRecord {
	return f.history.recent(limit, nil)
}

// RecentFaulted is Recent restricted to faulted tasks.
func (f *Factory) RecentFaulted(limit int) []TaskExecutionRecord {
	return f.history.recent(limit, TaskExecutionRecord.Faulted)
}

// LastFinished returns the most recently finished task.
func (f *Factory) LastFinished() (TaskExecutionRecord, bool) {
	return f.history.last()
}

func (f *Factory) bind(t *Task) {
	t.dispatcher = f.dispatcher
	t.pool = f.pool
	t.ctx = f.ctx
	t.onFinish = f.observe
}

func (f *Factory) observe(t *Task) {
	rec := recordOf(t)
	f.metrics.RecordTaskDuration(rec.Strategy, rec.Duration)
	f.history.add(rec)

	if !rec.Faulted() {
		return
	}
	f.metrics.RecordTaskFaulted(rec.Strategy)
	f.logger.Debug("task faulted", F("task", rec.Name), F("id", rec.TaskID), F("error", rec.Err))
	if f.reportFaults && f.dispatcher != nil {
		_ = f.dispatcher.Logf(LogError, "task %s (%s) faulted: %v", rec.Name, rec.TaskID, rec.Err)
	}
}

// =============================================================================
// Untyped tasks
// =============================================================================

// New builds a task without starting it. With StrategyCoroutine the body
// runs as a single-step routine on the main goroutine.
func (f *Factory) New(strategy Strategy, body func(ctx context.Context) error) *Task {
	return f.NewNamed("", strategy, body)
}

// NewNamed is New with an explicit task name.
func (f *Factory) NewNamed(name string, strategy Strategy, body func(ctx context.Context) error) *Task {
	t := newTask(taskName(body, name), strategy)
	f.bind(t)
	if body == nil {
		body = func(context.Context) error { return nil }
	}
	t.body = body
	if strategy == StrategyCoroutine {
		t.makeRoutine = func() Routine { return bodyRoutine(t, f.dispatcher.Context(), body) }
	}
	return t
}

// Run starts body on the thread pool.
func (f *Factory) Run(body func(ctx context.Context) error) *Task {
	return f.start(f.New(StrategyBackground, body))
}

// RunOnMain posts body to run on the main goroutine at the next drain.
func (f *Factory) RunOnMain(body func(ctx context.Context) error) *Task {
	return f.start(f.New(StrategyMainThread, body))
}

// RunOnCurrent runs body before returning.
func (f *Factory) RunOnCurrent(body func(ctx context.Context) error) *Task {
	return f.start(f.New(StrategyCurrentThread, body))
}

// NewCoroutine builds a Coroutine task without starting it. build receives
// the task itself so the routine can call RequestStop or Fail.
func (f *Factory) NewCoroutine(build func(t *Task) Routine) *Task {
	t := newTask(taskName(build, ""), StrategyCoroutine)
	f.bind(t)
	t.makeRoutine = func() Routine {
		if build == nil {
			return nil
		}
		return build(t)
	}
	return t
}

// RunCoroutine starts a routine as a task on the main goroutine. From the
// main goroutine it starts immediately; from elsewhere it is queued for the
// next drain.
func (f *Factory) RunCoroutine(build func(t *Task) Routine) *Task {
	return f.start(f.NewCoroutine(build))
}

func (f *Factory) start(t *Task) *Task {
	if err := t.Start(); err != nil {
		f.logger.Warn("task start refused", F("task", t.name), F("error", err))
	}
	return t
}

func bodyRoutine(t *Task, ctx context.Context, body func(ctx context.Context) error) Routine {
	return func(yield func(any) bool) {
		if err := body(ctx); err != nil {
			t.Fail(err)
		}
	}
}

// =============================================================================
// Typed tasks
// =============================================================================

// NewOf builds a typed task without starting it.
func NewOf[T any](f *Factory, strategy Strategy, body func(ctx context.Context) (T, error)) *TaskOf[T] {
	t := &TaskOf[T]{}
	t.Task = f.NewNamed(taskName(body, ""), strategy, func(ctx context.Context) error {
		if body == nil {
			return nil
		}
		v, err := body(ctx)
		if err != nil {
			return err
		}
		t.result = v
		return nil
	})
	return t
}

// RunOf starts a typed task with the given strategy.
func RunOf[T any](f *Factory, strategy Strategy, body func(ctx context.Context) (T, error)) *TaskOf[T] {
	t := NewOf(f, strategy, body)
	f.start(t.Task)
	return t
}

// RunOf1 starts a typed task whose body takes one extra argument.
func RunOf1[A, T any](f *Factory, strategy Strategy, body func(ctx context.Context, a A) (T, error), a A) *TaskOf[T] {
	return runNamedOf(f, strategy, taskName(body, ""), func(ctx context.Context) (T, error) {
		return body(ctx, a)
	})
}

// RunOf2 starts a typed task whose body takes two extra arguments.
func RunOf2[A, B, T any](f *Factory, strategy Strategy, body func(ctx context.Context, a A, b B) (T, error), a A, b B) *TaskOf[T] {
	return runNamedOf(f, strategy, taskName(body, ""), func(ctx context.Context) (T, error) {
		return body(ctx, a, b)
	})
}

// RunOf3 starts a typed task whose body takes three extra arguments.
func RunOf3[A, B, C, T any](f *Factory, strategy Strategy, body func(ctx context.Context, a A, b B, c C) (T, error), a A, b B, c C) *TaskOf[T] {
	return runNamedOf(f, strategy, taskName(body, ""), func(ctx context.Context) (T, error) {
		return body(ctx, a, b, c)
	})
}

func runNamedOf[T any](f *Factory, strategy Strategy, name string, body func(ctx context.Context) (T, error)) *TaskOf[T] {
	t := NewOf(f, strategy, body)
	t.name = name
	f.start(t.Task)
	return t
}

// RunCoroutineOf starts a typed Coroutine task. The routine reports its value
// through SetResult; whatever was set when the routine ends is the result.
func RunCoroutineOf[T any](f *Factory, build func(t *TaskOf[T]) Routine) *TaskOf[T] {
	t := &TaskOf[T]{}
	t.Task = f.NewCoroutine(func(*Task) Routine {
		if build == nil {
			return nil
		}
		return build(t)
	})
	t.name = taskName(build, "")
	f.start(t.Task)
	return t
}

// taskName returns explicit when set, otherwise the symbol name of fn.
func taskName(fn any, explicit string) string {
	if explicit != "" {
		return explicit
	}
	v := reflect.ValueOf(fn)
	if fn == nil || v.Kind() != reflect.Func || v.Pointer() == 0 {
		return "anonymous"
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil && f.Name() != "" {
		return f.Name()
	}
	return "anonymous"
}
