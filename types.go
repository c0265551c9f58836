package mainthread

import "github.com/Swind/go-mainthread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the mainthread package for most use cases.

// Task is a unit of work with an observable outcome.
type Task = core.Task

// TaskOf is a Task that also carries a result value.
type TaskOf[T any] = core.TaskOf[T]

// Status is the lifecycle state of a Task.
type Status = core.Status

// Strategy selects where a Task's body executes.
type Strategy = core.Strategy

// Action is work posted to the dispatcher or the pool.
type Action = core.Action

// Routine is a cooperative sequence stepped on the main goroutine.
type Routine = core.Routine

// RoutineHandle tracks a routine started through the dispatcher.
type RoutineHandle = core.RoutineHandle

// Dispatcher runs posted work on the main goroutine.
type Dispatcher = core.Dispatcher

// LogLevel is the severity of a queued log record.
type LogLevel = core.LogLevel

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Status constants
const (
	StatusCreated = core.StatusCreated
	StatusRunning = core.StatusRunning
	StatusSuccess = core.StatusSuccess
	StatusFaulted = core.StatusFaulted
)

// Strategy constants
const (
	StrategyBackground    = core.StrategyBackground
	StrategyMainThread    = core.StrategyMainThread
	StrategyCurrentThread = core.StrategyCurrentThread
	StrategyCoroutine     = core.StrategyCoroutine
	StrategyCustom        = core.StrategyCustom
)

// Log level constants
const (
	LogInfo    = core.LogInfo
	LogWarning = core.LogWarning
	LogError   = core.LogError
	LogAssert  = core.LogAssert
)

// Pre-completed tasks and routine helpers
var (
	SuccessTask = core.SuccessTask
	FailedTask  = core.FailedTask
	Yield       = core.Yield
	Sequence    = core.Sequence
)

// SuccessTaskOf returns a finished typed task holding v.
func SuccessTaskOf[T any](v T) *TaskOf[T] { return core.SuccessTaskOf(v) }

// FailedTaskOf returns a faulted typed task, optionally carrying a result.
func FailedTaskOf[T any](err error, result ...T) *TaskOf[T] {
	return core.FailedTaskOf(err, result...)
}
