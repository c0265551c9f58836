package core

// LogLevel classifies a queued log record.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarning
	LogError
	LogAssert
)

func (l LogLevel) String() string {
	switch l {
	case LogInfo:
		return "info"
	case LogWarning:
		return "warning"
	case LogError:
		return "error"
	case LogAssert:
		return "assert"
	default:
		return "unknown"
	}
}

// LogRecord is one message posted to the dispatcher's log queue.
type LogRecord struct {
	Level   LogLevel
	Message string
}

// LogSink receives log records on the main goroutine, in enqueue order.
type LogSink interface {
	Emit(record LogRecord)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(record LogRecord)

func (f LogSinkFunc) Emit(record LogRecord) { f(record) }

// LoggerSink forwards records to a Logger. Warnings go to Warn, errors to
// Error, and info and assert records to Info.
type LoggerSink struct {
	logger Logger
}

// NewLoggerSink creates a sink writing to logger.
func NewLoggerSink(logger Logger) *LoggerSink {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(record LogRecord) {
	switch record.Level {
	case LogWarning:
		s.logger.Warn(record.Message)
	case LogError:
		s.logger.Error(record.Message)
	case LogAssert:
		s.logger.Info(record.Message, F("assert", true))
	default:
		s.logger.Info(record.Message)
	}
}
