package logger

import "context"

// LoggerContext accumulates attributes over the course of an operation so
// hot paths can attach context incrementally without re-deriving the base
// logger. It is not safe for concurrent use; each goroutine should create
// its own.
type LoggerContext struct {
	log  *Logger
	args []any
}

// NewLoggerContext creates a LoggerContext around the provided logger.
func NewLoggerContext(log *Logger) *LoggerContext {
	return &LoggerContext{log: log}
}

// Add appends key/value pairs that will be included in every subsequent
// log record written through this context.
func (lc *LoggerContext) Add(args ...any) { lc.args = append(lc.args, args...) }

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.log.Debugc(ctx, 3, msg, lc.merged(args)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.log.Infoc(ctx, 3, msg, lc.merged(args)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.log.Warnc(ctx, 3, msg, lc.merged(args)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.log.Errorc(ctx, 3, msg, lc.merged(args)...)
}

func (lc *LoggerContext) merged(args []any) []any {
	if len(lc.args) == 0 {
		return args
	}
	merged := make([]any, 0, len(lc.args)+len(args))
	merged = append(merged, lc.args...)
	merged = append(merged, args...)
	return merged
}
