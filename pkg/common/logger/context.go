package logger

import "context"

// LoggerContext accumulates attributes across a unit of work (one sub-task in
// a sweep, one callback) so that every record emitted for it carries the same
// identifiers without threading them through each call.
type LoggerContext struct {
	logger *Logger
	attrs  []any
}

// NewLoggerContext wraps logger with an empty attribute set.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends key/value pairs to the accumulated attributes.
func (lc *LoggerContext) Add(args ...any) { lc.attrs = append(lc.attrs, args...) }

// Logger returns a Logger carrying the accumulated attributes.
func (lc *LoggerContext) Logger() *Logger { return lc.logger.With(lc.attrs...) }

func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelDebug, 3, msg, append(args, lc.attrs...)...)
}

func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelInfo, 3, msg, append(args, lc.attrs...)...)
}

func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelWarn, 3, msg, append(args, lc.attrs...)...)
}

func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelError, 3, msg, append(args, lc.attrs...)...)
}
