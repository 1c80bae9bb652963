// Package logging holds the process-wide zap logger. The server logs to a
// file with a numeric verbosity knob (0 silences everything, 5 is debug),
// matching the log_file and log_level configuration keys.
package logging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoomIDKey contextKey = "room_id"
)

// levelFor maps the numeric configuration level to a zap level. Level 0
// is handled separately (no-op logger).
func levelFor(level int) zapcore.Level {
	switch level {
	case 1:
		return zapcore.ErrorLevel
	case 2:
		return zapcore.WarnLevel
	case 3:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Initialize sets up the global logger writing to path at the given
// numeric level. It is a once-only operation; later calls are ignored.
func Initialize(path string, level int) error {
	var err error
	once.Do(func() {
		if level <= 0 {
			logger = zap.NewNop()
			return
		}

		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(levelFor(level))
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{path}
		config.ErrorOutputPaths = []string{path}

		logger, err = config.Build(zap.AddCallerSkip(1))
		if err != nil {
			err = fmt.Errorf("building logger for %q: %w", path, err)
		}
	})
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback for tests or before init
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Debug logs a message at DebugLevel
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, appendContextFields(ctx, fields)...)
}

// Info logs a message at InfoLevel
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if uid, ok := ctx.Value(UserIDKey).(uint64); ok {
		fields = append(fields, zap.Uint64("user_id", uid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(uint64); ok {
		fields = append(fields, zap.Uint64("room_id", rid))
	}

	fields = append(fields, zap.String("service", "freshd"))
	return fields
}
