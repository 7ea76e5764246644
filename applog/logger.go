// Package applog provides structured, non-terminal logging for diagnostics
// that are not part of the human-facing status line: worker crashes,
// persisted-state write failures, and fatal errors raised before the
// terminal logger is even wired up. Two variants mirror the teacher's
// split: Logger for high-volume structured fields, SugaredLogger for
// printf-style convenience at CLI/debug call sites.
package applog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger writing newline-delimited JSON.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger wraps a zap.SugaredLogger for printf-style logging.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a Logger writing JSON lines to os.Stderr.
func New() *Logger {
	return newWithWriter(os.Stderr)
}

// WithOutput returns a new Logger writing to a different writer, keeping
// the same encoder configuration.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newWithWriter(w io.Writer) *Logger {
	core := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: zap.New(core)}
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
}

// With returns a Logger with additional structured fields attached to
// every subsequent entry (e.g. target name, script path).
func (l *Logger) With(fields map[string]any) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(zapFields...)}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }
func (l *Logger) Info(message string, fields map[string]any)  { l.zap.Info(message, zap.Any("fields", fields)) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.zap.Warn(message, zap.Any("fields", fields)) }
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }
func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

// With returns a SugaredLogger with additional key-value context.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
