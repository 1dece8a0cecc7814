// Package log provides structured logging for the pipeline stages.
//
// Entries are single-line JSON on stderr keyed the way Cloud Logging
// ingests them: severity, message, timestamp. The stage name is attached
// at construction and repeats on every entry; per-delivery context
// (message_id, delivery_attempt, invoice_id) is attached with With and
// travels through request contexts via NewContext/FromContext.
package log

import (
	"context"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a non-sugared zap.Logger. A nil *Logger is safe and
// discards everything.
type Logger struct {
	zap *zap.Logger
}

// New creates a stage logger writing to os.Stderr.
func New(stage string) *Logger {
	return NewWithWriter(stage, os.Stderr)
}

// NewWithWriter creates a stage logger writing to w. Tests pass a buffer.
func NewWithWriter(stage string, w io.Writer) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "severity",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	zl := zap.New(core)
	if stage != "" {
		zl = zl.With(zap.String("stage", stage))
	}
	return &Logger{zap: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// With returns a logger that repeats fields on every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil || l.zap == nil {
		return l
	}
	return &Logger{zap: l.zap.With(flatten(fields)...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Debug(message, flatten(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Info(message, flatten(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Warn(message, flatten(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Error(message, flatten(fields)...)
}

// Sync flushes buffered entries. Call before process exit.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// flatten turns the field map into zap fields in sorted key order so
// entries are byte-stable for a given input.
func flatten(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

type contextKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger carried by ctx, or a discarding logger
// so call sites never nil-check.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
