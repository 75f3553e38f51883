package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alanvitalp/road-to-next/pkg/contextkeys"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger emits structured JSON log lines through log/slog. Derived loggers
// returned by the With* methods share the underlying handler, so building
// field chains per request is cheap.
type Logger struct {
	slog *slog.Logger
}

// NewLogger builds a JSON logger writing to output at the given level.
// A nil output falls back to stdout.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	slogLevel, ok := slogLevels[level]
	if !ok {
		slogLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{slog: slog.New(handler)}
}

// WithField returns a logger that carries one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{slog: l.slog.With(key, value)}
}

// WithFields returns a logger that carries the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{slog: l.slog.With(args...)}
}

// WithError returns a logger carrying the error message, or l itself when
// err is nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{slog: l.slog.With("error", err.Error())}
}

// FromContext returns a logger enriched with the request id when the
// context carries one.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	if id := contextkeys.GetRequestID(ctx); id != "" {
		return l.WithField("request_id", id)
	}
	return l
}

func (l *Logger) Debug(message string) { l.slog.Debug(message) }
func (l *Logger) Info(message string)  { l.slog.Info(message) }
func (l *Logger) Warn(message string)  { l.slog.Warn(message) }
func (l *Logger) Error(message string) { l.slog.Error(message) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.slog.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.slog.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, args...))
}
