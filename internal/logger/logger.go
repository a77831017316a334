package logger

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"

	apperrors "github.com/campusbridge/campusbridge/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a configured level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the slog handler used for output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger provides structured logging
type Logger struct {
	handler   slog.Handler
	level     Level
	component string
}

// global default logger
var defaultLogger = New(os.Stdout, LevelInfo, "")

// New creates a new JSON logger
func New(output io.Writer, level Level, component string) *Logger {
	return NewWithFormat(output, level, FormatJSON, component)
}

// NewWithFormat creates a logger writing either JSON or text lines.
func NewWithFormat(output io.Writer, level Level, format Format, component string) *Logger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(output, opts)
	} else {
		h = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		handler:   h,
		level:     level,
		component: component,
	}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		handler:   l.handler,
		level:     l.level,
		component: component,
	}
}

// Slog exposes the logger as a *slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	sl := slog.New(l.handler)
	if l.component != "" {
		sl = sl.With("component", l.component)
	}
	return sl
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]interface{}, err error) {
	if level < l.level {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := make([]slog.Attr, 0, len(fields)+4)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if requestID := apperrors.GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}

	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			attrs = append(attrs, slog.String("caller", fmt.Sprintf("%s:%d", file, line)))
		}
	}

	if err != nil {
		errAttrs := []any{slog.String("message", err.Error())}
		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) {
			errAttrs = append(errAttrs,
				slog.String("code", appErr.Code),
				slog.String("category", string(appErr.Category)),
			)
		}
		attrs = append(attrs, slog.Group("error", errAttrs...))
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fieldAttrs := make([]any, 0, len(keys))
		for _, k := range keys {
			fieldAttrs = append(fieldAttrs, slog.Any(k, fields[k]))
		}
		attrs = append(attrs, slog.Group("fields", fieldAttrs...))
	}

	slog.New(l.handler).LogAttrs(ctx, level.slogLevel(), msg, attrs...)
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, first(fields), nil)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, first(fields), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, first(fields), nil)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, first(fields), err)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, msg, err, fields...)
}
