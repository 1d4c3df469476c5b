package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var base = New(os.Getenv("ENVIRONMENT"), os.Stdout)

// New builds a slog logger: colored tint output for development, JSON otherwise.
func New(env string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" || env == "dev" || env == "local" {
		level = slog.LevelDebug
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init replaces the package logger, typically once config is loaded.
func Init(env string) {
	base = New(env, os.Stdout)
	slog.SetDefault(base)
}

// SetOutput swaps the package logger; used by tests to silence or capture output.
func SetOutput(l *slog.Logger) {
	base = l
}

func L() *slog.Logger {
	return base
}

func Info(format string, v ...interface{}) {
	base.Info(fmt.Sprintf(format, v...))
}

func Error(format string, v ...interface{}) {
	base.Error(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	base.Debug(fmt.Sprintf(format, v...))
}

func Warn(format string, v ...interface{}) {
	base.Warn(fmt.Sprintf(format, v...))
}

// With returns a structured logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return base.With(args...)
}

// ErrorCtx logs err with structured attributes; used on best-effort paths.
func ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	base.ErrorContext(ctx, msg, append(args, "error", err)...)
}
