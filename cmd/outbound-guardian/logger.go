package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/lmittmann/tint"
)

// slogLogger adapts a slog.Logger to the go-logger interface used across the
// module.
type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func newLogger(w io.Writer, debug bool) core.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slogLogger{logger: slog.New(handler), ctx: context.Background()}
}

func (l slogLogger) Trace(msg string, args ...any) {
	l.logger.Log(l.ctx, slog.LevelDebug-4, msg, args...)
}

func (l slogLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l slogLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l slogLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l slogLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

func (l slogLogger) Fatal(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
	os.Exit(1)
}

func (l slogLogger) WithContext(ctx context.Context) core.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return slogLogger{logger: l.logger, ctx: ctx}
}
