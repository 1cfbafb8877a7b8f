package orchestrator

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// watermillLogger adapts a *zap.Logger to watermill.LoggerAdapter, so the
// publisher and worker log through the same zap sink as the rest of
// internal/orchestrator rather than watermill's own slog shim.
type watermillLogger struct {
	l *zap.Logger
}

func newWatermillLogger(l *zap.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = zap.NewNop()
	}
	return watermillLogger{l: l}
}

func (w watermillLogger) fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (w watermillLogger) Error(msg string, err error, f watermill.LogFields) {
	w.l.Error(msg, append(w.fields(f), zap.Error(err))...)
}

func (w watermillLogger) Info(msg string, f watermill.LogFields) {
	w.l.Info(msg, w.fields(f)...)
}

func (w watermillLogger) Debug(msg string, f watermill.LogFields) {
	w.l.Debug(msg, w.fields(f)...)
}

func (w watermillLogger) Trace(msg string, f watermill.LogFields) {
	w.l.Debug(msg, w.fields(f)...)
}

func (w watermillLogger) With(f watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{l: w.l.With(w.fields(f)...)}
}
