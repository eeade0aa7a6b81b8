package main

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// logrusHandler adapts a *logrus.Logger to slog.Handler so the transport
// core's structured logging lands on the same logrus sink the CLI already
// uses for everything else, rather than opening a second, differently
// formatted log stream.
type logrusHandler struct {
	log    *logrus.Logger
	fields logrus.Fields
}

func slogFromLogrus(log *logrus.Logger) *slog.Logger {
	return slog.New(&logrusHandler{log: log, fields: logrus.Fields{}})
}

func (h *logrusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.IsLevelEnabled(toLogrusLevel(level))
}

func (h *logrusHandler) Handle(_ context.Context, r slog.Record) error {
	entry := h.log.WithFields(h.fields)
	r.Attrs(func(a slog.Attr) bool {
		entry = entry.WithField(a.Key, a.Value.Any())
		return true
	})
	entry.Log(toLogrusLevel(r.Level), r.Message)
	return nil
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(h.fields)+len(attrs))
	for k, v := range h.fields {
		fields[k] = v
	}
	for _, a := range attrs {
		fields[a.Key] = a.Value.Any()
	}
	return &logrusHandler{log: h.log, fields: fields}
}

func (h *logrusHandler) WithGroup(name string) slog.Handler {
	return h // groups are not meaningful for a flat logrus.Fields map.
}

// toLogrusLevel maps slog's levels onto logrus's, including tcpcore's
// custom trace level (slog.LevelDebug - 2) onto logrus.TraceLevel.
func toLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	case level >= slog.LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
