package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
)

func newLogger(w io.Writer, level string, verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	l.SetLevel(lvl)
	if err != nil && level != "" {
		l.WithField("level", level).Warn("unknown log level, using info")
	}
	return l
}

// slogBridge routes the libraries' slog records into l. Without verbose only
// warnings and errors get through.
func slogBridge(l *logrus.Logger, verbose bool) *slog.Logger {
	floor := slog.LevelWarn
	if verbose {
		floor = slog.LevelDebug
	}
	return slog.New(&logrusHandler{l: l, min: floor})
}

type logrusHandler struct {
	l      *logrus.Logger
	min    slog.Level
	fields logrus.Fields
	group  string
}

func (h *logrusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min && h.l.IsLevelEnabled(toLogrusLevel(level))
}

func (h *logrusHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(logrus.Fields, len(h.fields)+r.NumAttrs())
	for k, v := range h.fields {
		fields[k] = v
	}
	r.Attrs(func(attr slog.Attr) bool {
		h.add(fields, attr)
		return true
	})
	h.l.WithFields(fields).Log(toLogrusLevel(r.Level), r.Message)
	return nil
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(h.fields)+len(attrs))
	for k, v := range h.fields {
		fields[k] = v
	}
	for _, attr := range attrs {
		h.add(fields, attr)
	}
	return &logrusHandler{l: h.l, min: h.min, fields: fields, group: h.group}
}

func (h *logrusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &logrusHandler{l: h.l, min: h.min, fields: h.fields, group: group}
}

func (h *logrusHandler) add(fields logrus.Fields, attr slog.Attr) {
	key := attr.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	v := attr.Value.Resolve()
	if err, ok := v.Any().(error); ok {
		fields[key] = err.Error()
		return
	}
	fields[key] = v.Any()
}

func toLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
