package uthreadruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kmrgirish/uthread/internal/prettylog"
)

type logger struct {
	out   io.Writer
	level slog.Level
	slog  *slog.Logger
}

func makeLogger(out io.Writer, level slog.Level, r *Runtime) logger {
	ho := slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(out, &ho)

	return logger{
		out:   out,
		level: level,
		slog:  slog.New(wrapHandler{inner: handler, rt: r}),
	}
}

func wrapLogger(l *slog.Logger, r *Runtime) logger {
	return logger{
		slog: slog.New(wrapHandler{inner: l.Handler(), rt: r}),
	}
}

// wrapHandler tags every record with the scheduler step and, when called
// from a thread, the running thread.
type wrapHandler struct {
	inner slog.Handler
	rt    *Runtime
}

func (w wrapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return w.inner.Enabled(ctx, level)
}

func (w wrapHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.Uint64("step", w.rt.step))
	if t := w.rt.current; t != nil {
		r.AddAttrs(slog.Uint64("thread", uint64(t.id)))
	}
	return w.inner.Handle(ctx, r)
}

func (w wrapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return wrapHandler{
		inner: w.inner.WithAttrs(attrs),
		rt:    w.rt,
	}
}

func (w wrapHandler) WithGroup(name string) slog.Handler {
	return wrapHandler{
		inner: w.inner.WithGroup(name),
		rt:    w.rt,
	}
}

// LogFormat selects how console logs are rendered.
type LogFormat string

const (
	LogFormatRaw      LogFormat = "raw"
	LogFormatIndented LogFormat = "indented"
	LogFormatPretty   LogFormat = "pretty"
)

// ParseLogFormat validates a LogFormat name.
func ParseLogFormat(s string) (LogFormat, error) {
	k := LogFormat(s)
	if k != LogFormatRaw && k != LogFormatIndented && k != LogFormatPretty {
		return "", fmt.Errorf("bad log format %q", s)
	}
	return k, nil
}

type indentedWriter struct {
	out io.Writer
}

func (w *indentedWriter) Write(p []byte) (n int, err error) {
	if len(p) > 0 && p[len(p)-1] == '\n' {
		var x any
		if err := json.Unmarshal(p, &x); err == nil {
			o := json.NewEncoder(w.out)
			o.SetIndent("", "  ")
			o.Encode(x)
			return len(p), nil
		}
	}
	w.out.Write(p)
	return len(p), nil
}

// MakeConsoleWriter wraps out so that JSON log lines are rendered in the
// given format.
func MakeConsoleWriter(out io.Writer, format LogFormat) io.Writer {
	switch format {
	case LogFormatRaw:
		return out
	case LogFormatIndented:
		return &indentedWriter{
			out: out,
		}
	case LogFormatPretty, "":
		return prettylog.NewWriter(out)
	default:
		panic(format)
	}
}
