// MIT License
//
// # Copyright (c) 2017 Olivier Poitrey
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// Based on https://github.com/rs/zerolog/blob/master/console.go.

// Package prettylog renders JSON slog lines written by the scheduler as
// aligned console lines:
//
//	   12 t3   15:04:05.000 WRN uthreadruntime/runtime.go:88 > msg key=value
package prettylog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorCyan    = 36

	colorBold     = 1
	colorDarkGray = 90
)

const (
	stepKey   = "step"
	threadKey = "thread"
	errorKey  = "err"
)

// header keys are printed first, in this order, and skipped as fields.
var header = []string{stepKey, threadKey, slog.TimeKey, slog.LevelKey, slog.SourceKey, slog.MessageKey}

// multiline fields are printed indented on their own lines.
var multiline = map[string]bool{
	"traceback": true,
}

type Writer struct {
	out     io.Writer
	noColor bool
}

// NewWriter returns a Writer rendering to out. Colors are used when stdout
// is a terminal, unless NO_COLOR is set or TERM is dumb; FORCE_COLOR turns
// them on regardless.
func NewWriter(out io.Writer) *Writer {
	noColor := os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" ||
		(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))
	if os.Getenv("FORCE_COLOR") != "" {
		noColor = false
	}
	return &Writer{out: out, noColor: noColor}
}

var bufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Write renders one JSON log line. Input that is not JSON is passed through
// and reported as an error.
func (w *Writer) Write(p []byte) (int, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	trimmed := bytes.TrimLeft(p, " ")
	indent := p[:len(p)-len(trimmed)]

	var rec map[string]any
	d := json.NewDecoder(bytes.NewReader(trimmed))
	d.UseNumber()
	if err := d.Decode(&rec); err != nil {
		w.out.Write(p)
		return len(p), fmt.Errorf("cannot decode log line: %w", err)
	}

	for _, key := range header {
		if s := w.part(key, rec); s != "" {
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(s)
		}
	}
	w.fields(buf, rec)
	buf.WriteByte('\n')

	// continuation lines are indented under the header
	for i, line := range bytes.SplitAfter(buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		w.out.Write(indent)
		if i > 0 {
			io.WriteString(w.out, "    ")
		}
		w.out.Write(line)
	}
	return len(p), nil
}

func (w *Writer) part(key string, rec map[string]any) string {
	v, ok := rec[key]
	switch key {
	case stepKey:
		if !ok {
			return ""
		}
		return padLeft(fmt.Sprint(v), 5)
	case threadKey:
		if !ok {
			return padRight("-", 4)
		}
		return padRight("t"+fmt.Sprint(v), 4)
	case slog.TimeKey:
		return w.timestamp(v)
	case slog.LevelKey:
		return w.level(v)
	case slog.SourceKey:
		return w.source(v)
	case slog.MessageKey:
		if !ok || v == "" {
			return ""
		}
		s := fmt.Sprint(v)
		if lvl, _ := rec[slog.LevelKey].(string); lvl != slog.LevelDebug.String() {
			s = w.colorize(s, colorBold)
		}
		return s
	}
	return ""
}

func (w *Writer) fields(buf *bytes.Buffer, rec map[string]any) {
	var keys []string
	for key := range rec {
		if !slices.Contains(header, key) {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		// errors first
		if (a == errorKey) != (b == errorKey) {
			if a == errorKey {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})

	for _, key := range keys {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w.colorize(key+"=", colorCyan))

		var s string
		switch v := rec[key].(type) {
		case string:
			s = v
			if needsQuote(s) {
				s = strconv.Quote(s)
			}
		case json.Number:
			s = v.String()
		default:
			b, err := marshal(v, multiline[key])
			if err != nil {
				s = w.colorize(fmt.Sprintf("[error: %v]", err), colorRed)
				break
			}
			s = string(b)
		}
		if key == errorKey {
			s = w.colorize(s, colorBold, colorRed)
		}
		buf.WriteString(s)
	}
}

func marshal(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c > 0x7e || c == ' ' || c == '\\' || c == '"' {
			return true
		}
	}
	return false
}

const spaces = "          "

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return spaces[:n-len(s)] + s
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + spaces[:n-len(s)]
}

func (w *Writer) colorize(s string, colors ...int) string {
	if w.noColor {
		return s
	}
	for _, c := range colors {
		s = fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
	}
	return s
}

const timeFormat = "15:04:05.000"

func (w *Writer) timestamp(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		s = ts.UTC().Format(timeFormat)
	}
	return w.colorize(s, colorDarkGray)
}

var levels = map[slog.Level]struct {
	name  string
	color int
}{
	slog.LevelDebug: {"DBG", colorMagenta},
	slog.LevelInfo:  {"INF", colorGreen},
	slog.LevelWarn:  {"WRN", colorYellow},
	slog.LevelError: {"ERR", colorRed},
}

func (w *Writer) level(v any) string {
	s, ok := v.(string)
	if !ok {
		return "???"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err == nil {
		if f, ok := levels[l]; ok {
			return w.colorize(f.name, f.color)
		}
	}
	if len(s) > 3 {
		s = s[:3]
	}
	return strings.ToUpper(s)
}

func (w *Writer) source(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	file, _ := m["file"].(string)
	if file == "" {
		return ""
	}
	line, _ := m["line"].(json.Number)
	loc := fmt.Sprintf("%s/%s:%s", path.Base(path.Dir(file)), path.Base(file), line)
	return w.colorize(loc, colorDarkGray) + w.colorize(" >", colorCyan)
}
