// Package threadlog parses JSON logs written by the scheduler's slog
// handler.
package threadlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"time"
)

type Source struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// An Attr is a key not otherwise decoded into Log, with its raw JSON value.
type Attr struct {
	Key   string
	Value string
}

type Log struct {
	// Index is the position of the line in the input.
	Index int `json:"-"`

	Time   time.Time  `json:"time"`
	Level  slog.Level `json:"level"`
	Msg    string     `json:"msg"`
	Source *Source    `json:"source"`
	Step   uint64     `json:"step"`
	// Thread is zero for records logged outside any thread.
	Thread uint64 `json:"thread"`

	Attrs []Attr `json:"-"`
}

var known = map[string]bool{
	"time": true, "level": true, "msg": true, "source": true, "step": true, "thread": true,
}

func (l *Log) UnmarshalJSON(b []byte) error {
	type plain Log
	if err := json.Unmarshal(b, (*plain)(l)); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	l.Attrs = nil
	for _, key := range slices.Sorted(maps.Keys(all)) {
		if known[key] {
			continue
		}
		l.Attrs = append(l.Attrs, Attr{Key: key, Value: string(all[key])})
	}
	return nil
}

// Attr returns the raw JSON value of an extra attribute.
func (l *Log) Attr(key string) (string, bool) {
	for _, a := range l.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// ParseLog parses newline-separated JSON records. Lines that are not JSON
// objects are skipped.
func ParseLog(logs []byte) []*Log {
	var out []*Log
	for i, line := range bytes.Split(logs, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var log Log
		if err := json.Unmarshal(line, &log); err != nil {
			continue
		}
		log.Index = i
		out = append(out, &log)
	}
	return out
}

// ForThread returns the records logged by one thread.
func ForThread(logs []*Log, thread uint64) []*Log {
	var out []*Log
	for _, l := range logs {
		if l.Thread == thread {
			out = append(out, l)
		}
	}
	return out
}
