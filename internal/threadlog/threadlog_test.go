package threadlog_test

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kmrgirish/uthread/internal/threadlog"
)

func TestParseLog(t *testing.T) {
	input := `{"level":"INFO","msg":"hello","step":3,"thread":2,"extra":"1","extra2":[2]}
not json

{"level":"WARN","msg":"root","source":{"function":"f","file":"a/b.go","line":7}}
`
	got := threadlog.ParseLog([]byte(input))
	expected := []*threadlog.Log{
		{
			Index:  0,
			Level:  slog.LevelInfo,
			Msg:    "hello",
			Step:   3,
			Thread: 2,
			Attrs: []threadlog.Attr{
				{Key: "extra", Value: `"1"`},
				{Key: "extra2", Value: `[2]`},
			},
		},
		{
			Index:  3,
			Level:  slog.LevelWarn,
			Msg:    "root",
			Source: &threadlog.Source{Function: "f", File: "a/b.go", Line: 7},
		},
	}
	if diff := cmp.Diff(expected, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("unexpected logs (-want +got):\n%s", diff)
	}

	if v, ok := got[0].Attr("extra2"); !ok || v != "[2]" {
		t.Errorf("attr extra2: got %q %v", v, ok)
	}
	if diff := cmp.Diff([]*threadlog.Log{got[1]}, threadlog.ForThread(got, 0)); diff != "" {
		t.Errorf("unexpected root logs (-want +got):\n%s", diff)
	}
}
