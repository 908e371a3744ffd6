package scenarios_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/uthread/internal/scenarios"
	"github.com/kmrgirish/uthread/uthreadruntime"
)

func config(strict bool) uthreadruntime.Config {
	return uthreadruntime.Config{
		StrictLocking: strict,
		Checksum:      true,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func run(t *testing.T, name string, cfg uthreadruntime.Config, n int) (*scenarios.Result, string) {
	t.Helper()
	s, err := scenarios.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	res, err := scenarios.Run(s, cfg, n, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Expected(res) {
		t.Errorf("%s: unexpected result %v", name, res.Err)
	}
	return res, out.String()
}

func TestOutput(t *testing.T) {
	testcases := []struct {
		name     string
		expected string
	}{
		{
			name: "lockfifo",
			expected: `thread 1 releasing lock 1 with 3 waiters
thread 2 acquired lock 1
thread 3 acquired lock 1
thread 4 acquired lock 1
`,
		},
		{
			name: "pingpong",
			expected: `ping 0
pong 0
ping 1
pong 1
ping 2
pong 2
`,
		},
		{
			name: "yield",
			expected: `thread 1 done
schedule [1 2 3 1 2 3 1 2 3]
thread 2 done
thread 3 done
`,
		},
		{
			name: "reclaim",
			expected: `thread 1 exiting, 2 live, 0 reclaimed
thread 2 exiting, 3 live, 0 reclaimed
thread 3 exiting, 3 live, 1 reclaimed
thread 4 exiting, 3 live, 2 reclaimed
thread 5 exiting, 2 live, 3 reclaimed
`,
		},
		{
			name: "deadlock",
			expected: `thread 1 holds lock 1, wants lock 2
thread 2 holds lock 2, wants lock 1
`,
		},
	}

	for _, strict := range []bool{false, true} {
		for _, tc := range testcases {
			t.Run(fmt.Sprintf("%s/strict=%v", tc.name, strict), func(t *testing.T) {
				_, out := run(t, tc.name, config(strict), 0)
				if diff := cmp.Diff(tc.expected, out); diff != "" {
					t.Errorf("unexpected output (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestDeadlockReportsBlocked(t *testing.T) {
	res, _ := run(t, "deadlock", config(false), 0)
	var deadlock *uthreadruntime.DeadlockError
	if !errors.As(res.Err, &deadlock) {
		t.Fatalf("expected DeadlockError, got %v", res.Err)
	}
	if diff := cmp.Diff([]uthreadruntime.ThreadID{1, 2}, deadlock.Blocked); diff != "" {
		t.Errorf("unexpected blocked threads (-want +got):\n%s", diff)
	}
	if res.Stats.Live != 0 {
		t.Errorf("expected all threads freed, %d live", res.Stats.Live)
	}
}

var consumerLine = regexp.MustCompile(`consumer \d+ took (\d+) items, sum (\d+)`)

func TestBoundedBuffer(t *testing.T) {
	for _, strict := range []bool{false, true} {
		_, out := run(t, "boundedbuffer", config(strict), 10)

		items, sum := 0, 0
		matches := consumerLine.FindAllStringSubmatch(out, -1)
		if len(matches) != 2 {
			t.Fatalf("expected two consumer lines, got:\n%s", out)
		}
		for _, m := range matches {
			n, _ := strconv.Atoi(m[1])
			s, _ := strconv.Atoi(m[2])
			items += n
			sum += s
		}
		if items != 10 || sum != 55 {
			t.Errorf("strict=%v: consumers took %d items summing to %d, want 10 and 55", strict, items, sum)
		}
	}
}

func TestDeterministic(t *testing.T) {
	for _, s := range scenarios.All() {
		t.Run(s.Name, func(t *testing.T) {
			first, _ := run(t, s.Name, config(false), 0)
			second, _ := run(t, s.Name, config(false), 0)
			if !bytes.Equal(first.Checksum, second.Checksum) {
				t.Errorf("checksums differ: %x %x", first.Checksum, second.Checksum)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	if _, err := scenarios.Lookup("nope"); !errors.Is(err, scenarios.ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
	var names []string
	for _, s := range scenarios.All() {
		names = append(names, s.Name)
	}
	want := []string{"boundedbuffer", "deadlock", "lockfifo", "pingpong", "reclaim", "yield"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("unexpected scenarios (-want +got):\n%s", diff)
	}
}
