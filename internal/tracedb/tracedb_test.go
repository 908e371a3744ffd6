package tracedb_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/uthread/internal/tracedb"
	"github.com/kmrgirish/uthread/uthreadruntime"
)

func openTestDB(t *testing.T) *tracedb.DB {
	t.Helper()
	db, err := tracedb.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}
	})
	return db
}

func TestPutGet(t *testing.T) {
	db := openTestDB(t)

	run := &tracedb.Run{
		Scenario: "pingpong",
		Created:  time.Unix(1700000000, 123),
		Strict:   true,
		Checksum: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Err:      "uthread: threads blocked at exit: [2]",
		Events: []uthreadruntime.Event{
			{Step: 0, Kind: uthreadruntime.EventDispatch, Thread: 1},
			{Step: 1, Kind: uthreadruntime.EventLockBlock, Thread: 2, Peer: 1, Lock: 3},
			{Step: 2, Kind: uthreadruntime.EventWait, Thread: 1, Lock: 3, Cond: 7},
		},
	}
	if err := db.Put(run); err != nil {
		t.Fatal(err)
	}
	if run.ID != 1 {
		t.Errorf("expected first run to get ID 1, got %d", run.ID)
	}

	got, err := db.Get(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("unexpected run (-want +got):\n%s", diff)
	}

	if _, err := db.Get(42); !errors.Is(err, tracedb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestAndList(t *testing.T) {
	db := openTestDB(t)

	for _, name := range []string{"yield", "reclaim", "yield"} {
		if err := db.Put(&tracedb.Run{Scenario: name, Created: time.Unix(1, 0)}); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := db.Latest("yield")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != 3 {
		t.Errorf("expected run 3, got %d", latest.ID)
	}
	if _, err := db.Latest("deadlock"); !errors.Is(err, tracedb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	runs, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.Scenario)
	}
	if diff := cmp.Diff([]string{"yield", "reclaim", "yield"}, names); diff != "" {
		t.Errorf("unexpected runs (-want +got):\n%s", diff)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := tracedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put(&tracedb.Run{Scenario: "lockfifo", Created: time.Unix(5, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = tracedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	run, err := db.Latest("lockfifo")
	if err != nil {
		t.Fatal(err)
	}
	if !run.Created.Equal(time.Unix(5, 0)) {
		t.Errorf("unexpected created time %v", run.Created)
	}
}

func TestDiff(t *testing.T) {
	a := []uthreadruntime.Event{{Step: 0, Kind: uthreadruntime.EventDispatch, Thread: 1}, {Step: 1, Kind: uthreadruntime.EventYield, Thread: 1}}
	b := []uthreadruntime.Event{{Step: 0, Kind: uthreadruntime.EventDispatch, Thread: 1}, {Step: 1, Kind: uthreadruntime.EventExit, Thread: 1}}

	if got := tracedb.Diff(a, a); got != -1 {
		t.Errorf("identical: got %d", got)
	}
	if got := tracedb.Diff(a, b); got != 1 {
		t.Errorf("differing: got %d", got)
	}
	if got := tracedb.Diff(a, a[:1]); got != 1 {
		t.Errorf("prefix: got %d", got)
	}
}
