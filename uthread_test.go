package uthread_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/uthread"
)

// The process-wide runtime can be initialized once, so the whole lifecycle is
// one test.
func TestLifecycle(t *testing.T) {
	if err := uthread.Yield(); !errors.Is(err, uthread.ErrNotInitialized) {
		t.Errorf("yield before init: expected ErrNotInitialized, got %v", err)
	}
	if _, err := uthread.Create(func(any) {}, nil); !errors.Is(err, uthread.ErrNotInitialized) {
		t.Errorf("create before init: expected ErrNotInitialized, got %v", err)
	}
	if err := uthread.Configure(uthread.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}); err != nil {
		t.Fatal(err)
	}

	var order []uthread.ThreadID
	var nested error
	err := uthread.Init(func(arg any) {
		if arg.(string) != "first" {
			t.Errorf("unexpected arg %v", arg)
		}
		nested = uthread.Init(func(any) {}, nil)

		worker := func(any) {
			if err := uthread.Lock(1); err != nil {
				t.Error(err)
			}
			order = append(order, uthread.Self())
			if err := uthread.Unlock(1); err != nil {
				t.Error(err)
			}
		}
		for i := 0; i < 2; i++ {
			if _, err := uthread.Create(worker, nil); err != nil {
				t.Error(err)
			}
		}

		if err := uthread.Lock(1); err != nil {
			t.Error(err)
		}
		if err := uthread.Lock(1); !errors.Is(err, uthread.ErrSelfDeadlock) {
			t.Errorf("expected ErrSelfDeadlock, got %v", err)
		}
		if err := uthread.Yield(); err != nil {
			t.Error(err)
		}
		if err := uthread.Unlock(1); err != nil {
			t.Error(err)
		}
	}, "first")
	if err != nil {
		t.Fatal(err)
	}

	if !errors.Is(nested, uthread.ErrAlreadyInitialized) {
		t.Errorf("nested init: expected ErrAlreadyInitialized, got %v", nested)
	}
	if diff := cmp.Diff([]uthread.ThreadID{2, 3}, order); diff != "" {
		t.Errorf("unexpected lock order (-want +got):\n%s", diff)
	}

	if err := uthread.Init(func(any) {
		t.Error("second init ran a thread")
	}, nil); !errors.Is(err, uthread.ErrAlreadyInitialized) {
		t.Errorf("second init: expected ErrAlreadyInitialized, got %v", err)
	}
	if err := uthread.Configure(uthread.Config{}); !errors.Is(err, uthread.ErrAlreadyInitialized) {
		t.Errorf("configure after init: expected ErrAlreadyInitialized, got %v", err)
	}
	if err := uthread.Yield(); !errors.Is(err, uthread.ErrExited) {
		t.Errorf("yield after exit: expected ErrExited, got %v", err)
	}
}
