package uthreadruntime

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLockHandoffOrder(t *testing.T) {
	for _, strict := range []bool{false, true} {
		name := "resume"
		if strict {
			name = "strict"
		}
		t.Run(name, func(t *testing.T) {
			r := newTestRuntime(t, Config{StrictLocking: strict})

			var order []ThreadID
			err := r.Init(func(any) {
				body := func() {
					expectNoErr(t, r.Lock(1))
					order = append(order, r.Self())
					expectNoErr(t, r.Unlock(1))
				}
				b := mustCreate(t, r, body)
				c := mustCreate(t, r, body)

				expectNoErr(t, r.Lock(1))
				expectNoErr(t, r.Yield())
				if diff := cmp.Diff([]ThreadID{b, c}, r.Waiters(1)); diff != "" {
					t.Errorf("unexpected waiters (-want +got):\n%s", diff)
				}

				expectNoErr(t, r.Unlock(1))
				if diff := cmp.Diff([]ThreadID{c}, r.Waiters(1)); diff != "" {
					t.Errorf("unexpected waiters after unlock (-want +got):\n%s", diff)
				}
				owner, ok := r.Owner(1)
				if strict {
					if !ok || owner != b {
						t.Errorf("expected b to own lock on release, got %d %v", owner, ok)
					}
				} else if ok {
					t.Errorf("expected lock to be unowned until b resumes, got %d", owner)
				}

				expectNoErr(t, r.Yield())
				if diff := cmp.Diff([]ThreadID{b}, order); diff != "" {
					t.Errorf("unexpected order (-want +got):\n%s", diff)
				}
				if s := r.State(c); s != StateReady {
					t.Errorf("expected c ready after b unlocked, got %s", s)
				}
			}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(order) != 2 || order[0] >= order[1] {
				t.Errorf("expected b then c, got %v", order)
			}
		})
	}
}

func TestSelfDeadlock(t *testing.T) {
	r := newTestRuntime(t, Config{})

	err := r.Init(func(any) {
		expectNoErr(t, r.Lock(3))
		if err := r.Lock(3); !errors.Is(err, ErrSelfDeadlock) {
			t.Errorf("expected ErrSelfDeadlock, got %v", err)
		}
		if owner, ok := r.Owner(3); !ok || owner != r.Self() {
			t.Errorf("expected ownership unchanged, got %d %v", owner, ok)
		}
		expectNoErr(t, r.Unlock(3))
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestUnlockNotOwner(t *testing.T) {
	r := newTestRuntime(t, Config{})

	err := r.Init(func(any) {
		if err := r.Unlock(1); !errors.Is(err, ErrNotOwner) {
			t.Errorf("unlock of untouched lock: expected ErrNotOwner, got %v", err)
		}

		expectNoErr(t, r.Lock(1))
		expectNoErr(t, r.Unlock(1))
		if err := r.Unlock(1); !errors.Is(err, ErrNotOwner) {
			t.Errorf("double unlock: expected ErrNotOwner, got %v", err)
		}

		expectNoErr(t, r.Lock(2))
		mustCreate(t, r, func() {
			if err := r.Unlock(2); !errors.Is(err, ErrNotOwner) {
				t.Errorf("unlock of other's lock: expected ErrNotOwner, got %v", err)
			}
		})
		expectNoErr(t, r.Yield())
		if owner, ok := r.Owner(2); !ok || owner != r.Self() {
			t.Errorf("expected ownership unchanged, got %d %v", owner, ok)
		}
		expectNoErr(t, r.Unlock(2))
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestLockTableCleanup(t *testing.T) {
	r := newTestRuntime(t, Config{})

	err := r.Init(func(any) {
		for id := LockID(0); id < 100; id++ {
			expectNoErr(t, r.Lock(id))
			expectNoErr(t, r.Unlock(id))
		}
		if len(r.locks) != 0 {
			t.Errorf("expected empty lock table, have %d entries", len(r.locks))
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

// A thread that calls Lock between an Unlock and the resumption of the woken
// waiter gets the lock, and the waiter claims it again on resume. Strict
// locking hands the lock to the waiter instead.
func TestLockResumeClaimsOwnership(t *testing.T) {
	for _, tc := range []struct {
		name   string
		strict bool
	}{
		{name: "resume"},
		{name: "strict", strict: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRuntime(t, Config{StrictLocking: tc.strict})

			var mainBarged, mainUnlockErr error
			err := r.Init(func(any) {
				main := r.Self()
				expectNoErr(t, r.Lock(1))
				b := mustCreate(t, r, func() {
					expectNoErr(t, r.Lock(1))
					if owner, _ := r.Owner(1); owner != r.Self() {
						t.Errorf("expected b to own lock after resume, got %d", owner)
					}
					expectNoErr(t, r.Yield())
					expectNoErr(t, r.Unlock(1))
				})
				expectNoErr(t, r.Yield())

				expectNoErr(t, r.Unlock(1))
				mainBarged = r.Lock(1)
				if tc.strict {
					// blocked until b released the lock
					if owner, _ := r.Owner(1); owner != main {
						t.Errorf("expected main to own lock, got %d", owner)
					}
					mainUnlockErr = r.Unlock(1)
					return
				}

				// main got the lock without blocking; b now resumes and
				// claims it too
				if owner, _ := r.Owner(1); owner != main {
					t.Errorf("expected main to barge, owner %d", owner)
				}
				expectNoErr(t, r.Yield())
				if owner, _ := r.Owner(1); owner != b {
					t.Errorf("expected b to claim lock, owner %d", owner)
				}
				mainUnlockErr = r.Unlock(1)
			}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if mainBarged != nil {
				t.Errorf("unexpected lock error: %v", mainBarged)
			}
			if tc.strict {
				if mainUnlockErr != nil {
					t.Errorf("unexpected unlock error: %v", mainUnlockErr)
				}
			} else if !errors.Is(mainUnlockErr, ErrNotOwner) {
				t.Errorf("expected main to have lost the lock, got %v", mainUnlockErr)
			}
		})
	}
}
