package uthreadruntime

import (
	"errors"
	"fmt"
	"strings"
)

// constErr marks the package's sentinel errors.
type constErr struct {
	error
}

func makeConstErr(err error) error {
	return constErr{error: err}
}

var (
	ErrAlreadyInitialized = makeConstErr(errors.New("uthread: already initialized"))
	ErrNotInitialized     = makeConstErr(errors.New("uthread: not initialized"))
	ErrResourceExhausted  = makeConstErr(errors.New("uthread: resource exhausted"))
	ErrSelfDeadlock       = makeConstErr(errors.New("uthread: lock already held by caller"))
	ErrNotOwner           = makeConstErr(errors.New("uthread: lock not held by caller"))

	ErrExited   = makeConstErr(errors.New("uthread: runtime exited"))
	ErrDeadlock = makeConstErr(errors.New("uthread: threads blocked at exit"))
	ErrPanicked = makeConstErr(errors.New("uthread: thread panicked"))
)

// A DeadlockError is returned by Init when the runtime ran out of runnable
// threads while some threads were still blocked on a lock or a condition.
type DeadlockError struct {
	// Blocked lists the blocked threads in ID order.
	Blocked []ThreadID
}

func (e *DeadlockError) Error() string {
	ids := make([]string, len(e.Blocked))
	for i, id := range e.Blocked {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s: [%s]", ErrDeadlock, strings.Join(ids, " "))
}

func (e *DeadlockError) Unwrap() error {
	return ErrDeadlock
}
