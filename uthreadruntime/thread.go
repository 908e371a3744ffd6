package uthreadruntime

import (
	"fmt"

	"github.com/kmrgirish/uthread/internal/coro"
	"github.com/kmrgirish/uthread/internal/stack"
)

// A StartFunc is the body of a thread. The thread terminates when it
// returns.
type StartFunc func(arg any)

// A ThreadID identifies a thread within a Runtime. IDs start at 1 and are
// never reused. The zero ThreadID means "no thread".
type ThreadID uint64

// ThreadState is the scheduling state of a thread.
type ThreadState int

const (
	StateReady ThreadState = iota
	StateRunning
	StateLockBlocked
	StateCondBlocked
	// StateTerminated threads have returned but still sit on their stack
	// until another thread reclaims them.
	StateTerminated
	StateFreed
)

var threadStateNames = [...]string{
	StateReady:       "ready",
	StateRunning:     "running",
	StateLockBlocked: "lock-blocked",
	StateCondBlocked: "cond-blocked",
	StateTerminated:  "terminated",
	StateFreed:       "freed",
}

func (s ThreadState) String() string {
	if s < 0 || int(s) >= len(threadStateNames) {
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
	return threadStateNames[s]
}

type thread struct {
	id    ThreadID
	state ThreadState

	start StartFunc
	arg   any

	cont  *coro.Coro
	stack stack.Stack

	// guard depth held when the thread last dispatched away
	guardDepth int

	// intrusive link for whichever queue holds the thread
	next   *thread
	queued bool
}

// threadQueue is an intrusive FIFO of threads. A thread is linked into at
// most one queue at a time.
type threadQueue struct {
	first, last *thread
	n           int
}

func (q *threadQueue) empty() bool {
	return q.first == nil
}

func (q *threadQueue) len() int {
	return q.n
}

func (q *threadQueue) push(t *thread) {
	if t == nil {
		panic("uthreadruntime: enqueue of nil thread")
	}
	if t.queued {
		panic(fmt.Sprintf("uthreadruntime: thread %d already queued", t.id))
	}
	t.queued = true
	t.next = nil
	if q.last != nil {
		q.last.next = t
	} else {
		q.first = t
	}
	q.last = t
	q.n++
}

func (q *threadQueue) pop() *thread {
	t := q.first
	if t == nil {
		return nil
	}
	q.first = t.next
	if q.first == nil {
		q.last = nil
	}
	t.next = nil
	t.queued = false
	q.n--
	return t
}

func (q *threadQueue) ids() []ThreadID {
	var ids []ThreadID
	for t := q.first; t != nil; t = t.next {
		ids = append(ids, t.id)
	}
	return ids
}
