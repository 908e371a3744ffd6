package uthreadruntime

import "fmt"

// EventKind classifies scheduler events.
type EventKind uint8

const (
	EventCreate EventKind = iota + 1
	// EventDispatch: Thread starts running, Peer is the thread it replaced.
	EventDispatch
	// EventRoot: no thread is ready; control returns to the root flow. Thread
	// is the thread that dispatched away.
	EventRoot
	EventYield
	EventPreempt
	EventLockAcquire
	EventLockBlock
	// EventUnlock: Peer is the waiter moved to the ready queue, if any.
	EventUnlock
	EventWait
	// EventSignal and EventBroadcast: Peer is a woken waiter. Broadcast
	// records one event per woken waiter.
	EventSignal
	EventBroadcast
	EventExit
	EventReclaim
	EventAbandon
	EventPanic
)

var eventKindNames = [...]string{
	EventCreate:      "create",
	EventDispatch:    "dispatch",
	EventRoot:        "root",
	EventYield:       "yield",
	EventPreempt:     "preempt",
	EventLockAcquire: "lock-acquire",
	EventLockBlock:   "lock-block",
	EventUnlock:      "unlock",
	EventWait:        "wait",
	EventSignal:      "signal",
	EventBroadcast:   "broadcast",
	EventExit:        "exit",
	EventReclaim:     "reclaim",
	EventAbandon:     "abandon",
	EventPanic:       "panic",
}

func (k EventKind) String() string {
	if int(k) >= len(eventKindNames) || eventKindNames[k] == "" {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name != "" && name == s {
			return EventKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// An Event is one scheduler decision. Events are numbered by Step in the
// order they happen.
type Event struct {
	Step   uint64
	Kind   EventKind
	Thread ThreadID
	Peer   ThreadID
	Lock   LockID
	Cond   CondID
}

func (e Event) String() string {
	s := fmt.Sprintf("%d %s t%d", e.Step, e.Kind, e.Thread)
	if e.Peer != 0 {
		s += fmt.Sprintf(" peer=t%d", e.Peer)
	}
	switch e.Kind {
	case EventLockAcquire, EventLockBlock, EventUnlock:
		s += fmt.Sprintf(" lock=%d", e.Lock)
	case EventWait, EventSignal, EventBroadcast:
		s += fmt.Sprintf(" lock=%d cond=%d", e.Lock, e.Cond)
	}
	return s
}
