package uthreadruntime

import "cmp"

// A CondID names a condition variable. Condition variables are scoped to a
// lock: (lock 1, cond 7) and (lock 2, cond 7) are unrelated.
type CondID uint32

type condKey struct {
	lock LockID
	cond CondID
}

func compareCondKeys(a, b condKey) int {
	if c := cmp.Compare(a.lock, b.lock); c != 0 {
		return c
	}
	return cmp.Compare(a.cond, b.cond)
}

type condTable map[condKey]*threadQueue

func (ct condTable) get(key condKey) *threadQueue {
	q, ok := ct[key]
	if !ok {
		q = &threadQueue{}
		ct[key] = q
	}
	return q
}

func (ct condTable) maybeFree(key condKey) {
	if q, ok := ct[key]; ok && q.empty() {
		delete(ct, key)
	}
}

// Wait atomically releases a lock and blocks the calling thread on a
// condition. If other threads are blocked on the lock, the longest waiting
// one is handed the lock and made ready. Once signaled, the thread
// re-acquires the lock, blocking again if needed, before Wait returns.
//
// With Config.StrictLocking Wait fails with ErrNotOwner if the caller does
// not own the lock.
func (r *Runtime) Wait(lock LockID, cond CondID) error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}

	self := r.current
	l := r.locks.get(lock)
	if r.cfg.StrictLocking && l.owner != self {
		r.locks.maybeFree(lock)
		return ErrNotOwner
	}

	if next := l.waiters.pop(); next != nil {
		l.owner = next
		r.makeReady(next)
	} else {
		l.owner = nil
	}
	r.locks.maybeFree(lock)

	key := condKey{lock: lock, cond: cond}
	self.state = StateCondBlocked
	r.conds.get(key).push(self)
	r.event(Event{Kind: EventWait, Thread: self.id, Lock: lock, Cond: cond})
	r.dispatch()

	return r.acquire(lock)
}

// Signal moves the longest waiting thread on a condition, if any, to the
// ready queue.
func (r *Runtime) Signal(lock LockID, cond CondID) error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}

	key := condKey{lock: lock, cond: cond}
	q, ok := r.conds[key]
	if !ok {
		return nil
	}
	if t := q.pop(); t != nil {
		r.makeReady(t)
		r.event(Event{Kind: EventSignal, Thread: r.current.id, Peer: t.id, Lock: lock, Cond: cond})
	}
	r.conds.maybeFree(key)
	return nil
}

// Broadcast moves every thread waiting on a condition to the ready queue,
// keeping their order.
func (r *Runtime) Broadcast(lock LockID, cond CondID) error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}

	key := condKey{lock: lock, cond: cond}
	q, ok := r.conds[key]
	if !ok {
		return nil
	}
	for t := q.pop(); t != nil; t = q.pop() {
		r.makeReady(t)
		r.event(Event{Kind: EventBroadcast, Thread: r.current.id, Peer: t.id, Lock: lock, Cond: cond})
	}
	r.conds.maybeFree(key)
	return nil
}

// CondWaiters returns the threads waiting on a condition, longest waiting
// first.
func (r *Runtime) CondWaiters(lock LockID, cond CondID) []ThreadID {
	q, ok := r.conds[condKey{lock: lock, cond: cond}]
	if !ok {
		return nil
	}
	return q.ids()
}
