package uthreadruntime

// A LockID names a lock. Locks need no creation; a lock nobody has touched
// is unlocked.
type LockID uint32

type lockEntry struct {
	owner   *thread
	waiters threadQueue
}

// lockTable holds an entry for every lock that is owned or has waiters.
type lockTable map[LockID]*lockEntry

func (lt lockTable) get(id LockID) *lockEntry {
	l, ok := lt[id]
	if !ok {
		l = &lockEntry{}
		lt[id] = l
	}
	return l
}

// maybeFree drops the entry for an unowned lock without waiters.
func (lt lockTable) maybeFree(id LockID) {
	if l, ok := lt[id]; ok && l.owner == nil && l.waiters.empty() {
		delete(lt, id)
	}
}

// Lock acquires a lock for the calling thread, blocking while another thread
// owns it. Blocked threads acquire the lock in the order they called Lock.
// Lock fails with ErrSelfDeadlock if the caller already owns the lock.
func (r *Runtime) Lock(id LockID) error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}
	return r.acquire(id)
}

func (r *Runtime) acquire(id LockID) error {
	self := r.current
	l := r.locks.get(id)
	if l.owner == self {
		return ErrSelfDeadlock
	}
	if l.owner == nil {
		l.owner = self
		r.event(Event{Kind: EventLockAcquire, Thread: self.id, Lock: id})
		return nil
	}

	self.state = StateLockBlocked
	l.waiters.push(self)
	r.event(Event{Kind: EventLockBlock, Thread: self.id, Peer: l.owner.id, Lock: id})
	r.dispatch()

	// The entry may have been dropped and recreated while we were blocked.
	l = r.locks.get(id)
	if r.cfg.StrictLocking {
		for l.owner != self {
			r.logger.slog.Warn("resumed without lock handoff", "lock", uint64(id))
			self.state = StateLockBlocked
			l.waiters.push(self)
			r.dispatch()
			l = r.locks.get(id)
		}
	} else {
		// Ownership is claimed by whoever resumes here, whether or not it was
		// handed the lock.
		l.owner = self
	}
	r.event(Event{Kind: EventLockAcquire, Thread: self.id, Lock: id})
	return nil
}

// Unlock releases a lock owned by the calling thread and moves the longest
// waiting thread, if any, to the ready queue. The woken thread takes
// ownership when it resumes (or immediately with Config.StrictLocking).
// Unlock fails with ErrNotOwner if the caller does not own the lock.
func (r *Runtime) Unlock(id LockID) error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}

	l, ok := r.locks[id]
	if !ok || l.owner == nil || l.owner != r.current {
		return ErrNotOwner
	}

	l.owner = nil
	var woken ThreadID
	if next := l.waiters.pop(); next != nil {
		if r.cfg.StrictLocking {
			l.owner = next
		}
		r.makeReady(next)
		woken = next.id
	}
	r.locks.maybeFree(id)
	r.event(Event{Kind: EventUnlock, Thread: r.current.id, Peer: woken, Lock: id})
	return nil
}

// Owner returns the thread that currently owns a lock.
func (r *Runtime) Owner(id LockID) (ThreadID, bool) {
	l, ok := r.locks[id]
	if !ok || l.owner == nil {
		return 0, false
	}
	return l.owner.id, true
}

// Waiters returns the threads blocked on a lock, longest waiting first.
func (r *Runtime) Waiters(id LockID) []ThreadID {
	l, ok := r.locks[id]
	if !ok {
		return nil
	}
	return l.waiters.ids()
}
