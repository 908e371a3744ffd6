// Package coro implements continuations on top of goroutines.
//
// A Coro is a saved execution state. Exactly one Coro in a group of
// cooperating Coros runs at any instant: Switch hands control from the
// caller's Coro to another one and parks the caller until some other Coro
// switches back. The handoff goes through unbuffered channels, so everything
// the previous Coro wrote happens-before the next Coro resumes.
package coro

import (
	"runtime"
)

// A Coro is a continuation token. The zero value is not usable; create one
// with New or Capture.
type Coro struct {
	resume chan struct{}
	done   chan struct{}

	entry    func()
	started  bool
	captured bool
	released bool
}

// New returns a fresh Coro that begins executing f the first time it is
// switched to. No goroutine exists until then.
//
// f must never return normally while other Coros depend on it running:
// returning ends the backing goroutine without handing control to anyone.
// Callers are expected to Switch away as the last thing f does.
func New(f func()) *Coro {
	return &Coro{
		resume: make(chan struct{}),
		done:   make(chan struct{}),
		entry:  f,
	}
}

// Capture returns a Coro representing the calling goroutine. Switching from
// the returned Coro parks the calling goroutine until another Coro switches
// back to it.
func Capture() *Coro {
	return &Coro{
		resume:   make(chan struct{}),
		started:  true,
		captured: true,
	}
}

// Switch saves the calling flow into c and resumes to. It returns once some
// other Coro switches back to c. Switching to c itself is a no-op.
//
// If c is released while parked, Switch does not return: the backing
// goroutine exits with runtime.Goexit.
func (c *Coro) Switch(to *Coro) {
	if to == c {
		return
	}
	to.wake()
	c.park()
}

// Exit resumes to and gives up c for good. Exit returns only once c is
// released; the caller must then return from the Coro's function without
// touching any shared state.
func (c *Coro) Exit(to *Coro) {
	if to == c {
		panic("coro: exit to self")
	}
	to.wake()
	if _, ok := <-c.resume; ok {
		panic("coro: exited coro resumed")
	}
}

// Started reports whether the Coro has begun executing.
func (c *Coro) Started() bool {
	return c.started
}

// Release destroys a parked Coro. The backing goroutine unwinds (running
// deferred calls) and exits before Release returns. Releasing a Coro that was
// never started only marks it unusable.
//
// Release must not be called on the running Coro or on a captured one.
func (c *Coro) Release() {
	if c.captured {
		panic("coro: release of captured coro")
	}
	if c.released {
		panic("coro: double release")
	}
	c.released = true
	if !c.started {
		return
	}
	close(c.resume)
	<-c.done
}

func (c *Coro) wake() {
	if c.released {
		panic("coro: switch to released coro")
	}
	if !c.started {
		c.started = true
		go c.run()
		return
	}
	c.resume <- struct{}{}
}

func (c *Coro) run() {
	defer close(c.done)
	c.entry()
}

func (c *Coro) park() {
	if _, ok := <-c.resume; !ok {
		runtime.Goexit()
	}
}
