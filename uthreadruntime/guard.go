package uthreadruntime

import "sync/atomic"

// guard is the atomicity guard around runtime state. It plays the role of
// disabling interrupts: while it is held, no preemption request is serviced.
//
// The guard is reentrant. A context switch saves the depth with suspend and
// the resumed flow puts its own depth back with restore, so the depth is
// always zero across a switch.
type guard struct {
	depth int

	// pending is set asynchronously by the preemption source.
	pending atomic.Bool

	// service runs when the depth drops to zero with a request pending.
	service func()
}

func (g *guard) enter() {
	g.depth++
}

func (g *guard) exit() {
	if g.depth <= 0 {
		panic("uthreadruntime: guard released while not held")
	}
	g.depth--
	if g.depth == 0 && g.service != nil && g.pending.Load() {
		g.service()
	}
}

func (g *guard) held() bool {
	return g.depth > 0
}

func (g *guard) suspend() int {
	depth := g.depth
	g.depth = 0
	return depth
}

func (g *guard) restore(depth int) {
	if g.depth != 0 {
		panic("uthreadruntime: guard held across switch")
	}
	g.depth = depth
}

// request asks for a yield at the next point the guard is released. Safe to
// call from any goroutine.
func (g *guard) request() {
	g.pending.Store(true)
}

// take consumes a pending request.
func (g *guard) take() bool {
	return g.pending.CompareAndSwap(true, false)
}
