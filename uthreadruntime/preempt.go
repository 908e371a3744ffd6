package uthreadruntime

import (
	"time"
)

// preempter is the timer-driven preemption source. Every tick it files a
// yield request with the guard; the running thread honors it the next time
// it leaves the runtime with the guard released, or calls MaybeYield.
// Threads that never call into the runtime are never preempted.
type preempter struct {
	stop chan struct{}
	done chan struct{}
}

func startPreempter(interval time.Duration, g *guard) *preempter {
	p := &preempter{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.request()
			case <-p.stop:
				return
			}
		}
	}()
	return p
}

func (p *preempter) halt() {
	close(p.stop)
	<-p.done
}

// preempt services a pending request by yielding the current thread. It is
// installed as the guard's service hook.
func (r *Runtime) preempt() {
	if r.current == nil || r.exited {
		return
	}
	if !r.guard.take() {
		return
	}
	r.guard.enter()
	r.stats.Preempted++
	r.event(Event{Kind: EventPreempt, Thread: r.current.id})
	r.yieldLocked()
	r.guard.exit()
}

// MaybeYield yields only if a preemption tick is pending. Long-running
// threads call it in loops to stay responsive when preemption is on.
func (r *Runtime) MaybeYield() error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}
	if r.guard.take() {
		r.stats.Preempted++
		r.event(Event{Kind: EventPreempt, Thread: r.current.id})
		r.yieldLocked()
	}
	return nil
}
