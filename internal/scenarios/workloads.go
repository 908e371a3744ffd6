package scenarios

import (
	"go.uber.org/zap"

	"github.com/kmrgirish/uthread/uthreadruntime"
)

var lockFIFO = &Scenario{
	Name:        "lockfifo",
	Description: "workers queue on a held lock and acquire it in arrival order",
	DefaultN:    3,
	Main: func(env *Env) {
		rt := env.RT
		const lock = 1

		for i := 0; i < env.N; i++ {
			env.spawn(func() {
				env.must(rt.Lock(lock))
				env.printf("thread %d acquired lock %d", rt.Self(), lock)
				env.must(rt.Unlock(lock))
			})
		}

		env.must(rt.Lock(lock))
		env.must(rt.Yield())
		env.printf("thread %d releasing lock %d with %d waiters", rt.Self(), lock, len(rt.Waiters(lock)))
		env.must(rt.Unlock(lock))
	},
}

var pingPong = &Scenario{
	Name:        "pingpong",
	Description: "two threads take turns through a condition variable",
	DefaultN:    3,
	Main: func(env *Env) {
		rt := env.RT
		const (
			lock = 1
			cond = 7
		)
		turn := 0

		play := func(me int, name string) {
			env.must(rt.Lock(lock))
			for i := 0; i < env.N; i++ {
				for turn != me {
					env.must(rt.Wait(lock, cond))
				}
				env.printf("%s %d", name, i)
				turn = 1 - me
				env.must(rt.Signal(lock, cond))
			}
			env.must(rt.Unlock(lock))
		}

		env.spawn(func() { play(1, "pong") })
		play(0, "ping")
	},
}

var boundedBuffer = &Scenario{
	Name:        "boundedbuffer",
	Description: "a producer and two consumers share a two-slot buffer",
	DefaultN:    8,
	Main: func(env *Env) {
		rt := env.RT
		const (
			lock     = 1
			notFull  = 1
			notEmpty = 2
			capacity = 2
		)
		var buf []int
		done := false

		consume := func() {
			sum, count := 0, 0
			env.must(rt.Lock(lock))
			for {
				for len(buf) == 0 && !done {
					env.must(rt.Wait(lock, notEmpty))
				}
				if len(buf) == 0 {
					break
				}
				v := buf[0]
				buf = buf[1:]
				sum += v
				count++
				env.Log.Debug("consumed", zap.Int("value", v))
				env.must(rt.Signal(lock, notFull))
			}
			env.must(rt.Unlock(lock))
			env.printf("consumer %d took %d items, sum %d", rt.Self(), count, sum)
		}
		env.spawn(consume)
		env.spawn(consume)

		env.must(rt.Lock(lock))
		for i := 1; i <= env.N; i++ {
			for len(buf) == capacity {
				env.must(rt.Wait(lock, notFull))
			}
			buf = append(buf, i)
			env.must(rt.Signal(lock, notEmpty))
		}
		done = true
		env.must(rt.Broadcast(lock, notEmpty))
		env.must(rt.Unlock(lock))
		env.printf("producer %d produced %d items", rt.Self(), env.N)
	},
}

var yieldLoop = &Scenario{
	Name:        "yield",
	Description: "threads yield to each other round robin",
	DefaultN:    3,
	Main: func(env *Env) {
		rt := env.RT
		var order []uthreadruntime.ThreadID

		loop := func() {
			for i := 0; i < env.N; i++ {
				order = append(order, rt.Self())
				env.must(rt.Yield())
			}
			env.printf("thread %d done", rt.Self())
		}
		for i := 1; i < env.N; i++ {
			env.spawn(loop)
		}
		loop()
		env.printf("schedule %v", order)
	},
}

var reclaimChain = &Scenario{
	Name:        "reclaim",
	Description: "each thread creates its successor and exits",
	DefaultN:    5,
	Main: func(env *Env) {
		rt := env.RT

		var link func(depth int)
		link = func(depth int) {
			if depth < env.N {
				env.spawn(func() { link(depth + 1) })
			}
			s := rt.Stats()
			env.printf("thread %d exiting, %d live, %d reclaimed", rt.Self(), s.Live, s.Reclaimed)
		}
		link(1)
	},
}

var deadlock = &Scenario{
	Name:        "deadlock",
	Description: "two threads take two locks in opposite order",
	DefaultN:    1,
	WantErr:     uthreadruntime.ErrDeadlock,
	Main: func(env *Env) {
		rt := env.RT

		take := func(first, second uthreadruntime.LockID) {
			env.must(rt.Lock(first))
			env.must(rt.Yield())
			env.printf("thread %d holds lock %d, wants lock %d", rt.Self(), first, second)
			// never returns: both threads end up blocked
			env.must(rt.Lock(second))
			env.must(rt.Unlock(second))
			env.must(rt.Unlock(first))
		}
		env.spawn(func() { take(2, 1) })
		take(1, 2)
	},
}
