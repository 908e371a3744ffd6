/*
Package uthread provides cooperative user-level threads with locks and
condition variables, multiplexed onto the calling goroutine.

A program starts the thread library once with Init, passing the first
thread's start function. Init runs threads until none is runnable and then
returns; it cannot be called again in the same process. Inside threads,
Create starts more threads, Yield gives up the processor, and Lock, Unlock,
Wait, Signal and Broadcast coordinate access to shared state:

	err := uthread.Init(func(any) {
		uthread.Create(worker, nil)
		uthread.Lock(1)
		for !ready {
			uthread.Wait(1, 7)
		}
		uthread.Unlock(1)
	}, nil)

Exactly one thread runs at a time, and control only moves between threads at
Yield, a contended Lock, or Wait (and at MaybeYield when preemption is on).
Ready threads, lock waiters and condition waiters are all served first come,
first served.

Thread operations must be called from inside a thread. Calls made before Init
report ErrNotInitialized and calls made after Init returns report ErrExited;
calls from other goroutines while threads run are not supported.

Locks and condition variables are named by caller-chosen integers and need
no setup. A condition variable belongs to a lock: Wait(1, 7) and Wait(2, 7)
wait on unrelated conditions.

The library is configured with Configure before Init, or through the
environment:

	UTHREAD_LOG_LEVEL  slog level of runtime logs (default warn)
	UTHREAD_LOGFORMAT  raw, indented or pretty (default pretty)
	UTHREAD_TRACE      comma-separated trace flags, see uthreadruntime.KnownTraceFlags
	UTHREAD_STRICT     set to 1 to hand lock ownership over on release

Independent runtimes, for tests or tools, are available from package
uthreadruntime.
*/
package uthread
