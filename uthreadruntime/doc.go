/*
Package uthreadruntime implements cooperative user-level threads.

A Runtime multiplexes threads onto a single logical executor: exactly one
thread runs at any instant, and control moves between threads only at
explicit suspension points (Yield, a contended Lock, and Wait). Every
thread's execution state is a continuation from the internal coro package;
the scheduler switches between continuations directly, falling back to the
root continuation (the caller of Init) once no thread is runnable.

All queues are strict FIFO. Locks and condition variables are identified by
small integers chosen by the caller; a lock with no table entry is unlocked.

Thread operations must be called from the running thread's goroutine. Before
Init they return ErrNotInitialized and after Init returns they return
ErrExited. While the runtime runs, calls from any other goroutine are not
detected and act as if the running thread made them; their behavior is
undefined.

Most programs should use the process-wide API in the uthread package, which
wraps a single Runtime. Tests and tools that need isolation construct their
own Runtime with New.
*/
package uthreadruntime
