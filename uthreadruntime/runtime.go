package uthreadruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kmrgirish/uthread/internal/coro"
	"github.com/kmrgirish/uthread/internal/stack"
)

// DefaultStackSize is the stack size used when Config.StackSize is zero.
const DefaultStackSize = 64 * 1024

// Config configures a Runtime.
type Config struct {
	// StackSize is the size in bytes of every thread stack.
	StackSize int
	// MaxThreads bounds the number of thread records holding a stack,
	// including terminated threads awaiting reclamation. Creating a thread
	// beyond the bound fails with ErrResourceExhausted. Zero means no bound.
	MaxThreads int
	// Allocator provides thread stacks. Optional, defaults to a pooling heap
	// allocator.
	Allocator stack.Allocator

	// StrictLocking hands lock ownership to a waiter when the lock is
	// released instead of when the waiter resumes, re-validates ownership on
	// resume, and makes Wait fail with ErrNotOwner when the caller does not
	// hold the lock. Without it a thread that calls Lock between an Unlock
	// and the resumption of the woken waiter acquires the lock, and the
	// waiter then claims it as well on resume.
	StrictLocking bool

	// PreemptInterval turns on the preemption source. Every interval a yield
	// is requested from the running thread; see MaybeYield.
	PreemptInterval time.Duration

	// Logger receives runtime logs. Optional; if nil logs are written as
	// JSON to stderr, rendered according to LogFormat, filtered at LogLevel.
	Logger    *slog.Logger
	LogLevel  slog.Level
	LogFormat LogFormat
	// TraceFlags is a comma-separated list of event categories to log at
	// INFO as they happen. See KnownTraceFlags.
	TraceFlags string

	// Checksum maintains a hash of all scheduler events, see Checksum.
	Checksum bool
	// Record keeps all scheduler events in memory, see Events.
	Record bool
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Created    int
	Terminated int
	Reclaimed  int
	Switches   int
	Preempted  int

	Ready          int
	LockBlocked    int
	CondBlocked    int
	PendingReclaim int
	// Live counts thread records that exist, in any state but freed.
	Live int
}

// A Runtime schedules cooperative threads. See the package documentation.
type Runtime struct {
	cfg    Config
	logger logger
	flags  traceFlags
	alloc  *stack.Limit

	guard guard

	initialized atomic.Bool
	exited      bool

	root    *coro.Coro
	current *thread

	threads map[ThreadID]*thread
	nextID  ThreadID

	ready   threadQueue
	locks   lockTable
	conds   condTable
	reclaim threadQueue

	step      uint64
	checksum  *checksummer
	events    []Event
	stats     Stats
	panicErr  error
	preempter *preempter
}

// New creates a Runtime. It fails only on invalid configuration.
func New(cfg Config) (*Runtime, error) {
	if cfg.StackSize == 0 {
		cfg.StackSize = DefaultStackSize
	}
	if cfg.StackSize < 0 {
		return nil, fmt.Errorf("uthread: bad stack size %d", cfg.StackSize)
	}
	if cfg.MaxThreads < 0 {
		return nil, fmt.Errorf("uthread: bad max threads %d", cfg.MaxThreads)
	}
	if cfg.PreemptInterval < 0 {
		return nil, fmt.Errorf("uthread: bad preempt interval %s", cfg.PreemptInterval)
	}
	if cfg.LogFormat != "" {
		if _, err := ParseLogFormat(string(cfg.LogFormat)); err != nil {
			return nil, err
		}
	}
	flags, err := parseTraceflagsConfig(cfg.TraceFlags)
	if err != nil {
		return nil, err
	}

	allocator := cfg.Allocator
	if allocator == nil {
		allocator = &stack.Pool{}
	}

	r := &Runtime{
		cfg:     cfg,
		flags:   flags,
		alloc:   &stack.Limit{Allocator: allocator, Max: cfg.MaxThreads},
		threads: make(map[ThreadID]*thread),
		nextID:  1,
		locks:   make(lockTable),
		conds:   make(condTable),
	}
	if cfg.Logger != nil {
		r.logger = wrapLogger(cfg.Logger, r)
	} else {
		r.logger = makeLogger(MakeConsoleWriter(os.Stderr, cfg.LogFormat), cfg.LogLevel, r)
	}
	if cfg.Checksum {
		r.checksum = newChecksummer()
	}
	r.guard.service = r.preempt
	return r, nil
}

// Logger returns the runtime's logger. Records logged through it from a
// thread carry that thread's ID.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger.slog
}

// check reports whether a runtime operation may proceed. It cannot tell
// which goroutine called it: while a thread runs, a call from any other
// goroutine is taken to come from the running thread.
func (r *Runtime) check() error {
	if !r.initialized.Load() {
		return ErrNotInitialized
	}
	if r.exited {
		return ErrExited
	}
	if r.current == nil {
		// no thread is running
		return ErrNotInitialized
	}
	return nil
}

func (r *Runtime) event(ev Event) {
	ev.Step = r.step
	r.step++
	if r.checksum != nil {
		r.checksum.record(ev)
	}
	if r.cfg.Record {
		r.events = append(r.events, ev)
	}
	if r.flags.forKind(ev.Kind).Enabled() {
		r.logger.slog.Info("trace", "event", ev.Kind.String(), "subject", uint64(ev.Thread), "peer", uint64(ev.Peer), "lock", uint64(ev.Lock), "cond", uint64(ev.Cond))
	}
}

// Init starts the runtime by running start(arg) as the first thread. The
// calling goroutine becomes the root flow and blocks until no thread is
// runnable anymore.
//
// Init returns nil once every thread has terminated. If threads were still
// blocked when runnable work ran out it returns a *DeadlockError; if a
// thread panicked, including in deferred calls run while a blocked thread is
// released at exit, it returns an error wrapping ErrPanicked (and the
// *DeadlockError, if any). Either way the runtime has exited and all thread
// resources are released.
//
// Init fails with ErrAlreadyInitialized on every call after the first
// successful one. If the first thread cannot be allocated it fails with
// ErrResourceExhausted and the runtime stays uninitialized.
func (r *Runtime) Init(start StartFunc, arg any) error {
	if start == nil {
		panic("uthread: nil StartFunc")
	}
	if !r.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	r.guard.enter()
	t, err := r.newThread(start, arg)
	if err != nil {
		r.guard.exit()
		r.initialized.Store(false)
		return err
	}

	r.logger.slog.Debug("runtime starting", "stacksize", r.cfg.StackSize, "strict", r.cfg.StrictLocking)
	if r.cfg.PreemptInterval > 0 {
		r.preempter = startPreempter(r.cfg.PreemptInterval, &r.guard)
	}

	r.root = coro.Capture()
	t.state = StateRunning
	r.current = t
	r.stats.Switches++
	r.event(Event{Kind: EventDispatch, Thread: t.id})

	depth := r.guard.suspend()
	r.root.Switch(t.cont)
	r.guard.restore(depth)

	err = r.shutdown()
	r.guard.exit()
	return err
}

// newThread allocates a thread record. On failure nothing changes.
func (r *Runtime) newThread(start StartFunc, arg any) (*thread, error) {
	stk, err := r.alloc.Alloc(r.cfg.StackSize)
	if err != nil {
		if !errors.Is(err, ErrResourceExhausted) {
			err = fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		r.logger.slog.Warn("thread allocation failed", "err", err)
		return nil, err
	}

	t := &thread{
		id:    r.nextID,
		state: StateReady,
		start: start,
		arg:   arg,
		stack: stk,
	}
	r.nextID++
	t.cont = coro.New(func() {
		r.threadMain(t)
	})
	r.threads[t.id] = t
	r.stats.Created++
	return t, nil
}

// Create makes a new thread running start(arg) and appends it to the ready
// queue. The new thread first runs when the scheduler picks it.
func (r *Runtime) Create(start StartFunc, arg any) (ThreadID, error) {
	if start == nil {
		panic("uthread: nil StartFunc")
	}
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return 0, err
	}

	t, err := r.newThread(start, arg)
	if err != nil {
		return 0, err
	}
	r.event(Event{Kind: EventCreate, Thread: r.current.id, Peer: t.id})
	r.ready.push(t)
	return t.id, nil
}

// Yield moves the calling thread to the back of the ready queue and runs the
// thread at its head. With no other thread ready the caller continues
// immediately.
func (r *Runtime) Yield() error {
	r.guard.enter()
	defer r.guard.exit()
	if err := r.check(); err != nil {
		return err
	}
	r.event(Event{Kind: EventYield, Thread: r.current.id})
	r.yieldLocked()
	return nil
}

func (r *Runtime) yieldLocked() {
	t := r.current
	t.state = StateReady
	r.ready.push(t)
	r.dispatch()
}

func (r *Runtime) makeReady(t *thread) {
	t.state = StateReady
	r.ready.push(t)
}

// dispatch switches from the current thread to the head of the ready queue,
// or to the root flow if nothing is ready. The caller must hold the guard and
// must already have queued the current thread wherever it belongs. dispatch
// returns when the current thread is resumed.
func (r *Runtime) dispatch() {
	r.switchAway(false)
}

// switchAway implements dispatch. With exiting set the current thread never
// runs again and switchAway returns only once the thread is released, at
// which point the caller must unwind without touching runtime state.
func (r *Runtime) switchAway(exiting bool) {
	if !r.guard.held() {
		panic("uthreadruntime: dispatch without guard")
	}
	prev := r.current
	next := r.ready.pop()

	if next == prev {
		// only the caller was ready
		prev.state = StateRunning
		return
	}

	to := r.root
	if next != nil {
		next.state = StateRunning
		r.current = next
		r.stats.Switches++
		r.event(Event{Kind: EventDispatch, Thread: next.id, Peer: prev.id})
		to = next.cont
	} else {
		r.current = nil
		r.event(Event{Kind: EventRoot, Thread: prev.id})
	}

	depth := r.guard.suspend()
	prev.guardDepth = depth
	if exiting {
		prev.cont.Exit(to)
		return
	}
	prev.cont.Switch(to)
	r.guard.restore(depth)

	if r.current != prev {
		panic(fmt.Sprintf("uthreadruntime: thread %d resumed while %v is current", prev.id, r.current))
	}
}

func (r *Runtime) recordPanic(t *thread, recovered any) {
	traceback := make([]byte, 32*1024)
	traceback = traceback[:runtime.Stack(traceback, false)]
	r.logger.slog.Error("uncaught panic",
		"traceback", strings.Split(strings.ReplaceAll(string(traceback), "\t", "  "), "\n"),
		"panic", fmt.Sprint(recovered),
		"panicked", uint64(t.id))
	if r.panicErr == nil {
		r.panicErr = fmt.Errorf("%w: thread %d: %v", ErrPanicked, t.id, recovered)
	}
	r.event(Event{Kind: EventPanic, Thread: t.id})
}

func (r *Runtime) threadMain(t *thread) {
	r.runStart(t)
	r.guard.enter()
	r.terminate(t)
}

// runStart runs the start function. A panic is logged and ends the thread
// like a return does. runtime.Goexit also ends the thread.
func (r *Runtime) runStart(t *thread) {
	returned := false
	defer func() {
		if returned {
			return
		}
		if r.exited {
			// unwinding an abandoned thread during shutdown; Release is
			// waiting for the goroutine to finish
			if recovered := recover(); recovered != nil {
				r.recordPanic(t, recovered)
			}
			return
		}
		if recovered := recover(); recovered != nil {
			r.guard.suspend()
			r.recordPanic(t, recovered)
			return
		}
		// runtime.Goexit: the goroutine is unwinding, finish the thread from
		// here.
		r.guard.suspend()
		r.guard.enter()
		r.terminate(t)
	}()
	t.start(t.arg)
	returned = true
}

// terminate retires the current thread: it frees every thread waiting in the
// reclaim set, puts itself there (it is still running on its own stack), and
// dispatches away for good. It returns once another thread reclaims t.
func (r *Runtime) terminate(t *thread) {
	r.drainReclaim()

	if r.logger.slog.Enabled(context.Background(), slog.LevelWarn) {
		for _, id := range slices.Sorted(maps.Keys(r.locks)) {
			if r.locks[id].owner == t {
				r.logger.slog.Warn("thread exited holding lock", "lock", uint64(id))
			}
		}
	}

	t.state = StateTerminated
	r.reclaim.push(t)
	r.stats.Terminated++
	r.event(Event{Kind: EventExit, Thread: t.id})
	r.switchAway(true)
}

func (r *Runtime) drainReclaim() {
	for t := r.reclaim.pop(); t != nil; t = r.reclaim.pop() {
		if t == r.current {
			panic(fmt.Sprintf("uthreadruntime: reclaiming running thread %d", t.id))
		}
		r.free(t)
		r.stats.Reclaimed++
		r.event(Event{Kind: EventReclaim, Thread: t.id})
	}
}

// free releases a parked thread's continuation and stack and drops it from
// the arena.
func (r *Runtime) free(t *thread) {
	t.cont.Release()
	r.freeStack(t)
}

// abandon frees a thread parked in a lock or condition queue. Its goroutine
// unwinds through the runtime calls it is blocked in, which release the
// guard depth they held when they dispatched away.
func (r *Runtime) abandon(t *thread) {
	saved := r.guard.suspend()
	r.guard.restore(t.guardDepth)
	t.cont.Release()
	r.guard.suspend()
	r.guard.restore(saved)
	r.freeStack(t)
}

func (r *Runtime) freeStack(t *thread) {
	if err := r.alloc.Free(t.stack); err != nil {
		r.logger.slog.Error("freeing stack", "err", err, "freed", uint64(t.id))
	}
	t.stack = nil
	t.state = StateFreed
	delete(r.threads, t.id)
}

// shutdown runs on the root flow once nothing is runnable.
func (r *Runtime) shutdown() error {
	if r.preempter != nil {
		r.preempter.halt()
		r.preempter = nil
	}
	r.exited = true

	r.drainReclaim()

	var blocked []*thread
	for _, id := range slices.Sorted(maps.Keys(r.locks)) {
		l := r.locks[id]
		for t := l.waiters.pop(); t != nil; t = l.waiters.pop() {
			blocked = append(blocked, t)
		}
		l.owner = nil
		delete(r.locks, id)
	}
	for _, key := range slices.SortedFunc(maps.Keys(r.conds), compareCondKeys) {
		q := r.conds[key]
		for t := q.pop(); t != nil; t = q.pop() {
			blocked = append(blocked, t)
		}
		delete(r.conds, key)
	}
	slices.SortFunc(blocked, func(a, b *thread) int {
		return compareThreadIDs(a.id, b.id)
	})

	var ids []ThreadID
	for _, t := range blocked {
		r.logger.slog.Warn("abandoning blocked thread", "blocked", uint64(t.id), "state", t.state.String())
		r.event(Event{Kind: EventAbandon, Thread: t.id})
		ids = append(ids, t.id)
		r.abandon(t)
	}

	if len(r.threads) != 0 {
		panic(fmt.Sprintf("uthreadruntime: %d threads left after shutdown", len(r.threads)))
	}

	r.logger.slog.Debug("runtime exiting", "created", r.stats.Created, "switches", r.stats.Switches)

	switch {
	case r.panicErr != nil && len(ids) > 0:
		return errors.Join(r.panicErr, &DeadlockError{Blocked: ids})
	case r.panicErr != nil:
		return r.panicErr
	case len(ids) > 0:
		return &DeadlockError{Blocked: ids}
	}
	return nil
}

func compareThreadIDs(a, b ThreadID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Self returns the running thread, or 0 when called outside a thread.
func (r *Runtime) Self() ThreadID {
	if r.current == nil {
		return 0
	}
	return r.current.id
}

// Stats returns a snapshot of the runtime's counters.
func (r *Runtime) Stats() Stats {
	s := r.stats
	s.Ready = r.ready.len()
	for _, l := range r.locks {
		s.LockBlocked += l.waiters.len()
	}
	for _, q := range r.conds {
		s.CondBlocked += q.len()
	}
	s.PendingReclaim = r.reclaim.len()
	s.Live = len(r.threads)
	return s
}

// State returns the state of a thread. Freed and unknown threads report
// StateFreed.
func (r *Runtime) State(id ThreadID) ThreadState {
	t, ok := r.threads[id]
	if !ok {
		return StateFreed
	}
	return t.state
}

// LiveStacks returns the number of allocated stacks not yet freed.
func (r *Runtime) LiveStacks() int {
	return r.alloc.Live()
}

// Checksum returns the hash of all scheduler events so far, or nil when
// Config.Checksum is off.
func (r *Runtime) Checksum() []byte {
	if r.checksum == nil {
		return nil
	}
	return r.checksum.sum()
}

// Events returns the recorded scheduler events, or nil when Config.Record is
// off.
func (r *Runtime) Events() []Event {
	return slices.Clone(r.events)
}
