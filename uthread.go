package uthread

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kmrgirish/uthread/uthreadruntime"
)

type (
	StartFunc = uthreadruntime.StartFunc
	ThreadID  = uthreadruntime.ThreadID
	LockID    = uthreadruntime.LockID
	CondID    = uthreadruntime.CondID
	Config    = uthreadruntime.Config
)

var (
	ErrAlreadyInitialized = uthreadruntime.ErrAlreadyInitialized
	ErrNotInitialized     = uthreadruntime.ErrNotInitialized
	ErrResourceExhausted  = uthreadruntime.ErrResourceExhausted
	ErrSelfDeadlock       = uthreadruntime.ErrSelfDeadlock
	ErrNotOwner           = uthreadruntime.ErrNotOwner
	ErrExited             = uthreadruntime.ErrExited
	ErrDeadlock           = uthreadruntime.ErrDeadlock
	ErrPanicked           = uthreadruntime.ErrPanicked
)

var (
	mu         sync.Mutex
	configured *Config
	std        atomic.Pointer[uthreadruntime.Runtime]
)

// Configure sets the configuration of the process-wide runtime, replacing
// the environment defaults. It fails with ErrAlreadyInitialized once the
// runtime exists.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if std.Load() != nil {
		return ErrAlreadyInitialized
	}
	configured = &cfg
	return nil
}

func configFromEnv() (Config, error) {
	cfg := Config{
		LogLevel: slog.LevelWarn,
	}
	if s := os.Getenv("UTHREAD_LOG_LEVEL"); s != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(s)); err != nil {
			return Config{}, err
		}
	}
	if s := os.Getenv("UTHREAD_LOGFORMAT"); s != "" {
		format, err := uthreadruntime.ParseLogFormat(s)
		if err != nil {
			return Config{}, err
		}
		cfg.LogFormat = format
	}
	cfg.TraceFlags = os.Getenv("UTHREAD_TRACE")
	cfg.StrictLocking = os.Getenv("UTHREAD_STRICT") == "1"
	return cfg, nil
}

// Default returns the process-wide runtime, creating it on first use.
func Default() (*uthreadruntime.Runtime, error) {
	mu.Lock()
	defer mu.Unlock()
	if rt := std.Load(); rt != nil {
		return rt, nil
	}

	var cfg Config
	if configured != nil {
		cfg = *configured
	} else {
		var err error
		if cfg, err = configFromEnv(); err != nil {
			return nil, err
		}
	}
	rt, err := uthreadruntime.New(cfg)
	if err != nil {
		return nil, err
	}
	std.Store(rt)
	return rt, nil
}

func running() (*uthreadruntime.Runtime, error) {
	rt := std.Load()
	if rt == nil {
		return nil, ErrNotInitialized
	}
	return rt, nil
}

// Init starts the thread library and runs start(arg) as the first thread.
// It returns once no thread can run anymore: nil if every thread finished,
// an error wrapping ErrDeadlock if some were left blocked, or one wrapping
// ErrPanicked if a thread panicked.
//
// Init may only succeed once per process; later calls fail with
// ErrAlreadyInitialized and change nothing.
func Init(start StartFunc, arg any) error {
	rt, err := Default()
	if err != nil {
		return err
	}
	return rt.Init(start, arg)
}

// Create starts a new thread running start(arg). It is appended to the
// ready queue and runs when its turn comes.
func Create(start StartFunc, arg any) (ThreadID, error) {
	rt, err := running()
	if err != nil {
		return 0, err
	}
	return rt.Create(start, arg)
}

// Yield lets every other ready thread run before the caller continues.
func Yield() error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Yield()
}

// Lock acquires lock id, blocking while another thread holds it.
func Lock(id LockID) error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Lock(id)
}

// Unlock releases lock id, which the caller must hold.
func Unlock(id LockID) error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Unlock(id)
}

// Wait releases lock and blocks until cond is signaled, then re-acquires
// the lock.
func Wait(lock LockID, cond CondID) error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Wait(lock, cond)
}

// Signal wakes the longest waiting thread on cond, if any.
func Signal(lock LockID, cond CondID) error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Signal(lock, cond)
}

// Broadcast wakes every thread waiting on cond.
func Broadcast(lock LockID, cond CondID) error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.Broadcast(lock, cond)
}

// MaybeYield yields if a preemption tick is pending.
func MaybeYield() error {
	rt, err := running()
	if err != nil {
		return err
	}
	return rt.MaybeYield()
}

// Self returns the calling thread, or 0 outside of threads.
func Self() ThreadID {
	rt := std.Load()
	if rt == nil {
		return 0
	}
	return rt.Self()
}
