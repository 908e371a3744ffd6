// Package scenarios holds named workloads for the uthread runtime. The CLI
// runs them, and their output is deterministic for a given configuration so
// that runs can be recorded and compared.
package scenarios

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	zapslog "github.com/tommoulard/zap-slog"
	"go.uber.org/zap"

	"github.com/kmrgirish/uthread/uthreadruntime"
)

// Env is what a scenario's main thread gets to work with.
type Env struct {
	RT *uthreadruntime.Runtime
	// Log writes through the runtime's slog handler, so records carry the
	// logging thread.
	Log *zap.Logger
	// Out receives the scenario's deterministic output.
	Out io.Writer
	// N scales the workload.
	N int
}

func (e *Env) printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

type Scenario struct {
	Name        string
	Description string
	// DefaultN is used when Run is given n <= 0.
	DefaultN int
	// WantErr is the error Init is expected to return, if any.
	WantErr error
	Main    func(env *Env)
}

var all = []*Scenario{
	lockFIFO,
	pingPong,
	boundedBuffer,
	yieldLoop,
	reclaimChain,
	deadlock,
}

// All returns every scenario sorted by name.
func All() []*Scenario {
	s := slices.Clone(all)
	slices.SortFunc(s, func(a, b *Scenario) int {
		return strings.Compare(a.Name, b.Name)
	})
	return s
}

var ErrUnknown = errors.New("unknown scenario")

func Lookup(name string) (*Scenario, error) {
	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknown, name)
}

// Result describes a finished scenario run.
type Result struct {
	// Err is what Init returned.
	Err      error
	Stats    uthreadruntime.Stats
	Checksum []byte
	Events   []uthreadruntime.Event
}

// Expected reports whether the run ended the way the scenario should.
func (s *Scenario) Expected(res *Result) bool {
	if s.WantErr == nil {
		return res.Err == nil
	}
	return errors.Is(res.Err, s.WantErr)
}

// Run executes a scenario on a fresh runtime. It fails only if the runtime
// cannot be set up; the scenario's own outcome is in Result.Err.
func Run(s *Scenario, cfg uthreadruntime.Config, n int, out io.Writer) (*Result, error) {
	rt, err := uthreadruntime.New(cfg)
	if err != nil {
		return nil, err
	}
	return RunOn(s, rt, n, out)
}

// RunOn executes a scenario on a runtime that has not been initialized yet.
func RunOn(s *Scenario, rt *uthreadruntime.Runtime, n int, out io.Writer) (*Result, error) {
	log, err := zap.NewProduction(zapslog.WrapCore(rt.Logger()))
	if err != nil {
		return nil, err
	}
	defer log.Sync()

	if n <= 0 {
		n = s.DefaultN
	}
	env := &Env{
		RT:  rt,
		Log: log.Named(s.Name),
		Out: out,
		N:   n,
	}

	initErr := rt.Init(func(any) {
		s.Main(env)
	}, nil)
	if errors.Is(initErr, uthreadruntime.ErrAlreadyInitialized) {
		return nil, initErr
	}
	return &Result{
		Err:      initErr,
		Stats:    rt.Stats(),
		Checksum: rt.Checksum(),
		Events:   rt.Events(),
	}, nil
}

// must reports an unexpected runtime error. Scenario threads have no caller
// to return errors to.
func (e *Env) must(err error) {
	if err != nil {
		e.Log.Error("runtime call failed", zap.Error(err))
		panic(err)
	}
}

func (e *Env) spawn(f func()) uthreadruntime.ThreadID {
	id, err := e.RT.Create(func(any) { f() }, nil)
	e.must(err)
	return id
}
