package uthreadruntime

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type traceFlag struct {
	enabled bool
}

func (t *traceFlag) Enabled() bool {
	return t != nil && t.enabled
}

// traceFlags select which scheduler events are logged as they happen.
type traceFlags struct {
	Switch  traceFlag
	Lock    traceFlag
	Cond    traceFlag
	Reclaim traceFlag
	Create  traceFlag
}

func (f *traceFlags) byName() map[string]*traceFlag {
	return map[string]*traceFlag{
		"switch":  &f.Switch,
		"lock":    &f.Lock,
		"cond":    &f.Cond,
		"reclaim": &f.Reclaim,
		"create":  &f.Create,
	}
}

// KnownTraceFlags lists the accepted Config.TraceFlags names.
func KnownTraceFlags() string {
	var f traceFlags
	return strings.Join(slices.Sorted(maps.Keys(f.byName())), ",")
}

func parseTraceflagsConfig(config string) (traceFlags, error) {
	var f traceFlags
	flags := f.byName()

	for _, name := range strings.Split(config, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if name == "all" {
			for _, flag := range flags {
				flag.enabled = true
			}
			continue
		}

		flag, ok := flags[name]
		if !ok {
			return traceFlags{}, fmt.Errorf("unknown traceflag %q (known %s)", name, KnownTraceFlags())
		}
		flag.enabled = true
	}

	return f, nil
}

func (f *traceFlags) forKind(k EventKind) *traceFlag {
	switch k {
	case EventDispatch, EventRoot, EventYield, EventPreempt:
		return &f.Switch
	case EventLockAcquire, EventLockBlock, EventUnlock:
		return &f.Lock
	case EventWait, EventSignal, EventBroadcast:
		return &f.Cond
	case EventExit, EventReclaim, EventAbandon, EventPanic:
		return &f.Reclaim
	case EventCreate:
		return &f.Create
	default:
		return nil
	}
}
