package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kmrgirish/uthread"
	"github.com/kmrgirish/uthread/internal/scenarios"
	"github.com/kmrgirish/uthread/internal/stack"
	"github.com/kmrgirish/uthread/internal/threadlog"
	"github.com/kmrgirish/uthread/internal/tracedb"
	"github.com/kmrgirish/uthread/uthreadruntime"
)

const doc = `Uthread runs workloads on the uthread cooperative thread library.

Usage: uthread <command> [arguments]

The commands are:

    run            run a scenario
    list           list scenarios
    bench          run a scenario many times in parallel
    history        list recorded runs
    check          rerun a scenario and compare it against its last recorded run
    help           print this help

Runtime flags, accepted by run, bench and check:

    -stack-size    bytes per thread stack (default 65536)
    -max-threads   maximum number of thread stacks alive at once (0: no limit)
    -mmap          allocate stacks with mmap and a guard page
    -strict        hand lock ownership to waiters on release
    -preempt       preemption tick interval (0: off)
    -log-level     runtime log level (debug, info, warn, error)
    -logformat     runtime log formatting: raw|indented|pretty
    -trace         comma-separated scheduler events to log
    -n             workload size (0: scenario default)

The 'run' command:

Usage: uthread run [runtime flags] [-db=file] [-checksum] [-thread=id] <scenario>

Run executes a scenario through the process-wide thread library and prints
its output. When the library exits it prints "Thread library exiting.". The
exit status is 1 if the scenario did not end the way it should, for example
a scenario that should finish left threads blocked.

The -db flag records the run, including every scheduler event, in a bolt
database for later use by history and check. The -checksum flag prints the
schedule checksum. The -thread flag only shows runtime logs of one thread.

The 'bench' command:

Usage: uthread bench [runtime flags] [-runs=count] [-parallel=count] <scenario>

Bench runs a scenario on independent runtimes, several at once, and reports
the time taken. All runs must produce the same schedule.

The 'history' command:

Usage: uthread history -db=file

The 'check' command:

Usage: uthread check [runtime flags] -db=file <scenario>

Check reruns a scenario with the locking mode of its most recent recorded run
and reports the first scheduler event where the two runs differ.
`

func commandName(cmd string) string {
	return fmt.Sprintf("%s %s", path.Base(os.Args[0]), cmd)
}

type runtimeFlags struct {
	stackSize  *int
	maxThreads *int
	mmap       *bool
	strict     *bool
	preempt    *time.Duration
	logLevel   *string
	logformat  *string
	trace      *string
	n          *int
}

func addRuntimeFlags(fs *flag.FlagSet) *runtimeFlags {
	return &runtimeFlags{
		stackSize:  fs.Int("stack-size", uthreadruntime.DefaultStackSize, "bytes per thread stack"),
		maxThreads: fs.Int("max-threads", 0, "maximum live thread stacks (0: no limit)"),
		mmap:       fs.Bool("mmap", false, "allocate stacks with mmap"),
		strict:     fs.Bool("strict", false, "hand lock ownership over on release"),
		preempt:    fs.Duration("preempt", 0, "preemption interval (0: off)"),
		logLevel:   fs.String("log-level", "warn", "runtime log level"),
		logformat:  fs.String("logformat", "pretty", "runtime log formatting: raw|indented|pretty"),
		trace:      fs.String("trace", "", "comma-separated trace flags ("+uthreadruntime.KnownTraceFlags()+",all)"),
		n:          fs.Int("n", 0, "workload size"),
	}
}

func (f *runtimeFlags) config() (uthreadruntime.Config, error) {
	cfg := uthreadruntime.Config{
		StackSize:       *f.stackSize,
		MaxThreads:      *f.maxThreads,
		StrictLocking:   *f.strict,
		PreemptInterval: *f.preempt,
		TraceFlags:      *f.trace,
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*f.logLevel)); err != nil {
		return cfg, err
	}
	format, err := uthreadruntime.ParseLogFormat(*f.logformat)
	if err != nil {
		return cfg, err
	}
	cfg.LogFormat = format
	if *f.mmap {
		alloc, err := stack.NewMmap()
		if err != nil {
			return cfg, err
		}
		cfg.Allocator = alloc
	}
	return cfg, nil
}

func scenarioArg(fs *flag.FlagSet) *scenarios.Scenario {
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <scenario>\n", fs.Name())
		os.Exit(2)
	}
	s, err := scenarios.Lookup(fs.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func record(dbPath string, s *scenarios.Scenario, strict bool, res *scenarios.Result) (uint64, error) {
	db, err := tracedb.Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	run := &tracedb.Run{
		Scenario: s.Name,
		Created:  time.Now(),
		Strict:   strict,
		Checksum: res.Checksum,
		Events:   res.Events,
	}
	if res.Err != nil {
		run.Err = res.Err.Error()
	}
	if err := db.Put(run); err != nil {
		return 0, err
	}
	return run.ID, nil
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet(commandName("run"), flag.ExitOnError)
	rf := addRuntimeFlags(fs)
	dbPath := fs.String("db", "", "record the run in this database")
	checksum := fs.Bool("checksum", false, "print the schedule checksum")
	thread := fs.Uint64("thread", 0, "only show runtime logs of this thread")
	fs.Parse(args)
	s := scenarioArg(fs)

	cfg, err := rf.config()
	if err != nil {
		log.Fatal(err)
	}
	cfg.Checksum = *checksum || *dbPath != ""
	cfg.Record = *dbPath != ""

	var logs bytes.Buffer
	if *thread != 0 {
		cfg.Logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{
			Level:     cfg.LogLevel,
			AddSource: true,
		}))
	}

	if err := uthread.Configure(cfg); err != nil {
		log.Fatal(err)
	}
	rt, err := uthread.Default()
	if err != nil {
		log.Fatal(err)
	}
	res, err := scenarios.RunOn(s, rt, *rf.n, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}

	if *thread != 0 {
		w := uthreadruntime.MakeConsoleWriter(os.Stderr, cfg.LogFormat)
		lines := bytes.Split(logs.Bytes(), []byte("\n"))
		for _, l := range threadlog.ForThread(threadlog.ParseLog(logs.Bytes()), *thread) {
			w.Write(append(lines[l.Index], '\n'))
		}
	}
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", res.Err)
	}
	if *checksum {
		fmt.Printf("checksum %x\n", res.Checksum)
	}
	if *dbPath != "" {
		id, err := record(*dbPath, s, cfg.StrictLocking, res)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("recorded run %d\n", id)
	}

	fmt.Println("Thread library exiting.")
	if !s.Expected(res) {
		return 1
	}
	return 0
}

func listCommand() int {
	for _, s := range scenarios.All() {
		fmt.Printf("%-14s %s\n", s.Name, s.Description)
	}
	return 0
}

func benchCommand(args []string) int {
	fs := flag.NewFlagSet(commandName("bench"), flag.ExitOnError)
	rf := addRuntimeFlags(fs)
	runs := fs.Int("runs", 16, "number of runs")
	parallel := fs.Int("parallel", 4, "runs in flight at once")
	fs.Parse(args)
	s := scenarioArg(fs)

	if *runs < 1 {
		log.Fatal("bench: -runs must be at least 1")
	}
	if *parallel < 1 {
		log.Fatal("bench: -parallel must be at least 1")
	}
	if _, err := rf.config(); err != nil {
		log.Fatal(err)
	}

	results := make([]*scenarios.Result, *runs)
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(*parallel)
	for i := range results {
		g.Go(func() error {
			// every run needs its own allocator
			cfg, err := rf.config()
			if err != nil {
				return err
			}
			cfg.Checksum = true
			res, err := scenarios.Run(s, cfg, *rf.n, io.Discard)
			if err != nil {
				return err
			}
			if !s.Expected(res) {
				return fmt.Errorf("run %d: unexpected result: %v", i, res.Err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	first := results[0]
	for i, res := range results[1:] {
		if !bytes.Equal(res.Checksum, first.Checksum) {
			fmt.Fprintf(os.Stderr, "run %d: checksum %x differs from %x\n", i+1, res.Checksum, first.Checksum)
			return 1
		}
	}
	fmt.Printf("%s: %d runs, %d switches per run, checksum %x, %s per run\n",
		s.Name, *runs, first.Stats.Switches, first.Checksum, elapsed/time.Duration(*runs))
	return 0
}

func historyCommand(args []string) int {
	fs := flag.NewFlagSet(commandName("history"), flag.ExitOnError)
	dbPath := fs.String("db", "", "database file")
	fs.Parse(args)
	if *dbPath == "" {
		log.Fatal("history: missing -db")
	}

	db, err := tracedb.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	runs, err := db.List()
	if err != nil {
		log.Fatal(err)
	}
	for _, run := range runs {
		mode := "resume"
		if run.Strict {
			mode = "strict"
		}
		line := fmt.Sprintf("%d %s %s %x", run.ID, run.Scenario, mode, run.Checksum)
		if run.Err != "" {
			line += " err=" + fmt.Sprintf("%q", run.Err)
		}
		fmt.Println(line)
	}
	return 0
}

func checkCommand(args []string) int {
	fs := flag.NewFlagSet(commandName("check"), flag.ExitOnError)
	rf := addRuntimeFlags(fs)
	dbPath := fs.String("db", "", "database file")
	fs.Parse(args)
	s := scenarioArg(fs)
	if *dbPath == "" {
		log.Fatal("check: missing -db")
	}

	db, err := tracedb.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	stored, err := db.Latest(s.Name)
	if err != nil {
		if errors.Is(err, tracedb.ErrNotFound) {
			log.Fatalf("check: no recorded run of %s", s.Name)
		}
		log.Fatal(err)
	}

	cfg, err := rf.config()
	if err != nil {
		log.Fatal(err)
	}
	cfg.StrictLocking = stored.Strict
	cfg.Checksum = true
	cfg.Record = true
	res, err := scenarios.Run(s, cfg, *rf.n, io.Discard)
	if err != nil {
		log.Fatal(err)
	}

	if bytes.Equal(res.Checksum, stored.Checksum) {
		fmt.Printf("ok: %s matches run %d (%d events)\n", s.Name, stored.ID, len(stored.Events))
		return 0
	}
	i := tracedb.Diff(stored.Events, res.Events)
	describe := func(evs []uthreadruntime.Event) string {
		if i < 0 || i >= len(evs) {
			return "end of run"
		}
		return evs[i].String()
	}
	fmt.Printf("mismatch: %s differs from run %d at event %d\n", s.Name, stored.ID, i)
	fmt.Printf("  recorded: %s\n", describe(stored.Events))
	fmt.Printf("  now:      %s\n", describe(res.Events))
	return 1
}

func uthreadMain() int {
	flag.Usage = func() {
		fmt.Print(doc)
	}
	flag.Parse()
	log.SetFlags(0)

	if len(flag.Args()) < 1 {
		flag.Usage()
		return 2
	}
	cmd := flag.Args()[0]
	cmdArgs := flag.Args()[1:]

	switch cmd {
	case "run":
		return runCommand(cmdArgs)
	case "list":
		return listCommand()
	case "bench":
		return benchCommand(cmdArgs)
	case "history":
		return historyCommand(cmdArgs)
	case "check":
		return checkCommand(cmdArgs)
	case "help":
		flag.Usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fmt.Fprint(os.Stderr, strings.SplitN(doc, "\n\n", 3)[1]+"\n")
		return 2
	}
}

func main() {
	os.Exit(uthreadMain())
}
