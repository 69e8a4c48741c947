package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/chazu/rvm/compiler"
	"github.com/chazu/rvm/profile"
	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/object"
)

// runCmd handles `rvm run`.
func runCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	reg := fs.Bool("reg", e.cfg.Engine.RegisterForm, "Convert to register form before running")
	trace := fs.Bool("trace", e.cfg.Engine.Trace, "Print trace events to stderr")
	stats := fs.Bool("stats", false, "Print engine counters after the run")
	record := fs.Bool("profile", e.cfg.Profile.Enabled, "Record the run in the profile database")
	limit := fs.Int("limit", e.cfg.Engine.RecursionLimit, "Recursion limit")
	noCache := fs.Bool("no-cache", !e.cfg.Engine.InlineCache, "Disable the global inline cache")
	path, err := oneFile(e, fs, args)
	if err != nil {
		return err
	}

	code, err := e.loadCode(path)
	if err != nil {
		return err
	}
	mode := "stack"
	if *reg {
		conv, err := compiler.Convert(code)
		switch {
		case errors.Is(err, compiler.ErrUnconvertible):
			log.Warningf("%s: %v; running stack form", path, err)
		case err != nil:
			return err
		default:
			code, mode = conv, "register"
		}
	}

	opts := append(e.cfg.EngineOptions(),
		vm.WithRecursionLimit(*limit),
		vm.WithInlineCache(!*noCache),
	)
	if *trace {
		opts = append(opts, vm.WithTrace(traceTo(e.stderr)))
	}
	engine := vm.NewEngine(object.Model{}, opts...)

	start := time.Now()
	result, runErr := engine.Execute(code, vm.NewDict(), object.Builtins(object.WithOutput(e.stdout)))
	elapsed := time.Since(start)
	snap := engine.Stats().Snapshot()
	log.Infof("%s finished in %s (%d instructions)", path, elapsed, snap.Instructions)

	if *stats {
		printStats(e.stderr, snap)
	}
	if *record {
		if err := recordRun(e, path, mode, start, elapsed, snap, runErr); err != nil {
			log.Errorf("recording run: %v", err)
		}
	}

	if runErr != nil {
		fmt.Fprint(e.stderr, vm.AsException(runErr).Format())
		return exitError{1}
	}
	if result != vm.None {
		fmt.Fprintln(e.stdout, object.Repr(result))
	}
	vm.Release(result)
	return nil
}

// traceTo returns a trace function that writes one line per event.
func traceTo(w io.Writer) vm.TraceFunc {
	return func(f *vm.Frame, event vm.TraceEvent, arg vm.Value) error {
		switch event {
		case vm.TraceReturn:
			fmt.Fprintf(w, "%-9s %s:%d %s -> %s\n", event, f.Code.Filename, f.Line(), f.Code.Name, object.Repr(arg))
		case vm.TraceException:
			fmt.Fprintf(w, "%-9s %s:%d %s: %v\n", event, f.Code.Filename, f.Line(), f.Code.Name, arg)
		default:
			fmt.Fprintf(w, "%-9s %s:%d %s\n", event, f.Code.Filename, f.Line(), f.Code.Name)
		}
		return nil
	}
}

func printStats(w io.Writer, s vm.StatsSnapshot) {
	fmt.Fprintf(w, "instructions  %d\n", s.Instructions)
	fmt.Fprintf(w, "calls         %d\n", s.Calls)
	fmt.Fprintf(w, "max depth     %d\n", s.MaxDepth)
	fmt.Fprintf(w, "global hits   %d\n", s.GlobalHits)
	fmt.Fprintf(w, "global misses %d\n", s.GlobalMisses)
	fmt.Fprintf(w, "global first  %d\n", s.GlobalFirst)
	fmt.Fprintf(w, "slow lookups  %d\n", s.SlowLookups)
	fmt.Fprintf(w, "raised        %d\n", s.Raised)
	fmt.Fprintf(w, "handled       %d\n", s.Handled)
	fmt.Fprintf(w, "suspensions   %d\n", s.Suspensions)
}

func recordRun(e *env, path, mode string, start time.Time, elapsed time.Duration, snap vm.StatsSnapshot, runErr error) error {
	store, err := profile.Open(e.cfg.ProfileDatabase())
	if err != nil {
		return err
	}
	defer store.Close()

	r := &profile.Run{
		Program:   path,
		Mode:      mode,
		StartedAt: start,
		Duration:  elapsed,
		Stats:     snap,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	id, err := store.Record(context.Background(), r)
	if err != nil {
		return err
	}
	log.Infof("recorded run %s", id)
	return nil
}
