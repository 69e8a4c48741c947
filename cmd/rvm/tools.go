package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chazu/rvm/compiler"
	"github.com/chazu/rvm/profile"
	"github.com/chazu/rvm/server"
	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/dist"
)

// disCmd handles `rvm dis`.
func disCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	reg := fs.Bool("reg", false, "Disassemble the register form")
	path, err := oneFile(e, fs, args)
	if err != nil {
		return err
	}
	code, err := e.loadCode(path)
	if err != nil {
		return err
	}
	if *reg {
		if code, err = compiler.Convert(code); err != nil {
			return err
		}
	}
	fmt.Fprint(e.stdout, vm.Disassemble(code))
	return nil
}

// asmCmd handles `rvm asm`.
func asmCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	out := fs.String("o", "", "Output chunk (default: input with .rvmc)")
	path, err := oneFile(e, fs, args)
	if err != nil {
		return err
	}
	code, err := e.loadCode(path)
	if err != nil {
		return err
	}
	return writeChunk(e, code, path, *out)
}

// convertCmd handles `rvm convert`. Without -o it prints the converted
// listing.
func convertCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	out := fs.String("o", "", "Write the register form as a chunk")
	path, err := oneFile(e, fs, args)
	if err != nil {
		return err
	}
	code, err := e.loadCode(path)
	if err != nil {
		return err
	}
	conv, err := compiler.Convert(code)
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Fprint(e.stdout, vm.Disassemble(conv))
		return nil
	}
	return writeChunk(e, conv, path, *out)
}

func writeChunk(e *env, code *vm.Code, path, out string) error {
	if out == "" {
		out = strings.TrimSuffix(path, ".rvm") + ChunkExt
	}
	if err := dist.WriteFile(out, code); err != nil {
		return err
	}
	log.Infof("wrote %s", out)
	fmt.Fprintf(e.stdout, "wrote %s\n", out)
	return nil
}

// profileCmd handles `rvm profile list|show|summary|rm`.
func profileCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	limit := fs.Int("n", 20, "Number of runs to list")
	db := fs.String("db", e.cfg.ProfileDatabase(), "Profile database")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	sub := "list"
	if fs.NArg() > 0 {
		sub = fs.Arg(0)
	}
	switch sub {
	case "list", "summary":
	case "show", "rm":
		if fs.NArg() != 2 {
			fmt.Fprintf(e.stderr, "Usage: rvm profile %s <id>\n", sub)
			return errUsage
		}
	default:
		fmt.Fprintf(e.stderr, "Unknown profile command %q (want list, show, summary or rm)\n", sub)
		return errUsage
	}

	store, err := profile.Open(*db)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	switch sub {
	case "list":
		runs, err := store.List(ctx, fs.Arg(1), *limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROGRAM\tMODE\tSTARTED\tDURATION\tINSTRUCTIONS\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Program, r.Mode,
				r.StartedAt.Format(time.DateTime), r.Duration, r.Stats.Instructions, r.Error)
		}
		return w.Flush()

	case "show":
		r, err := store.Get(ctx, fs.Arg(1))
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "id            %s\n", r.ID)
		fmt.Fprintf(e.stdout, "program       %s\n", r.Program)
		fmt.Fprintf(e.stdout, "mode          %s\n", r.Mode)
		fmt.Fprintf(e.stdout, "started       %s\n", r.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(e.stdout, "duration      %s\n", r.Duration)
		if r.Error != "" {
			fmt.Fprintf(e.stdout, "error         %s\n", r.Error)
		}
		printStats(e.stdout, r.Stats)
		return nil

	case "summary":
		sums, err := store.Summarize(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROGRAM\tRUNS\tFAILURES\tAVG DURATION\tAVG INSTRUCTIONS\tMAX DEPTH")
		for _, s := range sums {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%.0f\t%d\n", s.Program, s.Runs, s.Failures,
				s.AvgDuration, s.AvgInstructions, s.MaxDepth)
		}
		return w.Flush()

	default: // rm
		return store.Delete(ctx, fs.Arg(1))
	}
}

// lspCmd handles `rvm lsp`.
func lspCmd(e *env, args []string) error {
	fs := flag.NewFlagSet("lsp", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(e.stderr, "Usage: rvm lsp")
		return errUsage
	}
	log.Info("starting language server on stdio")
	return server.NewLSP().Run()
}
