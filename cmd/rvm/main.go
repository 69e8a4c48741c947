// rvm CLI - assembles, converts, inspects and runs bytecode listings
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/rvm/compiler"
	"github.com/chazu/rvm/config"
	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/dist"
)

var log = commonlog.GetLogger("rvm.cli")

// ChunkExt is the extension of encoded code chunks.
const ChunkExt = ".rvmc"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// command is one rvm subcommand.
type command struct {
	name    string
	summary string
	run     func(env *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"run", "execute a listing or chunk", runCmd},
		{"dis", "disassemble a listing or chunk", disCmd},
		{"asm", "assemble a listing into a chunk", asmCmd},
		{"convert", "rewrite stack-form code into register form", convertCmd},
		{"profile", "show recorded run statistics", profileCmd},
		{"lsp", "start the listing language server on stdio", lspCmd},
	}
}

// env carries what every command needs.
type env struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

// errUsage marks a command-line mistake; the usage text has been printed.
var errUsage = errors.New("usage")

// exitError carries an exit status from a program that raised.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: rvm [-C dir] [-v] <command> [options] [args...]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  rvm run prog.rvm             # assemble and run a listing\n")
	fmt.Fprintf(w, "  rvm run -reg -stats prog.rvm # run the register form, print counters\n")
	fmt.Fprintf(w, "  rvm asm -o prog.rvmc prog.rvm\n")
	fmt.Fprintf(w, "  rvm dis prog.rvmc\n")
	fmt.Fprintf(w, "  rvm profile summary\n")
}

// run parses global flags and dispatches to a command. It returns the
// process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("C", ".", "Directory to search for rvm.toml")
	verbose := fs.Int("v", 0, "Log verbosity (overrides rvm.toml)")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := loadConfig(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			cfg.Log.Verbosity = *verbose
		}
	})
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	name := fs.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(&env{cfg: cfg, stdout: stdout, stderr: stderr}, fs.Args()[1:])
		var exit exitError
		switch {
		case err == nil:
			return 0
		case errors.Is(err, errUsage):
			return 2
		case errors.As(err, &exit):
			return exit.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "Unknown command %q\n\n", name)
	usage(stderr)
	return 2
}

// loadConfig finds rvm.toml above dir, falling back to defaults.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		log.Debug("no rvm.toml found, using defaults")
		return config.Default(), nil
	}
	log.Debugf("loaded config from %s", cfg.Dir)
	return cfg, nil
}

// loadCode reads a listing, or a chunk when the path has the chunk
// extension. Chunks are checked against the configured capability policy.
func (e *env) loadCode(path string) (*vm.Code, error) {
	if strings.EqualFold(filepath.Ext(path), ChunkExt) {
		return dist.ReadFile(path, e.cfg.CapabilityPolicy())
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return compiler.Assemble(string(src), path)
}

// oneFile parses fs and requires exactly one positional argument.
func oneFile(e *env, fs *flag.FlagSet, args []string) (string, error) {
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		return "", errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(e.stderr, "Usage: rvm %s [options] <file>\n", fs.Name())
		fs.PrintDefaults()
		return "", errUsage
	}
	return fs.Arg(0), nil
}
