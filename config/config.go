// Package config handles rvm.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/dist"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "rvm.toml"

// Config represents an rvm.toml file.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Log     Log     `toml:"log"`
	Profile Profile `toml:"profile"`
	Dist    Dist    `toml:"dist"`

	// Dir is the directory containing the rvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Engine configures the interpreter.
type Engine struct {
	RecursionLimit int  `toml:"recursion-limit"`
	InlineCache    bool `toml:"inline-cache"`
	Trace          bool `toml:"trace"`
	RegisterForm   bool `toml:"register-form"`
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Profile configures the run-statistics store.
type Profile struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
}

// Dist configures which globals a loaded code chunk may require.
type Dist struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// Default returns the configuration used when no rvm.toml exists.
func Default() *Config {
	return &Config{
		Engine: Engine{
			RecursionLimit: vm.DefaultRecursionLimit,
			InlineCache:    true,
		},
		Profile: Profile{
			Database: filepath.Join(".rvm", "profile.db"),
		},
	}
}

// Load parses the rvm.toml file in dir. Keys the file leaves out keep
// their Default values; unknown keys are an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes configuration text over the defaults.
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown key %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an rvm.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Engine.RecursionLimit <= 0 {
		return fmt.Errorf("engine.recursion-limit must be positive, got %d", c.Engine.RecursionLimit)
	}
	for _, name := range c.Dist.Deny {
		for _, allowed := range c.Dist.Allow {
			if name == allowed {
				return fmt.Errorf("dist: %q is both allowed and denied", name)
			}
		}
	}
	return nil
}

// EngineOptions returns the engine options the configuration selects.
// Tracing is left to the caller, which owns the trace output.
func (c *Config) EngineOptions() []vm.Option {
	return []vm.Option{
		vm.WithRecursionLimit(c.Engine.RecursionLimit),
		vm.WithInlineCache(c.Engine.InlineCache),
		vm.WithLogger(commonlog.GetLogger("rvm.engine")),
	}
}

// CapabilityPolicy builds the policy applied to loaded chunks. With no
// allow list every global is permitted unless denied.
func (c *Config) CapabilityPolicy() *dist.CapabilityPolicy {
	var p *dist.CapabilityPolicy
	if len(c.Dist.Allow) > 0 {
		p = dist.NewRestrictedPolicy(c.Dist.Allow)
	} else {
		p = dist.NewPermissivePolicy()
	}
	p.Deny(c.Dist.Deny...)
	return p
}

// ProfileDatabase returns the profile database path, resolved against Dir
// when relative.
func (c *Config) ProfileDatabase() string {
	if filepath.IsAbs(c.Profile.Database) || c.Dir == "" {
		return c.Profile.Database
	}
	return filepath.Join(c.Dir, c.Profile.Database)
}

// LogFile returns the log file path resolved against Dir, or nil when
// logging goes to stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}
