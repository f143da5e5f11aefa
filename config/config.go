// Package config handles bcverify.toml verifier configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/bcverify/driver"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "bcverify.toml"

// Config represents a bcverify.toml configuration.
type Config struct {
	Verifier Verifier `toml:"verifier"`
	Log      Log      `toml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

// Verifier configures the verification driver.
type Verifier struct {
	MaxPasses  int  `toml:"max-passes"`
	Workers    int  `toml:"workers"`
	CacheSize  int  `toml:"cache-size"`
	RejectUnit bool `toml:"reject-unit"`

	// Store is the verdict database; empty disables it. Relative paths
	// are resolved against the configuration file's directory.
	Store string `toml:"store"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Verifier: Verifier{
			MaxPasses:  driver.DefaultMaxPasses,
			Workers:    runtime.NumCPU(),
			CacheSize:  driver.DefaultCacheSize,
			RejectUnit: true,
		},
	}
}

// Load parses bcverify.toml from the given directory. Keys missing from
// the file keep their defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	return LoadFile(path)
}

// LoadFile parses a configuration file at an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a bcverify.toml file, then
// loads it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Verifier.MaxPasses < 1 {
		return fmt.Errorf("verifier.max-passes must be at least 1, got %d", c.Verifier.MaxPasses)
	}
	if c.Verifier.Workers < 0 {
		return fmt.Errorf("verifier.workers must not be negative, got %d", c.Verifier.Workers)
	}
	if c.Log.Verbosity < -4 || c.Log.Verbosity > 2 {
		return fmt.Errorf("log.verbosity must be between -4 and 2, got %d", c.Log.Verbosity)
	}
	return nil
}

// Options converts the verifier section into driver options.
func (c *Config) Options() driver.Options {
	return driver.Options{
		MaxPasses:  c.Verifier.MaxPasses,
		Workers:    c.Verifier.Workers,
		CacheSize:  c.Verifier.CacheSize,
		RejectUnit: c.Verifier.RejectUnit,
	}
}

// StorePath returns the verdict database path, or "" when none is
// configured.
func (c *Config) StorePath() string {
	if c.Verifier.Store == "" || filepath.IsAbs(c.Verifier.Store) || c.Path == "" {
		return c.Verifier.Store
	}
	return filepath.Join(filepath.Dir(c.Path), c.Verifier.Store)
}

// LogFile returns the configured log file, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}
