package kiss

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/kiss/feeders"
)

// ErrInvalidConfig reports a configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds container settings.
type Config struct {
	// WorkingDir is the base of the preferences directory.
	WorkingDir string `yaml:"workingDir" toml:"workingDir" json:"workingDir" env:"WORKING_DIR"`

	// MaxDepth bounds nested constructor injection.
	MaxDepth int `yaml:"maxDepth" toml:"maxDepth" json:"maxDepth" env:"MAX_DEPTH"`

	// Modules are loaded by New, in order.
	Modules []string `yaml:"modules" toml:"modules" json:"modules" env:"MODULES"`

	// LogLevel enables the default zap logger when set.
	LogLevel string `yaml:"logLevel" toml:"logLevel" json:"logLevel" env:"LOG_LEVEL"`
}

// DefaultMaxDepth is the default bound on nested constructor injection.
const DefaultMaxDepth = 16

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() *Config {
	return &Config{WorkingDir: ".", MaxDepth: DefaultMaxDepth}
}

// Feeder fills a configuration structure from one source.
type Feeder interface {
	Feed(structure any) error
}

// ConfigFeeders returns the default feeders: kiss.yaml, kiss.toml,
// kiss.json and .env in dir when they exist, then KISS_ environment
// variables.
func ConfigFeeders(dir string) []Feeder {
	var out []Feeder
	if path := filepath.Join(dir, "kiss.yaml"); exists(path) {
		out = append(out, feeders.NewYamlFeeder(path))
	}
	if path := filepath.Join(dir, "kiss.toml"); exists(path) {
		out = append(out, feeders.NewTomlFeeder(path))
	}
	if path := filepath.Join(dir, "kiss.json"); exists(path) {
		out = append(out, feeders.NewJSONFeeder(path))
	}
	if path := filepath.Join(dir, ".env"); exists(path) {
		out = append(out, feeders.NewDotEnvFeeder(path, "KISS"))
	}
	return append(out, feeders.NewAffixedEnvFeeder("KISS", ""))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadConfig applies feeders in order over DefaultConfig and validates the
// result.
func LoadConfig(fs ...Feeder) (*Config, error) {
	cfg := DefaultConfig()
	for _, f := range fs {
		if err := f.Feed(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings and fills empty values with defaults.
func (c *Config) Validate() error {
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: maxDepth must be positive, got %d", ErrInvalidConfig, c.MaxDepth)
	}
	return nil
}
