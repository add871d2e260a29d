// Package config provides the procgraph configuration file.
//
// Configuration is read once at startup and handed to the components that
// need it. Nothing reads it from a global.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ogolikhin/procgraph/internal/graph"
)

// DefaultShapeLimit is the shape limit used when the file sets none.
const DefaultShapeLimit = 100

// Config holds all procgraph settings.
type Config struct {
	// ShapeLimit caps the number of shapes in one process (default 100).
	// A negative value disables the limit.
	ShapeLimit int `yaml:"shape_limit"`

	// SMB marks a small and medium business installation, where system
	// decisions are not offered.
	SMB bool `yaml:"smb"`

	// Labels maps localization keys to display text. Missing keys fall back
	// to the built-in English labels.
	Labels map[string]string `yaml:"labels"`

	Tree    TreeConfig    `yaml:"tree"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// TreeConfig controls tree freshness.
type TreeConfig struct {
	// AutoRebuild rebuilds a stale tree on the first query (default true).
	// When false, queries on a stale tree fail.
	AutoRebuild *bool `yaml:"auto_rebuild"`
}

// LogConfig selects the log level (debug, info, warn, error) and format
// (text, json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the storage backend. DatabaseURL takes precedence
// over Path; with neither set processes live in memory.
type StorageConfig struct {
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used without a file.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ShapeLimit == 0 {
		c.ShapeLimit = DefaultShapeLimit
	}
	if c.Tree.AutoRebuild == nil {
		auto := true
		c.Tree.AutoRebuild = &auto
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Labels == nil {
		c.Labels = make(map[string]string)
	}
}

// Load reads a configuration YAML file. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// AutoRebuild reports whether stale trees are rebuilt on demand.
func (c Config) AutoRebuild() bool {
	return c.Tree.AutoRebuild == nil || *c.Tree.AutoRebuild
}

// GraphOptions returns the graph options this configuration implies.
func (c Config) GraphOptions(logger *slog.Logger) graph.Options {
	limit := c.ShapeLimit
	if limit < 0 {
		limit = 0
	}
	return graph.Options{
		ShapeLimit:      limit,
		StrictFreshness: !c.AutoRebuild(),
		Logger:          logger,
	}
}
