package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

const (
	ModeBatch = "batch"
	ModeActor = "actor"

	TopologyRandom   = "random"
	TopologyComplete = "complete"

	envPrefix = "VDHT"

	// DefaultServePort is the API port of the serve command.
	DefaultServePort = 8080
)

// Config holds all configuration for a simulation run
type Config struct {
	// Network generation
	Nodes    int    `mapstructure:"nodes"`
	Degree   int    `mapstructure:"degree"`   // extra random edges per node on top of the spanning tree
	Bits     int    `mapstructure:"bits"`     // L, ring width in bits
	Seed     uint64 `mapstructure:"seed"`     // run seed, drives keys, edges and finger targets
	Topology string `mapstructure:"topology"` // random, complete

	// Convergence
	Mode    string `mapstructure:"mode"`     // batch, actor
	MaxHops int    `mapstructure:"max-hops"` // advertisement ceiling, 0 means node count

	// Routing
	PathSamples int `mapstructure:"path-samples"`
	CacheSize   int `mapstructure:"cache-size"`

	// Output
	SnapshotPath string `mapstructure:"snapshot"`
	HTTPPort     int    `mapstructure:"http-port"` // 0 disables the inspection API

	// Logging
	LogLevel  string `mapstructure:"log-level"`  // trace, debug, info, warn, error
	LogFormat string `mapstructure:"log-format"` // json, console
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Nodes:       64,
		Degree:      2,
		Bits:        32,
		Seed:        1,
		Topology:    TopologyRandom,
		Mode:        ModeBatch,
		MaxHops:     0,
		PathSamples: 256,
		CacheSize:   1024,
		HTTPPort:    0,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Nodes <= 0 {
		return fmt.Errorf("nodes must be positive, got %d", c.Nodes)
	}
	if c.Degree < 0 {
		return fmt.Errorf("degree cannot be negative, got %d", c.Degree)
	}
	space, err := ring.NewSpace(c.Bits)
	if err != nil {
		return err
	}
	if !space.CanHold(c.Nodes) {
		return fmt.Errorf("%d nodes in %d bits: %w", c.Nodes, c.Bits, pkg.ErrKeySpaceTooSmall)
	}
	switch c.Topology {
	case TopologyRandom, TopologyComplete:
	default:
		return fmt.Errorf("unknown topology %q", c.Topology)
	}
	switch c.Mode {
	case ModeBatch, ModeActor:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.MaxHops < 0 {
		return fmt.Errorf("max hops cannot be negative, got %d", c.MaxHops)
	}
	if c.PathSamples < 0 {
		return fmt.Errorf("path samples cannot be negative, got %d", c.PathSamples)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative, got %d", c.CacheSize)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	return nil
}

// Load builds a Config from defaults, an optional config file, VDHT_* environment
// variables and the given flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("nodes", c.Nodes)
	v.SetDefault("degree", c.Degree)
	v.SetDefault("bits", c.Bits)
	v.SetDefault("seed", c.Seed)
	v.SetDefault("topology", c.Topology)
	v.SetDefault("mode", c.Mode)
	v.SetDefault("max-hops", c.MaxHops)
	v.SetDefault("path-samples", c.PathSamples)
	v.SetDefault("cache-size", c.CacheSize)
	v.SetDefault("snapshot", c.SnapshotPath)
	v.SetDefault("http-port", c.HTTPPort)
	v.SetDefault("log-level", c.LogLevel)
	v.SetDefault("log-format", c.LogFormat)
}

// RegisterFlags declares the command-line flags that Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.Int("nodes", d.Nodes, "number of nodes in the simulated network")
	fs.Int("degree", d.Degree, "extra random edges per node")
	fs.Int("bits", d.Bits, "ring width in bits (1-64)")
	fs.Uint64("seed", d.Seed, "run seed")
	fs.String("topology", d.Topology, "network topology: random or complete")
	fs.String("mode", d.Mode, "convergence mode: batch or actor")
	fs.Int("max-hops", d.MaxHops, "drop advertisements longer than this (0 = node count)")
	fs.Int("path-samples", d.PathSamples, "number of random routes to verify")
	fs.Int("cache-size", d.CacheSize, "route cache size")
	fs.String("snapshot", d.SnapshotPath, "write the converged tables to this file")
	fs.Int("http-port", d.HTTPPort, "serve the inspection API on this port (0 = disabled)")
	fs.String("log-level", d.LogLevel, "log level: trace, debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "log format: json or console")
}

// ServePort returns the API port of the serve command, which always serves.
func (c *Config) ServePort() int {
	if c.HTTPPort == 0 {
		return DefaultServePort
	}
	return c.HTTPPort
}

// RegisterServeFlags declares the subset of flags used when serving a saved snapshot.
func RegisterServeFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("snapshot", d.SnapshotPath, "snapshot file to serve")
	fs.Int("http-port", d.HTTPPort, "port of the inspection API (0 = 8080)")
	fs.Int("cache-size", d.CacheSize, "route cache size")
	fs.String("log-level", d.LogLevel, "log level: trace, debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "log format: json or console")
}
