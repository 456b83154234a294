// Package config holds the command line configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	layertools "github.com/aramperes/spring-boot-layertools"
)

// EnvPrefix is the prefix of environment variables read into Config,
// e.g. LAYERTOOLS_DESTINATION.
const EnvPrefix = "LAYERTOOLS"

// Defaults shared with the command line flags.
const (
	DefaultLogLevel           = "warn"
	DefaultMaxFileSize uint64 = 1 << 30
)

// Config holds app configuration
type Config struct {
	// Jar is the layered jar to read.
	Jar string `mapstructure:"jar"`

	// Destination is the directory layers are extracted to.
	Destination string `mapstructure:"destination"`

	// Layers restricts extraction to the named layers. Empty means all.
	Layers []string `mapstructure:"layers"`

	FailFast         bool `mapstructure:"fail_fast"`
	LenientChecksums bool `mapstructure:"lenient_checksums"`
	PreserveTimes    bool `mapstructure:"preserve_times"`

	// Workers is the extraction worker count: <0 serial, 0 GOMAXPROCS.
	Workers int `mapstructure:"workers"`

	// MaxFileSize limits the decoded size of a single entry, 0 disables.
	MaxFileSize uint64 `mapstructure:"max_file_size"`

	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// SetDefaults registers every key with its default so that environment
// variables are honored even for keys without a bound flag.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("jar", "")
	v.SetDefault("destination", ".")
	v.SetDefault("layers", []string{})
	v.SetDefault("fail_fast", false)
	v.SetDefault("lenient_checksums", false)
	v.SetDefault("preserve_times", false)
	v.SetDefault("workers", 0)
	v.SetDefault("max_file_size", DefaultMaxFileSize)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_output_dir", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed by their types.
func (c *Config) Validate() error {
	if c.Jar == "" {
		return errors.New("no jar given")
	}
	if c.Destination == "" {
		return errors.New("destination must not be empty")
	}
	for _, l := range c.Layers {
		if strings.TrimSpace(l) == "" {
			return errors.New("layer names must not be empty")
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// ArchiveOptions returns the options for opening the jar.
func (c *Config) ArchiveOptions() []layertools.Option {
	return []layertools.Option{
		layertools.WithMaxFileSize(c.MaxFileSize),
	}
}

// ExtractOptions returns the options for extracting the jar.
func (c *Config) ExtractOptions() []layertools.ExtractOption {
	opts := []layertools.ExtractOption{
		layertools.ExtractWithFailFast(c.FailFast),
		layertools.ExtractWithLenientChecksums(c.LenientChecksums),
		layertools.ExtractWithPreserveTimes(c.PreserveTimes),
		layertools.ExtractWithWorkers(c.Workers),
	}
	if len(c.Layers) > 0 {
		opts = append(opts, layertools.ExtractWithLayers(c.Layers...))
	}
	return opts
}
