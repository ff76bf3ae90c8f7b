// Package config loads runtime settings from the environment, optionally
// layered over a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "AXIOM"

// Config holds all runtime configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Kernel  KernelConfig  `yaml:"kernel"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig locates the durable commit log.
type StoreConfig struct {
	Path string `envconfig:"DB" yaml:"path" default:"axiom.db"`
}

// KernelConfig bounds per-process and per-endpoint resources.
type KernelConfig struct {
	MaxSlots int `envconfig:"MAX_SLOTS" yaml:"max_slots" default:"4096"`
	// MaxQueue bounds each endpoint's pending messages. Zero is unbounded.
	MaxQueue int `envconfig:"MAX_QUEUE" yaml:"max_queue" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" default:"info"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" default:"false"`
}

// MetricsConfig enables the prometheus collectors.
type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS" yaml:"enabled" default:"false"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store:   StoreConfig{Path: "axiom.db"},
		Kernel:  KernelConfig{MaxSlots: 4096},
		Logging: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the environment only.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads path (if non-empty) and then applies environment
// overrides. Variables that are unset keep the file's value.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := processEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// processEnv applies only variables that are actually set, so that
// envconfig defaults do not clobber values read from the file. Sections
// are processed one by one so variable names stay flat (AXIOM_DB, not
// AXIOM_STORE_DB).
func processEnv(cfg *Config) error {
	var env Config
	for _, section := range []any{&env.Store, &env.Kernel, &env.Logging, &env.Metrics} {
		if err := envconfig.Process(Prefix, section); err != nil {
			return err
		}
	}
	if isSet("DB") {
		cfg.Store.Path = env.Store.Path
	}
	if isSet("MAX_SLOTS") {
		cfg.Kernel.MaxSlots = env.Kernel.MaxSlots
	}
	if isSet("MAX_QUEUE") {
		cfg.Kernel.MaxQueue = env.Kernel.MaxQueue
	}
	if isSet("LOG_LEVEL") {
		cfg.Logging.Level = env.Logging.Level
	}
	if isSet("LOG_DEV") {
		cfg.Logging.Development = env.Logging.Development
	}
	if isSet("METRICS") {
		cfg.Metrics.Enabled = env.Metrics.Enabled
	}
	return nil
}

func isSet(name string) bool {
	_, ok := os.LookupEnv(Prefix + "_" + name)
	return ok
}

// Validate rejects settings the kernel cannot run with.
func (c *Config) Validate() error {
	if c.Kernel.MaxSlots <= 0 {
		return fmt.Errorf("kernel.max_slots must be positive, got %d", c.Kernel.MaxSlots)
	}
	if c.Kernel.MaxQueue < 0 {
		return fmt.Errorf("kernel.max_queue must not be negative, got %d", c.Kernel.MaxQueue)
	}
	return nil
}
