// Package config provides YAML configuration loading and validation for
// the changed-page tracking daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for
// changedpagetrackd. changedpagedump takes its inputs from command-line
// flags and does not read it.
type Config struct {
	// DataHome is the directory holding the rotated bitmap files. Required.
	DataHome string `yaml:"data_home"`

	// LogGroupFiles lists the paths of the redo log group files to follow,
	// in scan order. Required; see internal/simplelog for the expected
	// wire format of each file.
	LogGroupFiles []string `yaml:"log_group_files"`

	// MaxBitmapFileSize bounds how large a single bitmap file grows before
	// Controller rotates to the next one. Accepts human-readable sizes
	// ("64MB", "1GB"). Defaults to 64MB when omitted.
	MaxBitmapFileSize datasize.ByteSize `yaml:"max_bitmap_file_size"`

	// PollInterval is how often changedpagetrackd calls Controller.Follow.
	// Defaults to 1s when omitted.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LogLevel sets the minimum log severity: "info" or "warn". Defaults
	// to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// Engine carries the subset of host engine constants an operator may
	// need to override from their defaults (the rest are wired by the
	// host process embedding this package, not read from YAML).
	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig mirrors the overridable fields of redolog.Constants that an
// operator may reasonably want to tune without a rebuild.
type EngineConfig struct {
	// UnivPageSizeMax is the largest page size the host engine uses, in
	// bytes. Required; there is no safe default since it is engine- and
	// build-specific.
	UnivPageSizeMax int `yaml:"univ_page_size_max"`

	// DoublewriteSpace is the tablespace id of the doublewrite buffer,
	// whose page writes are never tracked. Defaults to 0 when omitted.
	DoublewriteSpace uint32 `yaml:"doublewrite_space"`
}

var validLogLevels = map[string]bool{
	"info": true,
	"warn": true,
}

const (
	defaultMaxBitmapFileSize = 64 * datasize.MB
	defaultPollInterval      = time.Second
)

// Load reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxBitmapFileSize == 0 {
		cfg.MaxBitmapFileSize = defaultMaxBitmapFileSize
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.DataHome == "" {
		errs = append(errs, errors.New("data_home is required"))
	}
	if len(cfg.LogGroupFiles) == 0 {
		errs = append(errs, errors.New("log_group_files must list at least one path"))
	}
	if cfg.Engine.UnivPageSizeMax <= 0 {
		errs = append(errs, errors.New("engine.univ_page_size_max is required and must be positive"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: info, warn", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
