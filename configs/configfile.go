// Package configs holds the configuration file format of the updater.
package configs

import (
	"errors"
	"fmt"
	"time"

	"github.com/debojyoti452/shorebird/internal/pkg/utils/fileutils"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/pathsanitize"
	"github.com/debojyoti452/shorebird/pkg/backoff"
	"github.com/debojyoti452/shorebird/pkg/updater/updaterstate"
)

const DefaultCacheDir = "/var/lib/patchslot"

// UpdaterConfig is the content of the updater configuration file.
type UpdaterConfig struct {
	CacheDir        string         `yaml:"cache_dir"`
	SlotCount       int            `yaml:"slot_count"`
	PayloadFileName string         `yaml:"payload_file_name"`
	RequireHash     bool           `yaml:"require_hash"`
	Download        DownloadConfig `yaml:"download"`
}

// DownloadConfig controls how payloads are fetched.
type DownloadConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts uint          `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Defaults returns the configuration that is used when no file is given.
func Defaults() UpdaterConfig {
	return UpdaterConfig{
		CacheDir:        DefaultCacheDir,
		SlotCount:       updaterstate.DefaultRotationPolicy().SlotCount,
		PayloadFileName: "dlc.vmcode",
		Download: DownloadConfig{
			Timeout:     5 * time.Minute,
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    time.Minute,
		},
	}
}

// Load reads the file at path on top of the defaults.
// An empty file yields the defaults.
func Load(path string) (UpdaterConfig, error) {
	cfg := Defaults()
	if _, err := fileutils.SafeReadYAML(path, &cfg); err != nil {
		return UpdaterConfig{}, fmt.Errorf("failed to load config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return UpdaterConfig{}, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem of the configuration at once.
func (c UpdaterConfig) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir must not be empty"))
	}
	if err := c.RotationPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !pathsanitize.IsFileName(c.PayloadFileName) {
		errs = append(errs, fmt.Errorf("payload_file_name must be a plain file name, got %q", c.PayloadFileName))
	}
	if c.Download.Timeout < 0 {
		errs = append(errs, errors.New("download.timeout must not be negative"))
	}
	if c.Download.MaxAttempts == 0 {
		errs = append(errs, errors.New("download.max_attempts must be at least 1"))
	}
	if c.Download.BaseDelay <= 0 || c.Download.MaxDelay < c.Download.BaseDelay {
		errs = append(errs, fmt.Errorf("download delays must satisfy 0 < base_delay <= max_delay, got %s and %s", c.Download.BaseDelay, c.Download.MaxDelay))
	}
	return errors.Join(errs...)
}

// RotationPolicy returns the slot rotation configured by SlotCount.
func (c UpdaterConfig) RotationPolicy() updaterstate.RotationPolicy {
	return updaterstate.RotationPolicy{SlotCount: c.SlotCount}
}

// NewBackoff returns a fresh retry strategy for one download.
// The first attempt is not a retry, so MaxAttempts-1 waits are allowed.
func (c DownloadConfig) NewBackoff() backoff.Strategy {
	if c.MaxAttempts <= 1 {
		return backoff.NoRetry()
	}
	return backoff.NewExponentialBackoffWithJitter(c.BaseDelay, c.MaxDelay, c.MaxAttempts-1)
}
