// Package config provides YAML-based application configuration with
// environment overrides for container deployments.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and outbound feeds.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir holds the SQLite database and the sync run marker.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Timezone is the IANA reference timezone for date-only calendar math
	// (e.g. "America/Cancun"). Feed dates collapse to calendar days in this
	// zone before comparison.
	Timezone string `yaml:"timezone" json:"timezone"`

	// SyncIntervalMinutes is how often the scheduler pulls all unit feeds.
	SyncIntervalMinutes int `yaml:"sync_interval_minutes" json:"sync_interval_minutes"`

	// FeedTimeoutSeconds bounds each outbound feed fetch.
	FeedTimeoutSeconds int `yaml:"feed_timeout_seconds" json:"feed_timeout_seconds"`

	// GraceDays is the recency window: bookings whose checkout falls within
	// this many days of the run are still eligible for the
	// suspected-cancelled classification.
	GraceDays int `yaml:"grace_days" json:"grace_days"`

	// ClampDays caps how far back the default reconcile window may reach.
	ClampDays int `yaml:"clamp_days" json:"clamp_days"`

	// MaxParallelSyncs bounds concurrent per-unit feed syncs.
	MaxParallelSyncs int `yaml:"max_parallel_syncs" json:"max_parallel_syncs"`

	// ExportIncludeDetails controls whether the outbound private feed
	// carries guest names and payouts in event summaries by default.
	ExportIncludeDetails bool `yaml:"export_include_details" json:"export_include_details"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               ":8099",
		DataDir:              "/data",
		Timezone:             "America/Cancun",
		SyncIntervalMinutes:  15,
		FeedTimeoutSeconds:   20,
		GraceDays:            2,
		ClampDays:            60,
		MaxParallelSyncs:     4,
		ExportIncludeDetails: false,
	}
}

// Normalize fills missing or out-of-range values with defaults so partially
// filled configs still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.SyncIntervalMinutes <= 0 {
		c.SyncIntervalMinutes = d.SyncIntervalMinutes
	}
	if c.FeedTimeoutSeconds <= 0 {
		c.FeedTimeoutSeconds = d.FeedTimeoutSeconds
	}
	if c.GraceDays < 0 {
		c.GraceDays = d.GraceDays
	}
	if c.ClampDays <= 0 {
		c.ClampDays = d.ClampDays
	}
	if c.MaxParallelSyncs <= 0 {
		c.MaxParallelSyncs = d.MaxParallelSyncs
	}
}

// ApplyEnv overrides individual fields from environment variables, so
// container deployments can tune without editing the config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STAYSYNC_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("STAYSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("STAYSYNC_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := envInt("STAYSYNC_SYNC_INTERVAL_MINUTES"); v > 0 {
		c.SyncIntervalMinutes = v
	}
	if v := envInt("STAYSYNC_FEED_TIMEOUT_SECONDS"); v > 0 {
		c.FeedTimeoutSeconds = v
	}
	if v := os.Getenv("STAYSYNC_GRACE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.GraceDays = n
		}
	}
	if v := envInt("STAYSYNC_CLAMP_DAYS"); v > 0 {
		c.ClampDays = v
	}
	if v := envInt("STAYSYNC_MAX_PARALLEL_SYNCS"); v > 0 {
		c.MaxParallelSyncs = v
	}
	if v := os.Getenv("STAYSYNC_EXPORT_INCLUDE_DETAILS"); v != "" {
		c.ExportIncludeDetails = v == "1" || v == "true" || v == "yes"
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Location resolves the configured reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FeedTimeout returns the feed fetch timeout as a duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutSeconds) * time.Second
}

// DBPath returns the SQLite database path under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "staysync.db")
}

// MarkerPath returns the sync run marker path under the data directory.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.DataDir, "sync-run.json")
}

// Load reads configuration from the given YAML path. A missing file yields
// the defaults and writes them back for the next edit; an unreadable or
// malformed file is an error. Environment overrides apply last.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()
	return &cfg, nil
}

// Save writes the configuration to path, creating the parent directory when
// needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
