package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8099" || cfg.Timezone != "America/Cancun" {
		t.Errorf("defaults = %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults were not written back: %v", err)
	}

	// Second load round-trips the written file.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if *again != *cfg {
		t.Errorf("round-trip mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadPartialFileNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: \":9000\"\ngrace_days: 5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.GraceDays != 5 {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.SyncIntervalMinutes != 15 || cfg.ClampDays != 60 || cfg.MaxParallelSyncs != 4 {
		t.Errorf("missing values not defaulted: %+v", cfg)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config did not error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STAYSYNC_LISTEN", ":7777")
	t.Setenv("STAYSYNC_TIMEZONE", "UTC")
	t.Setenv("STAYSYNC_GRACE_DAYS", "0")
	t.Setenv("STAYSYNC_FEED_TIMEOUT_SECONDS", "9")
	t.Setenv("STAYSYNC_EXPORT_INCLUDE_DETAILS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7777" || cfg.Timezone != "UTC" {
		t.Errorf("env overrides lost: %+v", cfg)
	}
	if cfg.GraceDays != 0 {
		t.Errorf("GraceDays = %d, want explicit 0", cfg.GraceDays)
	}
	if cfg.FeedTimeout() != 9*time.Second {
		t.Errorf("FeedTimeout = %v", cfg.FeedTimeout())
	}
	if !cfg.ExportIncludeDetails {
		t.Error("ExportIncludeDetails not set")
	}

	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location = %v, %v", loc, err)
	}
}

func TestDataDirPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/staysync"
	if cfg.DBPath() != "/tmp/staysync/staysync.db" {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.MarkerPath() != "/tmp/staysync/sync-run.json" {
		t.Errorf("MarkerPath = %q", cfg.MarkerPath())
	}
}
