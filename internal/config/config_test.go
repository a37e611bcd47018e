package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	c, err := LoadFrom(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.Tracking.PollIntervalMS != 500 || c.Tracking.QueueSize != 256 {
		t.Fatalf("defaults = %+v", c.Tracking)
	}
	if !c.Tracking.HistoryEnabled {
		t.Fatal("history disabled by default")
	}
}

func TestLoadFromClampsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	blob := `{"tracking":{"poll_interval_ms":1,"queue_size":999999,"history_enabled":true}}`
	if err := os.WriteFile(path, []byte(blob), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.Tracking.PollIntervalMS != 500 {
		t.Fatalf("poll interval = %d, want clamped to default", c.Tracking.PollIntervalMS)
	}
	if c.Tracking.QueueSize != 256 {
		t.Fatalf("queue size = %d, want clamped to default", c.Tracking.QueueSize)
	}
}

func TestLoadFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	c, err := LoadFrom(path)
	if err == nil {
		t.Fatal("corrupt settings accepted silently")
	}
	if c.Tracking.PollIntervalMS != 500 {
		t.Fatalf("fallback config = %+v", c.Tracking)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	c := DefaultConfig()
	c.Project = "demo"
	c.Tracking.PollIntervalMS = 1000
	if err := SaveTo(path, c); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.Project != "demo" || loaded.PollInterval() != time.Second {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestHomeDirHonorsEnv(t *testing.T) {
	t.Setenv(homeEnv, "/tmp/tokenaudit-test-home")
	if got := HomeDir(); got != "/tmp/tokenaudit-test-home" {
		t.Fatalf("HomeDir = %q", got)
	}
}

func TestLoadThresholdsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.toml")
	blob := `
burst_window_ms = 2000

[thresholds]
chatty_calls = 50
cache_hit_ratio = 0.5
`
	if err := os.WriteFile(path, []byte(blob), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	th, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("LoadThresholds: %v", err)
	}
	if th.ChattyCalls != 50 || th.CacheHitRatio != 0.5 {
		t.Fatalf("overrides not applied: %+v", th)
	}
	if th.BurstWindow != 2*time.Second {
		t.Fatalf("burst window = %v", th.BurstWindow)
	}
	// Untouched thresholds keep their defaults.
	if th.TopConsumerShare != 0.5 || th.LargePayloadTokens != 10000 {
		t.Fatalf("defaults lost: %+v", th)
	}
}

func TestLoadThresholdsMissingFile(t *testing.T) {
	th, err := LoadThresholds(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadThresholds: %v", err)
	}
	if th.ChattyCalls != 20 || th.BurstWindow != time.Second {
		t.Fatalf("defaults = %+v", th)
	}
}

func TestLoadThresholdsRejectsNonsense(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.toml")
	os.WriteFile(path, []byte("[thresholds]\ntop_consumer_share = 7.5\n"), 0o644)
	th, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("LoadThresholds: %v", err)
	}
	if th.TopConsumerShare != 0.5 {
		t.Fatalf("share = %v, want reset to default", th.TopConsumerShare)
	}
}
