// Package config loads tokenaudit settings: a JSON settings file for
// runtime knobs and optional TOML files for smell thresholds and
// pricing overrides. Everything lives under the tokenaudit home
// directory, ~/.tokenaudit unless TOKENAUDIT_HOME says otherwise.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janekbaraniewski/tokenaudit/internal/analyzer"
)

const homeEnv = "TOKENAUDIT_HOME"

type TrackingConfig struct {
	PollIntervalMS int  `json:"poll_interval_ms"`
	QueueSize      int  `json:"queue_size"`
	HistoryEnabled bool `json:"history_enabled"`
}

type Config struct {
	Tracking TrackingConfig `json:"tracking"`
	Project  string         `json:"project"`
	LogLevel string         `json:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Tracking: TrackingConfig{
			PollIntervalMS: 500,
			QueueSize:      256,
			HistoryEnabled: true,
		},
		LogLevel: "info",
	}
}

// HomeDir is the root for storage, settings, and the history cache.
func HomeDir() string {
	if dir := os.Getenv(homeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tokenaudit")
}

func SettingsPath() string   { return filepath.Join(HomeDir(), "settings.json") }
func ThresholdsPath() string { return filepath.Join(HomeDir(), "thresholds.toml") }
func PricingPath() string    { return filepath.Join(HomeDir(), "pricing.toml") }

func Load() (Config, error) {
	return LoadFrom(SettingsPath())
}

func LoadFrom(path string) (Config, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("config: reading settings: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return DefaultConfig(), fmt.Errorf("config: parsing settings %s: %w", path, err)
	}
	return clamp(c), nil
}

func clamp(c Config) Config {
	def := DefaultConfig()
	if c.Tracking.PollIntervalMS < 50 || c.Tracking.PollIntervalMS > 60_000 {
		c.Tracking.PollIntervalMS = def.Tracking.PollIntervalMS
	}
	if c.Tracking.QueueSize < 16 || c.Tracking.QueueSize > 65_536 {
		c.Tracking.QueueSize = def.Tracking.QueueSize
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Tracking.PollIntervalMS) * time.Millisecond
}

func Save(c Config) error {
	return SaveTo(SettingsPath(), c)
}

func SaveTo(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating settings dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling settings: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing settings: %w", err)
	}
	return nil
}

// thresholdsFile is the thresholds.toml shape; absent keys keep their
// defaults, zero or negative values are rejected.
type thresholdsFile struct {
	Thresholds analyzer.Thresholds `toml:"thresholds"`
	BurstMS    int                 `toml:"burst_window_ms"`
}

// LoadThresholds overlays thresholds.toml on the analyzer defaults. A
// missing file returns the defaults.
func LoadThresholds(path string) (analyzer.Thresholds, error) {
	th := analyzer.DefaultThresholds()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return th, nil
	}
	if err != nil {
		return th, fmt.Errorf("config: reading thresholds: %w", err)
	}

	tf := thresholdsFile{Thresholds: th}
	if err := toml.Unmarshal(data, &tf); err != nil {
		return analyzer.DefaultThresholds(), fmt.Errorf("config: parsing %s: %w", path, err)
	}
	out := tf.Thresholds
	if tf.BurstMS > 0 {
		out.BurstWindow = time.Duration(tf.BurstMS) * time.Millisecond
	} else {
		out.BurstWindow = th.BurstWindow
	}
	return sanitizeThresholds(out), nil
}

func sanitizeThresholds(th analyzer.Thresholds) analyzer.Thresholds {
	def := analyzer.DefaultThresholds()
	if th.VarianceCV <= 0 {
		th.VarianceCV = def.VarianceCV
	}
	if th.TopConsumerShare <= 0 || th.TopConsumerShare > 1 {
		th.TopConsumerShare = def.TopConsumerShare
	}
	if th.MCPShare <= 0 || th.MCPShare > 1 {
		th.MCPShare = def.MCPShare
	}
	if th.ChattyCalls <= 0 {
		th.ChattyCalls = def.ChattyCalls
	}
	if th.CacheHitRatio <= 0 || th.CacheHitRatio > 1 {
		th.CacheHitRatio = def.CacheHitRatio
	}
	if th.ExpensiveFailureTokens <= 0 {
		th.ExpensiveFailureTokens = def.ExpensiveFailureTokens
	}
	if th.ServerUtilization <= 0 || th.ServerUtilization > 1 {
		th.ServerUtilization = def.ServerUtilization
	}
	if th.BurstCalls <= 0 {
		th.BurstCalls = def.BurstCalls
	}
	if th.LargePayloadTokens <= 0 {
		th.LargePayloadTokens = def.LargePayloadTokens
	}
	if th.SequentialReads <= 0 {
		th.SequentialReads = def.SequentialReads
	}
	if th.CacheMissStreak <= 0 {
		th.CacheMissStreak = def.CacheMissStreak
	}
	return th
}
