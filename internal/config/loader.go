// Package config loads and validates the service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/monitor"
	"inferd/pkg/types"
)

// Config holds runtime parameters for the service. Zero values mean
// "unspecified" and are replaced by defaults in ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Paths to sqlite files; empty keeps the subsystem in memory.
	StorePath string `json:"store_path" yaml:"store_path" toml:"store_path"`
	CachePath string `json:"cache_path" yaml:"cache_path" toml:"cache_path"`

	CacheTTLSeconds int `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`

	// Models to load at startup.
	Models []types.ModelConfig `json:"models" yaml:"models" toml:"models"`
	// Default model id per task, e.g. sentiment: sentiment-v1.
	DefaultModels map[string]string `json:"default_models" yaml:"default_models" toml:"default_models"`

	PredictTimeoutSeconds int `json:"predict_timeout_seconds" yaml:"predict_timeout_seconds" toml:"predict_timeout_seconds"`
	LoadTimeoutSeconds    int `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`
	IdleTimeoutSeconds    int `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	SweepIntervalSeconds  int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
	WarmupRequests        int `json:"warmup_requests" yaml:"warmup_requests" toml:"warmup_requests"`

	MetricsWindow          int `json:"metrics_window" yaml:"metrics_window" toml:"metrics_window"`
	DriftWindow            int `json:"drift_window" yaml:"drift_window" toml:"drift_window"`
	CheckIntervalSeconds   int `json:"check_interval_seconds" yaml:"check_interval_seconds" toml:"check_interval_seconds"`
	SampleIntervalSeconds  int `json:"sample_interval_seconds" yaml:"sample_interval_seconds" toml:"sample_interval_seconds"`

	Thresholds monitor.Thresholds `json:"thresholds" yaml:"thresholds" toml:"thresholds"`

	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.PredictTimeoutSeconds <= 0 {
		c.PredictTimeoutSeconds = 10
	}
	if c.LoadTimeoutSeconds <= 0 {
		c.LoadTimeoutSeconds = 120
	}
	if c.IdleTimeoutSeconds <= 0 {
		c.IdleTimeoutSeconds = 1800
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 300
	}
	if c.WarmupRequests <= 0 {
		c.WarmupRequests = 3
	}
	if c.CheckIntervalSeconds <= 0 {
		c.CheckIntervalSeconds = 30
	}
	if c.SampleIntervalSeconds <= 0 {
		c.SampleIntervalSeconds = 60
	}
	if c.Thresholds.P95LatencySeconds == 0 {
		c.Thresholds.P95LatencySeconds = 2
	}
	if c.Thresholds.ErrorRate == 0 {
		c.Thresholds.ErrorRate = 0.05
	}
	if c.Thresholds.MemoryPercent == 0 {
		c.Thresholds.MemoryPercent = 90
	}
	if c.Thresholds.CPUPercent == 0 {
		c.Thresholds.CPUPercent = 90
	}
	if c.Thresholds.DriftScore == 0 {
		c.Thresholds.DriftScore = 0.5
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model with empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Backend == "" {
			return fmt.Errorf("model %s: empty backend kind", m.ID)
		}
	}
	for task, id := range c.DefaultModels {
		if id == "" {
			return fmt.Errorf("default model for task %q is empty", task)
		}
	}
	return nil
}

// Durations converted from the *_seconds fields.
func (c *Config) CacheTTL() time.Duration        { return time.Duration(c.CacheTTLSeconds) * time.Second }
func (c *Config) PredictTimeout() time.Duration  { return time.Duration(c.PredictTimeoutSeconds) * time.Second }
func (c *Config) LoadTimeout() time.Duration     { return time.Duration(c.LoadTimeoutSeconds) * time.Second }
func (c *Config) IdleTimeout() time.Duration     { return time.Duration(c.IdleTimeoutSeconds) * time.Second }
func (c *Config) SweepInterval() time.Duration   { return time.Duration(c.SweepIntervalSeconds) * time.Second }
func (c *Config) CheckInterval() time.Duration   { return time.Duration(c.CheckIntervalSeconds) * time.Second }
func (c *Config) SampleInterval() time.Duration  { return time.Duration(c.SampleIntervalSeconds) * time.Second }
