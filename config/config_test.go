package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory limit", func(c *Config) { c.Cache.MemoryLimitBytes = 0 }},
		{"negative prediction threshold", func(c *Config) { c.Cache.PredictionThreshold = -0.1 }},
		{"baseline window of one", func(c *Config) { c.Monitor.BaselineWindow = 1 }},
		{"history smaller than baseline", func(c *Config) {
			c.Monitor.HistorySize = c.Monitor.BaselineWindow - 1
		}},
		{"unknown adaptation mode", func(c *Config) { c.Audio.AdaptationMode = "reckless" }},
		{"bootstrap exceeding budget", func(c *Config) {
			c.Tuning.BootstrapTrials = c.Tuning.MaxEvaluations + 1
		}},
		{"zero orchestrator tick", func(c *Config) { c.Orchestrator.Tick = 0 }},
		{"inverted critical below warning", func(c *Config) {
			c.Monitor.Thresholds["inference_latency"] = MetricThreshold{Warning: 1.0, Critical: 0.5}
		}},
		{"lower-is-bad critical above warning", func(c *Config) {
			c.Monitor.Thresholds["cache_hit_rate"] = MetricThreshold{Warning: 0.3, Critical: 0.5, LowerIsBad: true}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCloneIsolatesThresholds(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()

	clone.Monitor.Thresholds["cpu_usage"] = MetricThreshold{Warning: 0.1, Critical: 0.2}
	clone.Cache.MemoryLimitBytes = 1

	assert.NotEqual(t, cfg.Monitor.Thresholds["cpu_usage"], clone.Monitor.Thresholds["cpu_usage"])
	assert.NotEqual(t, int64(1), cfg.Cache.MemoryLimitBytes)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
cache:
  memory_limit_bytes: 536870912
audio:
  adaptation_mode: aggressive
  adaptation_interval: 10s
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(536870912), cfg.Cache.MemoryLimitBytes)
	assert.Equal(t, "aggressive", cfg.Audio.AdaptationMode)
	assert.Equal(t, 10*time.Second, cfg.Audio.AdaptationInterval)

	// Sections the file does not mention keep their defaults.
	def := Default()
	assert.Equal(t, def.Monitor.SampleInterval, cfg.Monitor.SampleInterval)
	assert.Equal(t, def.Tuning.MaxEvaluations, cfg.Tuning.MaxEvaluations)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  memory_limit_bytes: -5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
