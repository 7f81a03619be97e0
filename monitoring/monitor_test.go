package monitoring

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		SampleInterval:         time.Second,
		HistorySize:            100,
		BaselineWindow:         50,
		AnomalyWarmupSamples:   50,
		AnomalyRetrainInterval: 100,
		AnomalyScoreThreshold:  2.5,
		AlertCooldown:          time.Minute,
		Thresholds: map[string]config.MetricThreshold{
			MetricInferenceLatency: {Warning: 0.5, Critical: 1.0},
			MetricCacheHitRate:     {Warning: 0.5, Critical: 0.3, LowerIsBad: true},
		},
	}
}

func healthySnapshot(ts time.Time) Snapshot {
	return Snapshot{
		Timestamp:        ts,
		CPUUsage:         0.2,
		MemoryUsage:      0.4,
		InferenceLatency: 0.1,
		ModelLoadTime:    0.5,
		CacheHitRate:     0.9,
	}
}

func TestLatencySpikeRaisesCriticalAlert(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	start := time.Now().Add(-time.Minute)
	for i := 0; i < 60; i++ {
		m.ObserveSnapshot(healthySnapshot(start.Add(time.Duration(i) * time.Second)))
	}

	spike := healthySnapshot(start.Add(61 * time.Second))
	spike.InferenceLatency = 1.5
	m.ObserveSnapshot(spike)

	alerts := m.AlertsSince(start)
	require.NotEmpty(t, alerts)

	var found bool
	for _, a := range alerts {
		if a.Metric == MetricInferenceLatency && a.Severity == SeverityCritical {
			found = true
			assert.InDelta(t, 1.5, a.CurrentValue, 1e-9)
			assert.NotEmpty(t, a.SuggestedActions)
		}
	}
	assert.True(t, found, "expected a critical inference_latency alert, got %v", alerts)
}

func TestAlertCooldownSuppressesDuplicates(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	ts := time.Now()
	for i := 0; i < 5; i++ {
		s := healthySnapshot(ts.Add(time.Duration(i) * time.Second))
		s.InferenceLatency = 2.0
		m.ObserveSnapshot(s)
	}

	alerts := m.AlertsSince(ts.Add(-time.Second))
	assert.Len(t, alerts, 1)
}

func TestLowCacheHitRateAlertsOnInvertedThreshold(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	ts := time.Now()
	s := healthySnapshot(ts)
	s.CacheHitRate = 0.2
	m.ObserveSnapshot(s)

	alerts := m.AlertsSince(ts.Add(-time.Second))
	require.Len(t, alerts, 1)
	assert.Equal(t, MetricCacheHitRate, alerts[0].Metric)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)

	// A healthy hit rate must not alert.
	m2 := New(testMonitorConfig(), Accessors{})
	m2.ObserveSnapshot(healthySnapshot(ts))
	assert.Empty(t, m2.AlertsSince(ts.Add(-time.Second)))
}

func TestAnomalyDetectionFlagsOutlier(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.Thresholds = nil // isolate the statistical path
	m := New(cfg, Accessors{})

	start := time.Now().Add(-2 * time.Minute)
	for i := 0; i < 55; i++ {
		s := healthySnapshot(start.Add(time.Duration(i) * time.Second))
		// Small deterministic jitter so the baseline has nonzero spread.
		s.InferenceLatency = 0.1 + 0.02*float64(i%2)
		m.ObserveSnapshot(s)
	}

	spike := healthySnapshot(start.Add(56 * time.Second))
	spike.InferenceLatency = 2.0
	m.ObserveSnapshot(spike)

	alerts := m.AlertsSince(start)
	require.Len(t, alerts, 1)
	assert.Equal(t, MetricInferenceLatency, alerts[0].Metric)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
	assert.Greater(t, alerts[0].AnomalyScore, cfg.AnomalyScoreThreshold)
}

func TestAlertCallbacksFire(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	var calls atomic.Int64
	m.AddAlertCallback(func(Alert) { calls.Add(1) })
	m.AddAlertCallback(func(Alert) { panic("flaky consumer") }) // must be contained

	s := healthySnapshot(time.Now())
	s.InferenceLatency = 2.0
	m.ObserveSnapshot(s)

	assert.Equal(t, int64(1), calls.Load())
}

func TestReportAggregatesWindow(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	start := time.Now().Add(-30 * time.Second)
	for i := 0; i < 30; i++ {
		m.ObserveSnapshot(healthySnapshot(start.Add(time.Duration(i) * time.Second)))
	}

	r := m.Report(time.Hour)
	assert.Equal(t, 30, r.SampleCount)
	assert.InDelta(t, 0.1, r.Averages[MetricInferenceLatency], 1e-9)
	assert.GreaterOrEqual(t, r.Score, 0.65)
	assert.LessOrEqual(t, int(r.Level), int(LevelGood))
	assert.NotEmpty(t, r.Recommendations)

	// Snapshots outside the window are excluded.
	narrow := m.Report(time.Nanosecond)
	assert.Zero(t, narrow.SampleCount)
}

func TestReportRecommendsLatencyTuning(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})

	ts := time.Now()
	s := healthySnapshot(ts)
	s.InferenceLatency = 0.9
	m.ObserveSnapshot(s)

	r := m.Report(time.Hour)
	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], "latency")
}

func TestPerformanceScoreDefaultsHealthy(t *testing.T) {
	m := New(testMonitorConfig(), Accessors{})
	assert.InDelta(t, 1.0, m.PerformanceScore(), 1e-9)

	// Degraded samples drag the score down.
	ts := time.Now()
	for i := 0; i < 10; i++ {
		s := healthySnapshot(ts.Add(time.Duration(i) * time.Second))
		s.InferenceLatency = 1.0
		s.CacheHitRate = 0.1
		s.MemoryUsage = 0.95
		m.ObserveSnapshot(s)
	}
	assert.Less(t, m.PerformanceScore(), 0.5)
}

func TestAccessorsFeedSampling(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.SampleInterval = 10 * time.Millisecond
	m := New(cfg, Accessors{
		InferenceLatency: func() float64 { return 0.25 },
		CacheHitRate:     func() float64 { return 0.8 },
	})

	require.NoError(t, m.Start())
	require.NoError(t, m.Start()) // idempotent
	defer m.Stop()

	require.Eventually(t, func() bool {
		mean, _ := m.Baseline(MetricInferenceLatency)
		return mean > 0
	}, 2*time.Second, 10*time.Millisecond)

	mean, _ := m.Baseline(MetricInferenceLatency)
	assert.InDelta(t, 0.25, mean, 1e-9)

	m.Stop()
	m.Stop() // safe to repeat
}

func TestRollingBaselineWindow(t *testing.T) {
	b := newRollingBaseline(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		b.add(v)
	}
	assert.InDelta(t, 4.0, b.mean(), 1e-9)
	assert.Greater(t, b.std(), 0.0)
}
