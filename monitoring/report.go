package monitoring

import (
	"fmt"
	"time"
)

// Level summarizes overall performance over a report window.
type Level int

const (
	LevelExcellent Level = iota
	LevelGood
	LevelDegraded
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelExcellent:
		return "excellent"
	case LevelGood:
		return "good"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Report aggregates the snapshots and alerts within a time window.
type Report struct {
	Period          time.Duration      `json:"period"`
	GeneratedAt     time.Time          `json:"generated_at"`
	SampleCount     int                `json:"sample_count"`
	Level           Level              `json:"level"`
	Score           float64            `json:"score"`
	Averages        map[string]float64 `json:"averages"`
	Alerts          []Alert            `json:"alerts"`
	Recommendations []string           `json:"recommendations"`
}

// Report aggregates everything observed within the trailing period.
func (m *Monitor) Report(period time.Duration) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-period)

	averages := make(map[string]float64, len(metricNames))
	count := 0
	for i := range m.history {
		s := &m.history[i]
		if s.Timestamp.Before(cutoff) {
			continue
		}
		count++
		for _, name := range metricNames {
			averages[name] += s.metric(name)
		}
	}
	if count > 0 {
		for name := range averages {
			averages[name] /= float64(count)
		}
	}

	var alerts []Alert
	for _, a := range m.alerts {
		if !a.Timestamp.Before(cutoff) {
			alerts = append(alerts, a)
		}
	}

	score := performanceScore(averages)
	return Report{
		Period:          period,
		GeneratedAt:     now,
		SampleCount:     count,
		Level:           levelForScore(score),
		Score:           score,
		Averages:        averages,
		Alerts:          alerts,
		Recommendations: recommendations(averages),
	}
}

// PerformanceScore derives the current overall score from the rolling
// baselines, in [0,1] with 1 meaning healthy.
func (m *Monitor) PerformanceScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	averages := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		averages[name] = m.baselines[name].mean()
	}
	if m.baselines[MetricCPUUsage].size == 0 {
		// Nothing observed yet; assume healthy rather than degraded.
		return 1.0
	}
	return performanceScore(averages)
}

// performanceScore applies the weighted penalty formula over latency,
// memory, cache efficiency and error rate.
func performanceScore(averages map[string]float64) float64 {
	latencyPenalty := clamp01(averages[MetricInferenceLatency] / 1.0)
	memoryPenalty := clamp01(averages[MetricMemoryUsage])
	cachePenalty := clamp01(1.0 - averages[MetricCacheHitRate])
	errorPenalty := clamp01(averages[MetricErrorRate] / 0.15)

	penalty := 0.35*latencyPenalty + 0.25*memoryPenalty + 0.25*cachePenalty + 0.15*errorPenalty
	return clamp01(1.0 - penalty)
}

func levelForScore(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelExcellent
	case score >= 0.65:
		return LevelGood
	case score >= 0.4:
		return LevelDegraded
	default:
		return LevelCritical
	}
}

func recommendations(averages map[string]float64) []string {
	var out []string
	if averages[MetricInferenceLatency] > 0.5 {
		out = append(out, fmt.Sprintf("inference latency averaging %.2fs; consider a latency-focused tuning session", averages[MetricInferenceLatency]))
	}
	if averages[MetricCacheHitRate] < 0.6 {
		out = append(out, "cache hit rate below 60%; increase the cache memory limit or review preload predictions")
	}
	if averages[MetricMemoryUsage] > 0.8 {
		out = append(out, "memory usage above 80%; lower the cache budget or evict idle models")
	}
	if averages[MetricErrorRate] > 0.05 {
		out = append(out, "elevated error rate; inspect recent model load failures")
	}
	if averages[MetricQueueDepth] > 50 {
		out = append(out, "request queue is backing up; increase worker parallelism")
	}
	if len(out) == 0 {
		out = append(out, "performance is within expected ranges")
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
