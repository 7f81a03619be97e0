package monitoring

import "time"

// Severity classifies how urgent an alert is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert is an immutable record of a threshold breach or statistical
// anomaly. Alerts accumulate in the monitor's log for reporting.
type Alert struct {
	ID               string    `json:"id"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	Metric           string    `json:"metric"`
	CurrentValue     float64   `json:"current_value"`
	ExpectedLow      float64   `json:"expected_low"`
	ExpectedHigh     float64   `json:"expected_high"`
	AnomalyScore     float64   `json:"anomaly_score,omitempty"`
	SuggestedActions []string  `json:"suggested_actions,omitempty"`
}

// suggestedActions maps each metric to remediation hints attached to its
// alerts.
var suggestedActions = map[string][]string{
	MetricCPUUsage: {
		"reduce concurrent inference workers",
		"run a latency-focused tuning session",
	},
	MetricMemoryUsage: {
		"lower the model cache memory limit",
		"evict idle model handles",
	},
	MetricInferenceLatency: {
		"preload frequently used models",
		"run a latency-focused tuning session",
	},
	MetricModelLoadTime: {
		"increase the model cache memory limit",
		"verify model storage throughput",
	},
	MetricCacheHitRate: {
		"increase the model cache memory limit",
		"review the next-model predictor's accuracy",
	},
	MetricAudioProcessingTime: {
		"reduce the audio frame size",
		"switch the audio controller to a cheaper adaptation mode",
	},
	MetricQueueDepth: {
		"increase worker parallelism",
		"shed low-priority work",
	},
	MetricErrorRate: {
		"inspect recent model load failures",
		"roll back the most recent parameter changes",
	},
}
