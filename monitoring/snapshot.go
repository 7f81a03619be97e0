package monitoring

import "time"

// Metric names used across snapshots, baselines, thresholds and alerts.
const (
	MetricCPUUsage            = "cpu_usage"
	MetricMemoryUsage         = "memory_usage"
	MetricInferenceLatency    = "inference_latency"
	MetricModelLoadTime       = "model_load_time"
	MetricCacheHitRate        = "cache_hit_rate"
	MetricAudioProcessingTime = "audio_processing_time"
	MetricQueueDepth          = "queue_depth"
	MetricErrorRate           = "error_rate"
)

// metricNames lists every monitored metric in feature-vector order.
var metricNames = []string{
	MetricCPUUsage,
	MetricMemoryUsage,
	MetricInferenceLatency,
	MetricModelLoadTime,
	MetricCacheHitRate,
	MetricAudioProcessingTime,
	MetricQueueDepth,
	MetricErrorRate,
}

// Snapshot is one immutable performance sample. Usage fractions are in
// [0,1]; latencies and processing times are in seconds.
type Snapshot struct {
	Timestamp           time.Time         `json:"timestamp"`
	CPUUsage            float64           `json:"cpu_usage"`
	MemoryUsage         float64           `json:"memory_usage"`
	InferenceLatency    float64           `json:"inference_latency"`
	ModelLoadTime       float64           `json:"model_load_time"`
	CacheHitRate        float64           `json:"cache_hit_rate"`
	AudioProcessingTime float64           `json:"audio_processing_time"`
	QueueDepth          float64           `json:"queue_depth"`
	ErrorRate           float64           `json:"error_rate"`
	Context             map[string]string `json:"context,omitempty"`
}

// metric returns the named metric's value.
func (s *Snapshot) metric(name string) float64 {
	switch name {
	case MetricCPUUsage:
		return s.CPUUsage
	case MetricMemoryUsage:
		return s.MemoryUsage
	case MetricInferenceLatency:
		return s.InferenceLatency
	case MetricModelLoadTime:
		return s.ModelLoadTime
	case MetricCacheHitRate:
		return s.CacheHitRate
	case MetricAudioProcessingTime:
		return s.AudioProcessingTime
	case MetricQueueDepth:
		return s.QueueDepth
	case MetricErrorRate:
		return s.ErrorRate
	default:
		return 0
	}
}

// vector returns the snapshot as a feature vector in metricNames order.
func (s *Snapshot) vector() []float64 {
	out := make([]float64, len(metricNames))
	for i, name := range metricNames {
		out[i] = s.metric(name)
	}
	return out
}
