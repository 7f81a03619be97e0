package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the optimization core.
//
// A Config is a value snapshot: components receive their own copy (via
// Clone) at construction time and never observe later mutations. Updates
// are applied by building a new snapshot and handing it to each consumer
// explicitly.
type Config struct {
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
	Monitor      MonitorConfig      `yaml:"monitor" json:"monitor"`
	Audio        AudioConfig        `yaml:"audio" json:"audio"`
	Tuning       TuningConfig       `yaml:"tuning" json:"tuning"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
}

// CacheConfig configures the intelligent model cache.
type CacheConfig struct {
	// Memory budget for cached model handles. Eviction runs before every
	// insert so usage never exceeds this limit.
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes" json:"memory_limit_bytes"`

	// Capacity of the usage-event ring buffer.
	UsageHistorySize int `yaml:"usage_history_size" json:"usage_history_size"`

	// Half-life for the exponential recency decay in value scoring.
	RecencyHalfLife time.Duration `yaml:"recency_half_life" json:"recency_half_life"`

	// Number of recent accesses over which frequency is normalized.
	FrequencyWindow int `yaml:"frequency_window" json:"frequency_window"`

	// Load time treated as "maximally expensive" when normalizing the
	// load-savings component of the value score.
	ReferenceLoadTime time.Duration `yaml:"reference_load_time" json:"reference_load_time"`

	// Blend weights for the value score. Should sum to roughly 1.
	RecencyWeight     float64 `yaml:"recency_weight" json:"recency_weight"`
	FrequencyWeight   float64 `yaml:"frequency_weight" json:"frequency_weight"`
	LoadSavingsWeight float64 `yaml:"load_savings_weight" json:"load_savings_weight"`

	// Penalty weight applied to an entry's share of the memory budget when
	// ranking entries for eviction.
	MemoryCostWeight float64 `yaml:"memory_cost_weight" json:"memory_cost_weight"`

	// The next-model predictor is retrained after this many recorded
	// usage events.
	PredictorRetrainEvents int `yaml:"predictor_retrain_events" json:"predictor_retrain_events"`

	// Minimum predicted probability for a model to be preloaded.
	PredictionThreshold float64 `yaml:"prediction_threshold" json:"prediction_threshold"`

	// Maximum number of models preloaded after an insert.
	PreloadTopK int `yaml:"preload_top_k" json:"preload_top_k"`
}

// MetricThreshold defines static alert bounds for one monitored metric.
// LowerIsBad inverts the comparison (used for cache hit rate, where low
// values are the problem).
type MetricThreshold struct {
	Warning    float64 `yaml:"warning" json:"warning"`
	Critical   float64 `yaml:"critical" json:"critical"`
	LowerIsBad bool    `yaml:"lower_is_bad" json:"lower_is_bad"`
}

// MonitorConfig configures the performance monitor.
type MonitorConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`

	// Maximum number of snapshots retained in history.
	HistorySize int `yaml:"history_size" json:"history_size"`

	// Rolling window used for per-metric baselines (mean/std).
	BaselineWindow int `yaml:"baseline_window" json:"baseline_window"`

	// Anomaly scoring does not run until this many samples exist.
	AnomalyWarmupSamples int `yaml:"anomaly_warmup_samples" json:"anomaly_warmup_samples"`

	// The anomaly detector is retrained every this many snapshots.
	AnomalyRetrainInterval int `yaml:"anomaly_retrain_interval" json:"anomaly_retrain_interval"`

	// Minimum ensemble decision score magnitude for an anomaly alert.
	AnomalyScoreThreshold float64 `yaml:"anomaly_score_threshold" json:"anomaly_score_threshold"`

	// Per-metric cooldown between alerts for the same metric.
	AlertCooldown time.Duration `yaml:"alert_cooldown" json:"alert_cooldown"`

	// Static warning/critical bounds keyed by metric name.
	Thresholds map[string]MetricThreshold `yaml:"thresholds" json:"thresholds"`
}

// AudioConfig configures the adaptive audio controller.
type AudioConfig struct {
	// Minimum time between adaptation checks.
	AdaptationInterval time.Duration `yaml:"adaptation_interval" json:"adaptation_interval"`

	// Adaptation mode: "conservative", "balanced" or "aggressive".
	AdaptationMode string `yaml:"adaptation_mode" json:"adaptation_mode"`

	// Number of recent confidence samples considered by the adaptation
	// check.
	ConfidenceWindow int `yaml:"confidence_window" json:"confidence_window"`

	// Number of recent environment labels checked for instability.
	EnvironmentWindow int `yaml:"environment_window" json:"environment_window"`

	// Mean confidence below this value triggers adaptation.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`

	// Performance score the adaptation nudges thresholds toward.
	TargetScore float64 `yaml:"target_score" json:"target_score"`

	// Step size for threshold nudges.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`

	// EMA smoothing factor for per-profile performance scores.
	ProfileEMAAlpha float64 `yaml:"profile_ema_alpha" json:"profile_ema_alpha"`
}

// TuningConfig configures the auto-tuner.
type TuningConfig struct {
	// Hard budget on evaluated trials per optimization run.
	MaxEvaluations int `yaml:"max_evaluations" json:"max_evaluations"`

	// Trials sampled uniformly at random before the surrogate model is
	// consulted.
	BootstrapTrials int `yaml:"bootstrap_trials" json:"bootstrap_trials"`

	// Random candidates scored by the surrogate per trial.
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`

	// Margin subtracted from predicted improvement in the acquisition
	// criterion.
	ExplorationMargin float64 `yaml:"exploration_margin" json:"exploration_margin"`

	// Convergence: stop early when the best-score range over this many
	// trailing trials drops below ConvergenceEpsilon.
	ConvergenceWindow  int     `yaml:"convergence_window" json:"convergence_window"`
	ConvergenceEpsilon float64 `yaml:"convergence_epsilon" json:"convergence_epsilon"`

	// Stop after this many consecutive non-improving trials.
	MaxNonImproving int `yaml:"max_non_improving" json:"max_non_improving"`

	// Cooperative yield between trials.
	TrialYield time.Duration `yaml:"trial_yield" json:"trial_yield"`
}

// OrchestratorConfig configures the optimization orchestrator.
type OrchestratorConfig struct {
	// Coordination loop tick.
	Tick time.Duration `yaml:"tick" json:"tick"`

	// Overall performance score below this value raises the degradation
	// trigger.
	DegradationThreshold float64 `yaml:"degradation_threshold" json:"degradation_threshold"`

	// Cache hit rate below this value raises the cache-inefficiency
	// trigger.
	CacheHitRateThreshold float64 `yaml:"cache_hit_rate_threshold" json:"cache_hit_rate_threshold"`

	// Elapsed time since the last tuning run after which the
	// parameter-optimization trigger fires.
	TuningDueInterval time.Duration `yaml:"tuning_due_interval" json:"tuning_due_interval"`

	// Interval for the unconditional comprehensive tuning pass.
	AutoOptimizationInterval time.Duration `yaml:"auto_optimization_interval" json:"auto_optimization_interval"`

	// Component enable flags.
	EnableCache   bool `yaml:"enable_cache" json:"enable_cache"`
	EnableMonitor bool `yaml:"enable_monitor" json:"enable_monitor"`
	EnableAudio   bool `yaml:"enable_audio" json:"enable_audio"`
	EnableTuner   bool `yaml:"enable_tuner" json:"enable_tuner"`
}

// Validate checks the configuration for values that would break the
// optimization core at runtime.
func (c *Config) Validate() error {
	if c.Cache.MemoryLimitBytes <= 0 {
		return fmt.Errorf("cache: memory_limit_bytes must be positive, got %d", c.Cache.MemoryLimitBytes)
	}
	if c.Cache.UsageHistorySize <= 0 {
		return fmt.Errorf("cache: usage_history_size must be positive, got %d", c.Cache.UsageHistorySize)
	}
	if c.Cache.RecencyHalfLife <= 0 {
		return fmt.Errorf("cache: recency_half_life must be positive")
	}
	if c.Cache.FrequencyWindow <= 0 {
		return fmt.Errorf("cache: frequency_window must be positive")
	}
	if c.Cache.PredictorRetrainEvents <= 0 {
		return fmt.Errorf("cache: predictor_retrain_events must be positive")
	}
	if c.Cache.PredictionThreshold < 0 || c.Cache.PredictionThreshold > 1 {
		return fmt.Errorf("cache: prediction_threshold must be in [0,1], got %f", c.Cache.PredictionThreshold)
	}
	if c.Cache.PreloadTopK < 0 {
		return fmt.Errorf("cache: preload_top_k must be non-negative")
	}

	if c.Monitor.SampleInterval <= 0 {
		return fmt.Errorf("monitor: sample_interval must be positive")
	}
	if c.Monitor.BaselineWindow <= 1 {
		return fmt.Errorf("monitor: baseline_window must be greater than 1")
	}
	if c.Monitor.HistorySize < c.Monitor.BaselineWindow {
		return fmt.Errorf("monitor: history_size must be at least baseline_window")
	}
	if c.Monitor.AnomalyWarmupSamples <= 0 || c.Monitor.AnomalyRetrainInterval <= 0 {
		return fmt.Errorf("monitor: anomaly warmup and retrain interval must be positive")
	}
	if c.Monitor.AlertCooldown <= 0 {
		return fmt.Errorf("monitor: alert_cooldown must be positive")
	}
	for name, th := range c.Monitor.Thresholds {
		if th.LowerIsBad {
			if th.Critical > th.Warning {
				return fmt.Errorf("monitor: threshold %q is lower-is-bad but critical %f > warning %f", name, th.Critical, th.Warning)
			}
		} else if th.Critical < th.Warning {
			return fmt.Errorf("monitor: threshold %q has critical %f < warning %f", name, th.Critical, th.Warning)
		}
	}

	switch c.Audio.AdaptationMode {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("audio: unknown adaptation_mode %q", c.Audio.AdaptationMode)
	}
	if c.Audio.AdaptationInterval <= 0 {
		return fmt.Errorf("audio: adaptation_interval must be positive")
	}
	if c.Audio.ConfidenceWindow <= 0 || c.Audio.EnvironmentWindow <= 0 {
		return fmt.Errorf("audio: confidence_window and environment_window must be positive")
	}
	if c.Audio.MinConfidence < 0 || c.Audio.MinConfidence > 1 {
		return fmt.Errorf("audio: min_confidence must be in [0,1]")
	}
	if c.Audio.TargetScore <= 0 || c.Audio.TargetScore > 1 {
		return fmt.Errorf("audio: target_score must be in (0,1]")
	}
	if c.Audio.LearningRate <= 0 || c.Audio.LearningRate > 1 {
		return fmt.Errorf("audio: learning_rate must be in (0,1]")
	}
	if c.Audio.ProfileEMAAlpha <= 0 || c.Audio.ProfileEMAAlpha > 1 {
		return fmt.Errorf("audio: profile_ema_alpha must be in (0,1]")
	}

	if c.Tuning.MaxEvaluations <= 0 {
		return fmt.Errorf("tuning: max_evaluations must be positive")
	}
	if c.Tuning.BootstrapTrials <= 0 || c.Tuning.BootstrapTrials > c.Tuning.MaxEvaluations {
		return fmt.Errorf("tuning: bootstrap_trials must be in [1, max_evaluations]")
	}
	if c.Tuning.CandidatePool <= 0 {
		return fmt.Errorf("tuning: candidate_pool must be positive")
	}
	if c.Tuning.ConvergenceWindow <= 1 {
		return fmt.Errorf("tuning: convergence_window must be greater than 1")
	}
	if c.Tuning.ConvergenceEpsilon < 0 {
		return fmt.Errorf("tuning: convergence_epsilon must be non-negative")
	}
	if c.Tuning.MaxNonImproving <= 0 {
		return fmt.Errorf("tuning: max_non_improving must be positive")
	}

	if c.Orchestrator.Tick <= 0 {
		return fmt.Errorf("orchestrator: tick must be positive")
	}
	if c.Orchestrator.DegradationThreshold < 0 || c.Orchestrator.DegradationThreshold > 1 {
		return fmt.Errorf("orchestrator: degradation_threshold must be in [0,1]")
	}
	if c.Orchestrator.CacheHitRateThreshold < 0 || c.Orchestrator.CacheHitRateThreshold > 1 {
		return fmt.Errorf("orchestrator: cache_hit_rate_threshold must be in [0,1]")
	}
	if c.Orchestrator.TuningDueInterval <= 0 || c.Orchestrator.AutoOptimizationInterval <= 0 {
		return fmt.Errorf("orchestrator: tuning intervals must be positive")
	}

	return nil
}

// Clone returns a deep copy sharing no maps or slices with the receiver.
func (c Config) Clone() Config {
	out := c
	if c.Monitor.Thresholds != nil {
		out.Monitor.Thresholds = make(map[string]MetricThreshold, len(c.Monitor.Thresholds))
		for k, v := range c.Monitor.Thresholds {
			out.Monitor.Thresholds[k] = v
		}
	}
	return out
}
