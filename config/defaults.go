package config

import "time"

// Default returns a configuration tuned for a single-host voice assistant
// workload. The numeric constants here are starting points, not invariants;
// deployments are expected to override them.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			MemoryLimitBytes:       2 << 30, // 2GB of resident model handles
			UsageHistorySize:       1000,
			RecencyHalfLife:        time.Hour,
			FrequencyWindow:        10,
			ReferenceLoadTime:      5 * time.Second,
			RecencyWeight:          0.4,
			FrequencyWeight:        0.3,
			LoadSavingsWeight:      0.3,
			MemoryCostWeight:       0.3,
			PredictorRetrainEvents: 50,
			PredictionThreshold:    0.3,
			PreloadTopK:            3,
		},
		Monitor: MonitorConfig{
			SampleInterval:         time.Second,
			HistorySize:            3600,
			BaselineWindow:         200,
			AnomalyWarmupSamples:   50,
			AnomalyRetrainInterval: 100,
			AnomalyScoreThreshold:  2.5,
			AlertCooldown:          60 * time.Second,
			Thresholds: map[string]MetricThreshold{
				"cpu_usage":             {Warning: 0.75, Critical: 0.90},
				"memory_usage":          {Warning: 0.80, Critical: 0.95},
				"inference_latency":     {Warning: 0.5, Critical: 1.0},
				"model_load_time":       {Warning: 5.0, Critical: 15.0},
				"cache_hit_rate":        {Warning: 0.5, Critical: 0.3, LowerIsBad: true},
				"audio_processing_time": {Warning: 0.05, Critical: 0.2},
				"queue_depth":           {Warning: 50, Critical: 200},
				"error_rate":            {Warning: 0.05, Critical: 0.15},
			},
		},
		Audio: AudioConfig{
			AdaptationInterval: 5 * time.Second,
			AdaptationMode:     "balanced",
			ConfidenceWindow:   20,
			EnvironmentWindow:  10,
			MinConfidence:      0.6,
			TargetScore:        0.8,
			LearningRate:       0.1,
			ProfileEMAAlpha:    0.1,
		},
		Tuning: TuningConfig{
			MaxEvaluations:     30,
			BootstrapTrials:    3,
			CandidatePool:      1000,
			ExplorationMargin:  0.01,
			ConvergenceWindow:  10,
			ConvergenceEpsilon: 1e-3,
			MaxNonImproving:    10,
			TrialYield:         10 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			Tick:                     time.Second,
			DegradationThreshold:     0.5,
			CacheHitRateThreshold:    0.6,
			TuningDueInterval:        30 * time.Minute,
			AutoOptimizationInterval: time.Hour,
			EnableCache:              true,
			EnableMonitor:            true,
			EnableAudio:              true,
			EnableTuner:              true,
		},
	}
}
