package audio

import (
	"math"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

var log = logging.Logger("audio")

// DefaultSampleRate is assumed when no rate is supplied.
const DefaultSampleRate = 16000.0

// Detection is the outcome of scoring one audio frame.
type Detection struct {
	Detected    bool        `json:"detected"`
	Confidence  float64     `json:"confidence"`
	Score       float64     `json:"score"`
	Environment Environment `json:"environment"`
	// Effective detection threshold the frame was compared against,
	// after environment, mode and SNR adjustment.
	Threshold float64 `json:"threshold"`
}

// EnvironmentStatus is a read-only view of the controller's state.
type EnvironmentStatus struct {
	Environment      Environment `json:"environment"`
	Thresholds       Thresholds  `json:"thresholds"`
	PerformanceScore float64     `json:"performance_score"`
	FramesProcessed  int64       `json:"frames_processed"`
	FalsePositives   int64       `json:"false_positives"`
	FalseNegatives   int64       `json:"false_negatives"`
}

// ThresholdChangeCallback fires after adaptation mutates the current
// thresholds. EnvironmentChangeCallback fires when the active environment
// profile switches. Both are best-effort: panics are recovered and logged.
type (
	ThresholdChangeCallback   func(Thresholds)
	EnvironmentChangeCallback func(Environment)
)

// Controller adapts audio detection thresholds to the acoustic
// environment. Each frame is scored against the active profile's
// environment-adjusted thresholds; a rate-limited background check nudges
// the thresholds from observed performance.
type Controller struct {
	mu  sync.Mutex
	cfg config.AudioConfig

	sampleRate float64
	current    Thresholds
	profiles   map[Environment]*Profile
	activeEnv  Environment

	confidences []float64
	envHistory  []Environment

	falsePositives int64
	falseNegatives int64
	labeledFrames  int64
	frames         int64
	processingEMA  float64 // seconds
	perfScore      float64

	lastAdaptation time.Time

	thresholdCbs []ThresholdChangeCallback
	envCbs       []EnvironmentChangeCallback
}

// NewController creates a controller starting in the normal environment.
func NewController(cfg config.AudioConfig) *Controller {
	profiles := defaultProfiles()
	return &Controller{
		cfg:        cfg,
		sampleRate: DefaultSampleRate,
		profiles:   profiles,
		activeEnv:  EnvNormal,
		current:    profiles[EnvNormal].OptimalThresholds,
		perfScore:  profiles[EnvNormal].PerformanceScore,
	}
}

// AddThresholdChangeCallback registers a callback for threshold changes.
func (c *Controller) AddThresholdChangeCallback(fn ThresholdChangeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholdCbs = append(c.thresholdCbs, fn)
}

// AddEnvironmentChangeCallback registers a callback for environment
// switches.
func (c *Controller) AddEnvironmentChangeCallback(fn EnvironmentChangeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envCbs = append(c.envCbs, fn)
}

// ProcessFrame scores one frame. groundTruth, when supplied, marks whether
// the frame actually contained the wake phrase and feeds the false
// positive/negative counters.
func (c *Controller) ProcessFrame(frame []float64, groundTruth *bool) Detection {
	start := time.Now()

	f := extractFeatures(frame, c.sampleRate)
	noiseDB := noiseLevelDB(f)
	snrDB := estimateSNR(frame, f)
	env := classifyEnvironment(noiseDB, snrDB)

	c.mu.Lock()

	c.frames++
	c.envHistory = append(c.envHistory, env)
	if max := c.cfg.EnvironmentWindow * 2; len(c.envHistory) > max {
		c.envHistory = c.envHistory[len(c.envHistory)-max:]
	}

	adjust := environmentWeights[env] * modeWeights[c.cfg.AdaptationMode] * snrWeight(snrDB)
	effDetection := clamp(c.current.Detection*adjust, 0.01, 0.99)
	effConfidence := clamp(c.current.Confidence*adjust, 0.01, 0.99)

	score := detectionScore(f, snrDB, c.current)
	confidence := clamp(score*(0.7+0.3*clamp(snrDB/30, 0, 1)), 0, 1)
	detected := score >= effDetection && confidence >= effConfidence

	if groundTruth != nil {
		c.labeledFrames++
		if detected && !*groundTruth {
			c.falsePositives++
		}
		if !detected && *groundTruth {
			c.falseNegatives++
		}
	}

	c.confidences = append(c.confidences, confidence)
	if max := c.cfg.ConfidenceWindow * 5; len(c.confidences) > max {
		c.confidences = c.confidences[len(c.confidences)-max:]
	}

	elapsed := time.Since(start).Seconds()
	c.processingEMA = 0.9*c.processingEMA + 0.1*elapsed

	var thresholdsChanged *Thresholds
	var envChanged *Environment
	if start.Sub(c.lastAdaptation) >= c.cfg.AdaptationInterval {
		c.lastAdaptation = start
		thresholdsChanged, envChanged = c.maybeAdaptLocked()
	}

	thresholdCbs := c.thresholdCbs
	envCbs := c.envCbs
	c.mu.Unlock()

	if envChanged != nil {
		for _, cb := range envCbs {
			invokeEnvCallback(cb, *envChanged)
		}
	}
	if thresholdsChanged != nil {
		for _, cb := range thresholdCbs {
			invokeThresholdCallback(cb, *thresholdsChanged)
		}
	}

	return Detection{
		Detected:    detected,
		Confidence:  confidence,
		Score:       score,
		Environment: env,
		Threshold:   effDetection,
	}
}

// detectionScore blends the frame's energy, spectral and dynamic features
// into a single wake-likelihood score in [0,1], adjusted by SNR.
func detectionScore(f Features, snrDB float64, th Thresholds) float64 {
	if f.PeakAmplitude < th.NoiseGate {
		return 0
	}

	energyTerm := clamp(math.Sqrt(f.Energy)*4, 0, 1)
	spectralTerm := clamp(f.SpectralCentroid/4000, 0, 1)
	dynamicTerm := clamp(f.DynamicRange*2, 0, 1)
	peakTerm := clamp(f.PeakAmplitude, 0, 1)

	score := 0.45*energyTerm + 0.2*spectralTerm + 0.2*dynamicTerm + 0.15*peakTerm
	score *= th.Sensitivity * (0.8 + 0.2*clamp(snrDB/30, 0, 1))
	return clamp(score*th.GainAdjustment, 0, 1)
}

// maybeAdaptLocked runs the adaptation check: it fires when recent mean
// confidence is too low or the environment has been unstable, then nudges
// thresholds toward the target performance score and switches profiles if
// the dominant environment changed.
func (c *Controller) maybeAdaptLocked() (*Thresholds, *Environment) {
	meanConf, stability := c.confidenceStatsLocked()
	unstable := c.environmentUnstableLocked()

	if len(c.confidences) > 0 && meanConf >= c.cfg.MinConfidence && !unstable {
		return nil, nil
	}
	if len(c.confidences) == 0 && !unstable {
		return nil, nil
	}

	errRate := 0.0
	if c.labeledFrames > 0 {
		errRate = float64(c.falsePositives+c.falseNegatives) / float64(c.labeledFrames)
	}
	procPenalty := clamp(c.processingEMA/0.05, 0, 1)

	perf := 0.4*meanConf + 0.2*stability + 0.2*(1-procPenalty) + 0.2*(1-errRate)
	c.perfScore = perf

	// Below-target performance relaxes thresholds (more sensitive);
	// above-target tightens them. Gain moves inversely.
	adjust := (perf - c.cfg.TargetScore) * c.cfg.LearningRate
	c.current.Detection = clamp(c.current.Detection*(1+adjust), 0.05, 0.95)
	c.current.Confidence = clamp(c.current.Confidence*(1+adjust), 0.05, 0.95)
	c.current.GainAdjustment = clamp(c.current.GainAdjustment*(1-adjust), 0.25, 4.0)

	var envChanged *Environment
	if dominant := c.dominantEnvironmentLocked(); dominant != c.activeEnv {
		old := c.activeEnv
		c.activeEnv = dominant
		c.current = c.profiles[dominant].OptimalThresholds
		envChanged = &dominant
		log.Infof("audio environment switched %s -> %s", old, dominant)
	}

	p := c.profiles[c.activeEnv]
	p.PerformanceScore = (1-c.cfg.ProfileEMAAlpha)*p.PerformanceScore + c.cfg.ProfileEMAAlpha*perf
	p.AdaptationHistory = append(p.AdaptationHistory, perf)
	if len(p.AdaptationHistory) > 100 {
		p.AdaptationHistory = p.AdaptationHistory[len(p.AdaptationHistory)-100:]
	}

	th := c.current
	log.Debugf("audio adaptation: perf=%.3f detection=%.3f confidence=%.3f env=%s",
		perf, th.Detection, th.Confidence, c.activeEnv)
	return &th, envChanged
}

func (c *Controller) confidenceStatsLocked() (mean, stability float64) {
	window := c.confidences
	if len(window) > c.cfg.ConfidenceWindow {
		window = window[len(window)-c.cfg.ConfidenceWindow:]
	}
	if len(window) == 0 {
		return 0, 0
	}
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(window))
	return mean, clamp(1-math.Sqrt(variance)*2, 0, 1)
}

// environmentUnstableLocked reports whether the environment label moved
// around too much over the recent window.
func (c *Controller) environmentUnstableLocked() bool {
	window := c.envHistory
	if len(window) > c.cfg.EnvironmentWindow {
		window = window[len(window)-c.cfg.EnvironmentWindow:]
	}
	if len(window) < 2 {
		return false
	}
	changes := 0
	for i := 1; i < len(window); i++ {
		if window[i] != window[i-1] {
			changes++
		}
	}
	return changes >= 3
}

func (c *Controller) dominantEnvironmentLocked() Environment {
	window := c.envHistory
	if len(window) > c.cfg.EnvironmentWindow {
		window = window[len(window)-c.cfg.EnvironmentWindow:]
	}
	if len(window) == 0 {
		return c.activeEnv
	}
	counts := make(map[Environment]int)
	for _, e := range window {
		counts[e]++
	}
	dominant := c.activeEnv
	best := 0
	for _, e := range environments {
		if counts[e] > best {
			best = counts[e]
			dominant = e
		}
	}
	return dominant
}

// EffectiveDetectionThreshold returns the detection threshold that would
// apply in the given environment with neutral SNR, from the current
// thresholds.
func (c *Controller) EffectiveDetectionThreshold(env Environment) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	adjust := environmentWeights[env] * modeWeights[c.cfg.AdaptationMode]
	return clamp(c.current.Detection*adjust, 0.01, 0.99)
}

// EnvironmentStatus returns a read-only view of the controller's state.
func (c *Controller) EnvironmentStatus() EnvironmentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EnvironmentStatus{
		Environment:      c.activeEnv,
		Thresholds:       c.current,
		PerformanceScore: c.perfScore,
		FramesProcessed:  c.frames,
		FalsePositives:   c.falsePositives,
		FalseNegatives:   c.falseNegatives,
	}
}

// PerformanceScore returns the most recent adaptation performance score.
func (c *Controller) PerformanceScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perfScore
}

// ResetPerformanceCounters clears the error counters and rolling buffers.
// The orchestrator invokes this as the corrective action for environment
// instability.
func (c *Controller) ResetPerformanceCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.falsePositives = 0
	c.falseNegatives = 0
	c.labeledFrames = 0
	c.confidences = c.confidences[:0]
	c.envHistory = c.envHistory[:0]
	log.Debug("audio performance counters reset")
}

// Profiles returns a copy of the profile table for inspection.
func (c *Controller) Profiles() map[Environment]Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Environment]Profile, len(c.profiles))
	for env, p := range c.profiles {
		cp := *p
		cp.AdaptationHistory = append([]float64(nil), p.AdaptationHistory...)
		out[env] = cp
	}
	return out
}

func invokeThresholdCallback(cb ThresholdChangeCallback, th Thresholds) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("threshold change callback panicked: %v", r)
		}
	}()
	cb(th)
}

func invokeEnvCallback(cb EnvironmentChangeCallback, env Environment) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("environment change callback panicked: %v", r)
		}
	}()
	cb(env)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
