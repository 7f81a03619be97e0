package audio

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		AdaptationInterval: time.Nanosecond,
		AdaptationMode:     "balanced",
		ConfidenceWindow:   4,
		EnvironmentWindow:  4,
		MinConfidence:      0.6,
		TargetScore:        0.8,
		LearningRate:       0.1,
		ProfileEMAAlpha:    0.1,
	}
}

// quietFrame is near-silence with two faint clicks.
func quietFrame() []float64 {
	frame := make([]float64, 1024)
	frame[100], frame[500] = 0.002, -0.002
	return frame
}

// veryNoisyFrame has every sample magnitude in [0.6, 0.9], so the noise
// floor sits close to the peak and the estimated SNR is poor.
func veryNoisyFrame() []float64 {
	rng := rand.New(rand.NewSource(42))
	frame := make([]float64, 1024)
	for i := range frame {
		v := 0.6 + 0.3*rng.Float64()
		if i%2 == 1 {
			v = -v
		}
		frame[i] = v
	}
	return frame
}

// spikyFrame is mostly silence with a few strong transients.
func spikyFrame() []float64 {
	frame := make([]float64, 1024)
	for _, i := range []int{100, 300, 600, 900} {
		frame[i] = 0.9
	}
	return frame
}

func TestProcessFrameClassifiesEnvironment(t *testing.T) {
	c := NewController(testAudioConfig())

	quiet := c.ProcessFrame(quietFrame(), nil)
	assert.Equal(t, EnvQuiet, quiet.Environment)

	noisy := c.ProcessFrame(veryNoisyFrame(), nil)
	assert.Equal(t, EnvVeryNoisy, noisy.Environment)

	// A louder environment demands a higher bar for detection.
	assert.Greater(t, noisy.Threshold, quiet.Threshold)
}

func TestEffectiveThresholdRisesWithNoise(t *testing.T) {
	c := NewController(testAudioConfig())

	quiet := c.EffectiveDetectionThreshold(EnvQuiet)
	normal := c.EffectiveDetectionThreshold(EnvNormal)
	noisy := c.EffectiveDetectionThreshold(EnvNoisy)
	veryNoisy := c.EffectiveDetectionThreshold(EnvVeryNoisy)

	assert.Less(t, quiet, normal)
	assert.Less(t, normal, noisy)
	assert.Less(t, noisy, veryNoisy)
}

func TestAdaptationModeShiftsThresholds(t *testing.T) {
	conservative := testAudioConfig()
	conservative.AdaptationMode = "conservative"
	aggressive := testAudioConfig()
	aggressive.AdaptationMode = "aggressive"

	high := NewController(conservative).EffectiveDetectionThreshold(EnvNormal)
	low := NewController(aggressive).EffectiveDetectionThreshold(EnvNormal)
	assert.Greater(t, high, low)
}

func TestGroundTruthCounters(t *testing.T) {
	c := NewController(testAudioConfig())

	// Silence never detects: a true wake phrase there is a false negative.
	truth := true
	c.ProcessFrame(make([]float64, 1024), &truth)

	st := c.EnvironmentStatus()
	assert.Equal(t, int64(1), st.FalseNegatives)
	assert.Zero(t, st.FalsePositives)

	// With thresholds relaxed far enough, a spiky non-wake frame detects
	// and counts as a false positive.
	c.mu.Lock()
	c.current = Thresholds{
		Detection:      0.05,
		Confidence:     0.05,
		NoiseGate:      0.001,
		GainAdjustment: 1.5,
		Sensitivity:    1.0,
	}
	c.mu.Unlock()

	noTruth := false
	det := c.ProcessFrame(spikyFrame(), &noTruth)
	require.True(t, det.Detected)

	st = c.EnvironmentStatus()
	assert.Equal(t, int64(1), st.FalsePositives)
	assert.Equal(t, int64(2), st.FramesProcessed)
}

func TestEnvironmentSwitchFiresCallbacks(t *testing.T) {
	c := NewController(testAudioConfig())

	var envs []Environment
	c.AddEnvironmentChangeCallback(func(env Environment) { envs = append(envs, env) })

	var thresholdChanges int
	c.AddThresholdChangeCallback(func(Thresholds) { thresholdChanges++ })
	c.AddThresholdChangeCallback(func(Thresholds) { panic("broken subscriber") })

	frame := veryNoisyFrame()
	for i := 0; i < 6; i++ {
		c.ProcessFrame(frame, nil)
	}

	st := c.EnvironmentStatus()
	assert.Equal(t, EnvVeryNoisy, st.Environment)
	require.NotEmpty(t, envs)
	assert.Equal(t, EnvVeryNoisy, envs[0])
	assert.Greater(t, thresholdChanges, 0)
	assert.Equal(t, int64(6), st.FramesProcessed)
}

func TestStableConfidentStreamDoesNotAdapt(t *testing.T) {
	cfg := testAudioConfig()
	cfg.MinConfidence = 0.0 // any confidence is acceptable
	c := NewController(cfg)

	var thresholdChanges int
	c.AddThresholdChangeCallback(func(Thresholds) { thresholdChanges++ })

	frame := sineFrame(0.01, 440, 1024)
	for i := 0; i < 6; i++ {
		c.ProcessFrame(frame, nil)
	}

	assert.Zero(t, thresholdChanges)
	assert.Equal(t, EnvNormal, c.EnvironmentStatus().Environment)
}

func TestResetPerformanceCounters(t *testing.T) {
	c := NewController(testAudioConfig())

	truth := true
	c.ProcessFrame(make([]float64, 1024), &truth)
	require.Equal(t, int64(1), c.EnvironmentStatus().FalseNegatives)

	c.ResetPerformanceCounters()
	st := c.EnvironmentStatus()
	assert.Zero(t, st.FalseNegatives)
	assert.Zero(t, st.FalsePositives)
}

func TestProfilesReturnsIsolatedCopy(t *testing.T) {
	c := NewController(testAudioConfig())

	profiles := c.Profiles()
	require.Len(t, profiles, len(environments))

	p := profiles[EnvQuiet]
	p.OptimalThresholds.Detection = 0.01
	profiles[EnvQuiet] = p

	assert.InDelta(t, 0.35, c.Profiles()[EnvQuiet].OptimalThresholds.Detection, 1e-9)
}
