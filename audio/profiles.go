package audio

import "time"

// Environment classifies the current acoustic surroundings.
type Environment int

const (
	EnvQuiet Environment = iota
	EnvNormal
	EnvNoisy
	EnvVeryNoisy
)

func (e Environment) String() string {
	switch e {
	case EnvQuiet:
		return "quiet"
	case EnvNormal:
		return "normal"
	case EnvNoisy:
		return "noisy"
	case EnvVeryNoisy:
		return "very_noisy"
	default:
		return "unknown"
	}
}

// environments lists every variant; profiles must cover all of them.
var environments = []Environment{EnvQuiet, EnvNormal, EnvNoisy, EnvVeryNoisy}

// classifyEnvironment maps noise level and estimated SNR onto an
// environment label with fixed rule thresholds.
func classifyEnvironment(noiseDB, snrDB float64) Environment {
	switch {
	case noiseDB < -50 && snrDB > 20:
		return EnvQuiet
	case noiseDB < -30:
		return EnvNormal
	case noiseDB < -15 || snrDB > 10:
		return EnvNoisy
	default:
		return EnvVeryNoisy
	}
}

// Thresholds is a bundle of detection parameters. One current instance is
// mutated in place by adaptation; each profile holds an immutable optimal
// baseline.
type Thresholds struct {
	Detection      float64       `json:"detection"`
	Confidence     float64       `json:"confidence"`
	NoiseGate      float64       `json:"noise_gate"`
	GainAdjustment float64       `json:"gain_adjustment"`
	Timeout        time.Duration `json:"timeout"`
	Sensitivity    float64       `json:"sensitivity"`
}

// Profile bundles the threshold baseline and historical performance for
// one environment.
type Profile struct {
	Environment       Environment   `json:"environment"`
	AvgNoiseLevel     float64       `json:"avg_noise_level"`
	TypicalSNR        float64       `json:"typical_snr"`
	OptimalThresholds Thresholds    `json:"optimal_thresholds"`
	AdaptationHistory []float64     `json:"adaptation_history"`
	PerformanceScore  float64       `json:"performance_score"`
}

// defaultProfiles returns the builtin profile set, one per environment.
func defaultProfiles() map[Environment]*Profile {
	return map[Environment]*Profile{
		EnvQuiet: {
			Environment:   EnvQuiet,
			AvgNoiseLevel: -60,
			TypicalSNR:    30,
			OptimalThresholds: Thresholds{
				Detection:      0.35,
				Confidence:     0.45,
				NoiseGate:      0.01,
				GainAdjustment: 1.0,
				Timeout:        3 * time.Second,
				Sensitivity:    0.8,
			},
			PerformanceScore: 0.8,
		},
		EnvNormal: {
			Environment:   EnvNormal,
			AvgNoiseLevel: -40,
			TypicalSNR:    20,
			OptimalThresholds: Thresholds{
				Detection:      0.45,
				Confidence:     0.55,
				NoiseGate:      0.02,
				GainAdjustment: 1.0,
				Timeout:        3 * time.Second,
				Sensitivity:    0.7,
			},
			PerformanceScore: 0.8,
		},
		EnvNoisy: {
			Environment:   EnvNoisy,
			AvgNoiseLevel: -25,
			TypicalSNR:    12,
			OptimalThresholds: Thresholds{
				Detection:      0.55,
				Confidence:     0.65,
				NoiseGate:      0.05,
				GainAdjustment: 1.2,
				Timeout:        4 * time.Second,
				Sensitivity:    0.6,
			},
			PerformanceScore: 0.8,
		},
		EnvVeryNoisy: {
			Environment:   EnvVeryNoisy,
			AvgNoiseLevel: -10,
			TypicalSNR:    6,
			OptimalThresholds: Thresholds{
				Detection:      0.65,
				Confidence:     0.75,
				NoiseGate:      0.1,
				GainAdjustment: 1.5,
				Timeout:        5 * time.Second,
				Sensitivity:    0.5,
			},
			PerformanceScore: 0.8,
		},
	}
}

// environmentWeights scale detection thresholds up as the surroundings get
// louder.
var environmentWeights = map[Environment]float64{
	EnvQuiet:     0.85,
	EnvNormal:    1.0,
	EnvNoisy:     1.2,
	EnvVeryNoisy: 1.45,
}

// modeWeights scale thresholds by adaptation mode: conservative trades
// sensitivity for fewer false positives, aggressive does the opposite.
var modeWeights = map[string]float64{
	"conservative": 1.15,
	"balanced":     1.0,
	"aggressive":   0.9,
}

// snrWeight fine-tunes thresholds by estimated SNR: poor SNR raises them,
// generous SNR relaxes them slightly.
func snrWeight(snrDB float64) float64 {
	switch {
	case snrDB < 10:
		return 1.0 + (10-snrDB)/50
	case snrDB > 25:
		return 0.95
	default:
		return 1.0
	}
}
