package audio

import (
	"math"
	"sort"
)

// Features is the per-frame feature vector driving environment
// classification and detection scoring.
type Features struct {
	Energy           float64 `json:"energy"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	PeakAmplitude    float64 `json:"peak_amplitude"`
	DynamicRange     float64 `json:"dynamic_range"`
}

const epsilon = 1e-10

// extractFeatures computes the feature vector for one frame of samples in
// [-1, 1]. The spectral centroid uses the first-difference estimate
// (sqrt of diff-energy over energy, scaled to Nyquist) rather than a full
// transform; the rolloff is derived from it.
func extractFeatures(frame []float64, sampleRate float64) Features {
	if len(frame) == 0 {
		return Features{}
	}

	var energy, diffEnergy, sumAbs, peak float64
	crossings := 0
	for i, x := range frame {
		energy += x * x
		a := math.Abs(x)
		sumAbs += a
		if a > peak {
			peak = a
		}
		if i > 0 {
			d := x - frame[i-1]
			diffEnergy += d * d
			if (x >= 0) != (frame[i-1] >= 0) {
				crossings++
			}
		}
	}
	n := float64(len(frame))
	energy /= n
	meanAbs := sumAbs / n

	centroid := 0.0
	if energy > epsilon {
		centroid = math.Sqrt(diffEnergy/(energy*n)) / (2 * math.Pi) * sampleRate
	}
	rolloff := centroid * 1.8
	if nyquist := sampleRate / 2; rolloff > nyquist {
		rolloff = nyquist
	}

	return Features{
		Energy:           energy,
		ZeroCrossingRate: float64(crossings) / math.Max(n-1, 1),
		SpectralCentroid: centroid,
		SpectralRolloff:  rolloff,
		PeakAmplitude:    peak,
		DynamicRange:     peak - meanAbs,
	}
}

// noiseLevelDB estimates the frame's noise level in dBFS from its RMS.
func noiseLevelDB(f Features) float64 {
	return 20 * math.Log10(math.Sqrt(f.Energy)+epsilon)
}

// estimateSNR estimates the signal-to-noise ratio in dB, taking the
// quietest quartile of sample magnitudes as the noise floor.
func estimateSNR(frame []float64, f Features) float64 {
	if len(frame) == 0 {
		return 0
	}
	mags := make([]float64, len(frame))
	for i, x := range frame {
		mags[i] = math.Abs(x)
	}
	sort.Float64s(mags)

	quartile := len(mags) / 4
	if quartile == 0 {
		quartile = 1
	}
	floor := 0.0
	for _, m := range mags[:quartile] {
		floor += m
	}
	floor /= float64(quartile)

	return 20 * math.Log10((f.PeakAmplitude+epsilon)/(floor+epsilon))
}
