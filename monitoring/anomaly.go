package monitoring

import (
	"errors"
	"math"
)

// errNotEnoughSamples is returned by retrain when the training window is
// too small to estimate per-metric spread.
var errNotEnoughSamples = errors.New("not enough samples to train anomaly detector")

// anomalyScore is the result of scoring one snapshot against the trained
// ensemble.
type anomalyScore struct {
	// Mean absolute z-score across all metrics.
	score float64
	// Whether any single metric deviated far enough to flag the sample.
	anomalous bool
	// Metric with the greatest normalized deviation from baseline.
	worstMetric string
	worstZ      float64
	// Baseline stats for the worst metric, for the alert's expected range.
	worstMean float64
	worstStd  float64
}

// anomalyDetector is a z-score ensemble over the monitored metrics. Each
// metric contributes one detector (its rolling mean/std from the training
// window); the ensemble decision score is the mean absolute z-score and a
// sample is flagged when any metric's deviation passes flagSigma.
type anomalyDetector struct {
	trained bool
	means   []float64
	stds    []float64

	// Per-metric deviation (in standard deviations) that flags a sample.
	flagSigma float64
}

func newAnomalyDetector() *anomalyDetector {
	return &anomalyDetector{flagSigma: 3.0}
}

// retrain fits the ensemble on the given feature vectors. On error the
// previous fit is discarded so anomaly alerts degrade to pass-through
// until the next successful retrain.
func (d *anomalyDetector) retrain(vectors [][]float64) error {
	if len(vectors) < 2 {
		d.trained = false
		return errNotEnoughSamples
	}

	n := len(metricNames)
	means := make([]float64, n)
	stds := make([]float64, n)

	for _, v := range vectors {
		for i := 0; i < n; i++ {
			means[i] += v[i]
		}
	}
	for i := range means {
		means[i] /= float64(len(vectors))
	}
	for _, v := range vectors {
		for i := 0; i < n; i++ {
			diff := v[i] - means[i]
			stds[i] += diff * diff
		}
	}
	for i := range stds {
		stds[i] = math.Sqrt(stds[i] / float64(len(vectors)))
	}

	d.means = means
	d.stds = stds
	d.trained = true
	return nil
}

// score evaluates one snapshot vector against the trained ensemble.
func (d *anomalyDetector) score(vector []float64) anomalyScore {
	if !d.trained {
		return anomalyScore{}
	}

	var res anomalyScore
	sum := 0.0
	for i := range metricNames {
		std := d.stds[i]
		if std == 0 {
			// A constant metric cannot deviate; skip it rather than
			// divide by zero.
			continue
		}
		z := math.Abs(vector[i]-d.means[i]) / std
		sum += z
		if z > res.worstZ {
			res.worstZ = z
			res.worstMetric = metricNames[i]
			res.worstMean = d.means[i]
			res.worstStd = std
		}
		if z > d.flagSigma {
			res.anomalous = true
		}
	}
	res.score = sum / float64(len(metricNames))
	return res
}
