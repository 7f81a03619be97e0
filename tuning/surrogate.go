package tuning

import (
	"errors"
	"math"
)

// errSingular is returned when the surrogate's normal equations cannot be
// solved for the observed trials.
var errSingular = errors.New("surrogate design matrix is singular")

// surrogate is a ridge-regularized linear model fit on
// (encoded parameters -> observed score) pairs. It guides candidate
// selection between evaluations; it is refit after every trial and a
// failed fit simply drops the search back to random sampling.
type surrogate struct {
	weights []float64   // bias first
	trainX  [][]float64 // retained for the uncertainty estimate
}

// fitSurrogate solves (XᵀX + λI)w = Xᵀy with a bias column prepended.
func fitSurrogate(features [][]float64, scores []float64, lambda float64) (*surrogate, error) {
	if len(features) == 0 || len(features) != len(scores) {
		return nil, errors.New("surrogate needs matching feature and score counts")
	}

	dim := len(features[0]) + 1
	a := make([][]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
		a[i][i] = lambda
	}
	b := make([]float64, dim)

	row := make([]float64, dim)
	for n, x := range features {
		row[0] = 1
		copy(row[1:], x)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a[i][j] += row[i] * row[j]
			}
			b[i] += row[i] * scores[n]
		}
	}

	weights, err := solveLinear(a, b)
	if err != nil {
		return nil, err
	}

	retained := make([][]float64, len(features))
	for i, x := range features {
		retained[i] = append([]float64(nil), x...)
	}
	return &surrogate{weights: weights, trainX: retained}, nil
}

// predict returns the model's mean score estimate for the encoded
// candidate and an uncertainty in [0,1] that grows with the candidate's
// distance from every training point.
func (s *surrogate) predict(x []float64) (mean, uncertainty float64) {
	mean = s.weights[0]
	for i, v := range x {
		mean += s.weights[i+1] * v
	}

	nearest := math.Inf(1)
	for _, t := range s.trainX {
		d := 0.0
		for i := range x {
			diff := x[i] - t[i]
			d += diff * diff
		}
		if d < nearest {
			nearest = d
		}
	}
	uncertainty = 1 - math.Exp(-math.Sqrt(nearest))
	return mean, uncertainty
}

// solveLinear solves a square system by Gaussian elimination with partial
// pivoting. The inputs are mutated.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}
