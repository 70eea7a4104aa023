package optimizer

import (
	"errors"
	"math"
)

// gaussianProcess is a Gaussian process regressor over the unit cube with an RBF kernel.
// Observations are standardized before fitting; predictions are returned on the
// original scale. It is rebuilt from the trial history on every suggestion and is not
// shared between goroutines.
type gaussianProcess struct {
	// lengthScale is the RBF kernel width in unit-cube coordinates.
	lengthScale float64
	// noise is added to the kernel diagonal for numerical stability.
	noise float64

	x     [][]float64
	yMean float64
	yStd  float64
	chol  [][]float64
	alpha []float64
}

var errNotPositiveDefinite = errors.New("kernel matrix is not positive definite")

func newGaussianProcess(lengthScale, noise float64) *gaussianProcess {
	return &gaussianProcess{lengthScale: lengthScale, noise: noise}
}

// kernel computes k(x1, x2) = exp(-|x1 - x2|^2 / (2 l^2)).
func (gp *gaussianProcess) kernel(x1, x2 []float64) float64 {
	var sum float64
	for i := range x1 {
		d := x1[i] - x2[i]
		sum += d * d
	}
	return math.Exp(-sum / (2 * gp.lengthScale * gp.lengthScale))
}

// Fit conditions the process on observations.
func (gp *gaussianProcess) Fit(x [][]float64, y []float64) error {
	n := len(x)
	gp.x = x
	gp.yMean, gp.yStd = meanStd(y)

	z := make([]float64, n)
	for i := range y {
		z[i] = (y[i] - gp.yMean) / gp.yStd
	}

	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			v := gp.kernel(x[i], x[j])
			k[i][j], k[j][i] = v, v
		}
		k[i][i] += gp.noise
	}

	l, err := cholesky(k)
	if err != nil {
		return err
	}
	gp.chol = l
	gp.alpha = solveUpper(l, solveLower(l, z))
	return nil
}

// Predict returns the posterior mean and variance at x.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	if len(gp.x) == 0 {
		return 0, 1
	}
	ks := make([]float64, len(gp.x))
	for i := range gp.x {
		ks[i] = gp.kernel(x, gp.x[i])
	}

	var m float64
	for i := range ks {
		m += ks[i] * gp.alpha[i]
	}

	v := solveLower(gp.chol, ks)
	variance = 1.0
	for i := range v {
		variance -= v[i] * v[i]
	}
	if variance < 1e-12 {
		variance = 1e-12
	}

	return gp.yMean + m*gp.yStd, variance * gp.yStd * gp.yStd
}

func meanStd(y []float64) (mean, std float64) {
	if len(y) == 0 {
		return 0, 1
	}
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	for _, v := range y {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(y)))
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return mean, std
}

// cholesky returns the lower triangular L with A = L L^T.
func cholesky(a [][]float64) ([][]float64, error) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, errNotPositiveDefinite
				}
				l[i][i] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, nil
}

// solveLower solves L x = b.
func solveLower(l [][]float64, b []float64) []float64 {
	x := make([]float64, len(b))
	for i := range b {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}

// solveUpper solves L^T x = b.
func solveUpper(l [][]float64, b []float64) []float64 {
	n := len(b)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}
