package optimizer

import (
	"fmt"
	"math"
	"math/rand"
)

// AcquisitionFunc scores a candidate from the surrogate's prediction.
// Lower values are more promising, matching the minimizing objective.
type AcquisitionFunc func(mean, variance float64, p AcquisitionParams) float64

// AcquisitionParams carries the knobs read by the acquisition functions.
type AcquisitionParams struct {
	// Beta weights uncertainty in LCB.
	Beta float64
	// Xi is the minimum improvement PI and EI look for.
	Xi float64
	// BestSoFar is the lowest observed loss, updated before every suggestion.
	BestSoFar float64
	// Rand drives Thompson sampling.
	Rand *rand.Rand
}

// LowerConfidenceBound trades mean against uncertainty: mean - beta*sd.
func LowerConfidenceBound(mean, variance float64, p AcquisitionParams) float64 {
	return mean - p.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement returns the negated probability of beating BestSoFar by Xi.
func ProbabilityOfImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	z := (p.BestSoFar - p.Xi - mean) / sd
	return -normalCDF(z)
}

// ExpectedImprovement returns the negated expected improvement over BestSoFar.
func ExpectedImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	imp := p.BestSoFar - p.Xi - mean
	z := imp / sd
	return -(imp*normalCDF(z) + sd*normalPDF(z))
}

// ThompsonSampling draws one sample from the posterior.
func ThompsonSampling(mean, variance float64, p AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*p.Rand.NormFloat64()
}

// AcquisitionByName resolves a configured acquisition function.
func AcquisitionByName(name string) (AcquisitionFunc, error) {
	switch name {
	case "", "ei":
		return ExpectedImprovement, nil
	case "pi":
		return ProbabilityOfImprovement, nil
	case "lcb", "ucb":
		return LowerConfidenceBound, nil
	case "thompson":
		return ThompsonSampling, nil
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", name)
	}
}

func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}
