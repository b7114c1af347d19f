package hll

import "math"

// adamOptimizer is a fixed-size Adam first-order optimiser (C8's "generic
// first-order optimiser" requirement), ported from the reference HLL
// implementation's Adam<const N: usize> (original_source/src/optimizers.rs):
// the same per-parameter first/second moment accumulators and the same
// default hyper-parameters (learning rate 0.001, first-moment decay 0.9,
// second-moment decay 0.999). mle.go is the only caller; it always runs
// with n == 3 (log x, log y, log z).
type adamOptimizer struct {
	firstMoments  []float64
	secondMoments []float64
	time          int

	learningRate           float64
	firstOrderDecayFactor  float64
	secondOrderDecayFactor float64
}

// newAdamOptimizer returns an Adam optimiser for n parameters using the
// reference implementation's default hyper-parameters.
func newAdamOptimizer(n int) *adamOptimizer {
	return &adamOptimizer{
		firstMoments:           make([]float64, n),
		secondMoments:          make([]float64, n),
		learningRate:           0.001,
		firstOrderDecayFactor:  0.9,
		secondOrderDecayFactor: 0.999,
	}
}

// update takes a gradient vector and returns the step to apply (i.e. the
// caller does `params[i] += step[i]`, matching the sign convention of
// gradient ascent on a log-likelihood), overwriting gradients in place like
// the reference implementation does.
func (a *adamOptimizer) update(gradients []float64) []float64 {
	a.time++

	biasCorrection1 := 1.0 - math.Pow(a.firstOrderDecayFactor, float64(a.time))
	biasCorrection2 := 1.0 - math.Pow(a.secondOrderDecayFactor, float64(a.time))

	for i, g := range gradients {
		a.firstMoments[i] = a.firstOrderDecayFactor*a.firstMoments[i] + (1-a.firstOrderDecayFactor)*g
		a.secondMoments[i] = a.secondOrderDecayFactor*a.secondMoments[i] + (1-a.secondOrderDecayFactor)*g*g

		adaptiveLearningRate := a.learningRate * math.Sqrt(biasCorrection2) / biasCorrection1
		denom := math.Max(math.Sqrt(a.secondMoments[i]), epsilon)
		gradients[i] = adaptiveLearningRate * a.firstMoments[i] / denom
	}

	return gradients
}

// epsilon guards against division by zero the same way Rust's f32::EPSILON
// does in the reference implementation's .max(f32::EPSILON) clamp.
const epsilon = 1e-12
