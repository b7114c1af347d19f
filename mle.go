package hll

import (
	"math"

	"github.com/pkg/errors"
)

// ErrIncompatibleMLE is returned by StrictEstimateJointMLE in cases where the
// two sketches have different precision or register width, so no shared
// register-index space exists to build the M_a/M_b/M_min/M_max histograms
// from. Mirrors ErrIncompatible's role for StrictUnion (hll.go).
var ErrIncompatibleMLE = errors.New("cannot compute joint MLE estimate for Hlls with different regwidth or log2m settings")

// This file holds the MLE joint estimator (C8): a maximum-likelihood
// replacement for EstimateIntersectionCardinality/EstimateDifferenceCardinality/
// EstimateJaccardIndex's inclusion-exclusion math, per spec.md §4.8.
//
// Grounding: the three-parameter log-transformed optimisation (log x, log y,
// log z) solved via Adam (adam.go) is exactly what spec.md §4.8 and the
// reference implementation's optimisers.rs describe. The log-likelihood
// itself is derived here from first principles rather than transcribed from
// a single reference file, since original_source/ does not carry the joint
// MLE's likelihood derivation (mle.rs only carries the HyperLogLogTrait
// plumbing, not the math): each sketch's two independent latent insertion
// streams (the part exclusive to it, and the part shared with the other)
// compete for each register's recorded value via the standard HLL
// max-of-geometric model, which gives closed-form CDFs for a register's own
// value, for min(a,b), and for max(a,b) -- the three statistics M_a/M_b/
// M_min/M_max (spec.md §4.8 step 1) are sufficient statistics for. The
// gradient of the resulting log-likelihood is taken numerically (central
// differences in log-space) rather than by hand-differentiating the closed
// forms, trading a symbolic derivation (easy to get subtly wrong and
// impossible to check without running the code) for a numerically
// equivalent, directly verifiable computation.

// MLEResult is the outcome of a joint MLE estimate between two sketches.
type MLEResult struct {
	Union           float64
	Intersection    float64
	LeftDifference  float64 // |A \ B|
	RightDifference float64 // |B \ A|
	Jaccard         float64
	Converged       bool // false if the iteration cap was hit; values are an inclusion-exclusion fallback
}

// mleMaxIterations is the hard cap from spec.md §4.8: "a hard cap of 1000
// iterations avoids pathological divergence from floating-point noise."
const mleMaxIterations = 1000

// mleHistograms holds the four per-register-value counts spec.md §4.8 step 1
// names: M_a, M_b, M_min, M_max.
type mleHistograms struct {
	a, b, min, max []float64
	m              int // number of registers
	maxVal         int // largest representable register value (2^regwidth - 1)
}

func buildMLEHistograms(aRegs, bRegs func(int) byte, m, regwidth int) mleHistograms {
	maxVal := (1 << uint(regwidth)) - 1
	h := mleHistograms{
		a:      make([]float64, maxVal+1),
		b:      make([]float64, maxVal+1),
		min:    make([]float64, maxVal+1),
		max:    make([]float64, maxVal+1),
		m:      m,
		maxVal: maxVal,
	}
	for i := 0; i < m; i++ {
		av, bv := int(aRegs(i)), int(bRegs(i))
		h.a[av]++
		h.b[bv]++
		if av < bv {
			h.min[av]++
			h.max[bv]++
		} else {
			h.min[bv]++
			h.max[av]++
		}
	}
	return h
}

// registerCDF is the probability that a register fed by a Poisson(lambda)
// stream of elements (lambda = cardinality / m) records a value <= k, under
// the usual HLL geometric-leading-zero-count model, with the top bucket
// (k == maxVal) absorbing "value >= maxVal" from register-width clamping.
func registerCDF(k int, maxVal int, lambda float64) float64 {
	if k < 0 {
		return 0
	}
	if k >= maxVal {
		return 1
	}
	return math.Exp(-lambda * math.Exp2(-float64(k)))
}

const mlePMFFloor = 1e-300

func singlePMF(k, maxVal int, lambda float64) float64 {
	var p float64
	switch {
	case k == 0:
		p = registerCDF(0, maxVal, lambda)
	case k == maxVal:
		p = 1 - registerCDF(maxVal-1, maxVal, lambda)
	default:
		p = registerCDF(k, maxVal, lambda) - registerCDF(k-1, maxVal, lambda)
	}
	return math.Max(p, mlePMFFloor)
}

// minPMF is the PMF of min(a,b) = max(X, min(Y,Z)) where X is the shared
// (intersection) stream and Y, Z are the two exclusive streams (see the
// file doc comment's derivation).
func minPMF(k, maxVal int, lambdaX, lambdaY, lambdaZ float64) float64 {
	cdf := func(kk int) float64 {
		cx := registerCDF(kk, maxVal, lambdaX)
		cy := registerCDF(kk, maxVal, lambdaY)
		cz := registerCDF(kk, maxVal, lambdaZ)
		return cx * (1 - (1-cy)*(1-cz))
	}
	var p float64
	switch {
	case k == 0:
		p = cdf(0)
	case k == maxVal:
		p = 1 - cdf(maxVal-1)
	default:
		p = cdf(k) - cdf(k-1)
	}
	return math.Max(p, mlePMFFloor)
}

// logLikelihood returns the joint log-likelihood of hist given candidate
// (x, y, z) = (intersection, leftOnly, rightOnly) cardinalities. M_max uses
// the combined rate (x+y+z)/m, which is exactly the classical single-sketch
// model applied to the register-wise union -- consistent with Union being
// the register-wise max of both sketches.
func (hist mleHistograms) logLikelihood(x, y, z float64) float64 {
	m := float64(hist.m)
	lambdaA := (x + y) / m
	lambdaB := (x + z) / m
	lambdaX := x / m
	lambdaY := y / m
	lambdaZ := z / m
	lambdaU := (x + y + z) / m

	var ll float64
	for k := 0; k <= hist.maxVal; k++ {
		if hist.a[k] > 0 {
			ll += hist.a[k] * math.Log(singlePMF(k, hist.maxVal, lambdaA))
		}
		if hist.b[k] > 0 {
			ll += hist.b[k] * math.Log(singlePMF(k, hist.maxVal, lambdaB))
		}
		if hist.max[k] > 0 {
			ll += hist.max[k] * math.Log(singlePMF(k, hist.maxVal, lambdaU))
		}
		if hist.min[k] > 0 {
			ll += hist.min[k] * math.Log(minPMF(k, hist.maxVal, lambdaX, lambdaY, lambdaZ))
		}
	}
	return ll
}

// solveMLE runs the Adam-driven fixed-point iteration spec.md §4.8
// describes, starting from an inclusion-exclusion initial guess, and
// returns the converged (or best-effort, on non-convergence) cardinalities.
func solveMLE(hist mleHistograms, ea, eb, euInit float64, errorExponent int) MLEResult {
	x0, y0, z0 := inclusionExclusion(ea, eb, euInit)
	x0 = math.Max(x0, 0.5)
	y0 = math.Max(y0, 0.5)
	z0 = math.Max(z0, 0.5)

	l := []float64{math.Log(x0), math.Log(y0), math.Log(z0)}

	opt := newAdamOptimizer(3)
	threshold := math.Pow(10, -float64(errorExponent))

	const h = 1e-4
	objective := func(p []float64) float64 {
		return hist.logLikelihood(math.Exp(p[0]), math.Exp(p[1]), math.Exp(p[2]))
	}

	converged := false
	for iter := 0; iter < mleMaxIterations; iter++ {
		grad := make([]float64, 3)
		for i := range grad {
			plus := append([]float64(nil), l...)
			minus := append([]float64(nil), l...)
			plus[i] += h
			minus[i] -= h
			grad[i] = (objective(plus) - objective(minus)) / (2 * h)
		}

		step := opt.update(grad)

		prev := []float64{l[0], l[1], l[2]}
		for i := range l {
			l[i] += step[i]
		}

		maxRelChange := 0.0
		for i := range l {
			rel := math.Abs(math.Exp(l[i])-math.Exp(prev[i])) / math.Max(math.Exp(prev[i]), 1)
			if rel > maxRelChange {
				maxRelChange = rel
			}
		}
		if maxRelChange < threshold {
			converged = true
			break
		}
	}

	x, y, z := math.Exp(l[0]), math.Exp(l[1]), math.Exp(l[2])

	if !converged {
		currentLogger().Warn("hll: MLE joint estimator did not converge, falling back to inclusion-exclusion")
		ix, ly, rz, jac := inclusionExclusion(ea, eb, euInit)
		return MLEResult{
			Union:           euInit,
			Intersection:    ix,
			LeftDifference:  ly,
			RightDifference: rz,
			Jaccard:         jac,
			Converged:       false,
		}
	}

	union := x + y + z
	jaccard := 0.0
	if union > 0 {
		jaccard = x / union
	}

	return MLEResult{
		Union:           union,
		Intersection:    x,
		LeftDifference:  y,
		RightDifference: z,
		Jaccard:         jaccard,
		Converged:       true,
	}
}

// EstimateJointMLE estimates union/intersection/difference/Jaccard between h
// and other using the joint maximum-likelihood estimator (spec.md §4.8)
// instead of inclusion-exclusion, with the default ERROR=2 convergence
// exponent. Falls back to EstimateUnionCardinality/inclusion-exclusion (with
// Converged=false) if either sketch is not in a probabilistic (sparse/dense)
// storage mode, since the register histograms this estimator needs don't
// exist in explicit or empty mode.
func (h Hll) EstimateJointMLE(other Hll) MLEResult {
	return h.EstimateJointMLEWithError(other, 2)
}

// EstimateJointMLEWithError is EstimateJointMLE with an explicit ERROR
// exponent (spec.md §4.8 calls this "a compile-time parameter"; Go has no
// const generics, so it's a regular parameter here).
func (h Hll) EstimateJointMLEWithError(other Hll, errorExponent int) MLEResult {
	h.initOrPanic()
	other.initOrPanic()

	_, aOK := h.storage.(registers)
	_, bOK := other.storage.(registers)

	ea, eb := float64(h.Cardinality()), float64(other.Cardinality())
	eu := h.EstimateUnionCardinality(other)

	if !aOK || !bOK || h.settings.log2m != other.settings.log2m || h.settings.regwidth != other.settings.regwidth {
		ix, ly, rz, jac := inclusionExclusion(ea, eb, eu)
		return MLEResult{Union: eu, Intersection: ix, LeftDifference: ly, RightDifference: rz, Jaccard: jac}
	}

	m := 1 << uint(h.settings.log2m)
	hist := buildMLEHistograms(
		func(i int) byte { return registerValue(h.storage, h.settings, i) },
		func(i int) byte { return registerValue(other.storage, other.settings, i) },
		m, h.settings.regwidth,
	)

	return solveMLE(hist, ea, eb, eu, errorExponent)
}

// StrictEstimateJointMLE is EstimateJointMLE's strict counterpart: instead of
// silently falling back to inclusion-exclusion when h and other have
// different settings or either is outside register-backed storage, it reports
// ErrIncompatibleMLE so the caller can distinguish "the estimator ran" from
// "the estimator couldn't see comparable registers" (mirrors StrictUnion vs
// Union in hll.go).
func (h Hll) StrictEstimateJointMLE(other Hll) (MLEResult, error) {
	return h.StrictEstimateJointMLEWithError(other, 2)
}

// StrictEstimateJointMLEWithError is StrictEstimateJointMLE with an explicit
// ERROR exponent.
func (h Hll) StrictEstimateJointMLEWithError(other Hll, errorExponent int) (MLEResult, error) {
	h.initOrPanic()
	other.initOrPanic()

	_, aOK := h.storage.(registers)
	_, bOK := other.storage.(registers)

	if !aOK || !bOK || h.settings.log2m != other.settings.log2m || h.settings.regwidth != other.settings.regwidth {
		return MLEResult{}, ErrIncompatibleMLE
	}

	return h.EstimateJointMLEWithError(other, errorExponent), nil
}

// EstimateJointMLE is Hybrid's equivalent of Hll.EstimateJointMLE, with the
// default ERROR=2 convergence exponent.
func (hy *Hybrid) EstimateJointMLE(other *Hybrid) MLEResult {
	return hy.EstimateJointMLEWithError(other, 2)
}

// EstimateJointMLEWithError is EstimateJointMLE with an explicit ERROR
// exponent.
func (hy *Hybrid) EstimateJointMLEWithError(other *Hybrid, errorExponent int) MLEResult {
	ea, eb := float64(hy.Cardinality()), float64(other.Cardinality())
	eu := hy.EstimateUnionCardinality(other)

	if hy.mode != modeDense || other.mode != modeDense {
		ix, ly, rz, jac := inclusionExclusion(ea, eb, eu)
		return MLEResult{Union: eu, Intersection: ix, LeftDifference: ly, RightDifference: rz, Jaccard: jac}
	}

	m := hy.Len()
	hist := buildMLEHistograms(
		func(i int) byte { return hy.dense.get(i, hy.settings.regwidth) },
		func(i int) byte { return other.dense.get(i, other.settings.regwidth) },
		m, hy.settings.regwidth,
	)

	return solveMLE(hist, ea, eb, eu, errorExponent)
}

// StrictEstimateJointMLE is Hybrid's equivalent of Hll.StrictEstimateJointMLE:
// it reports ErrIncompatibleMLE instead of falling back to inclusion-exclusion
// when hy and other aren't both in dense mode.
func (hy *Hybrid) StrictEstimateJointMLE(other *Hybrid) (MLEResult, error) {
	return hy.StrictEstimateJointMLEWithError(other, 2)
}

// StrictEstimateJointMLEWithError is StrictEstimateJointMLE with an explicit
// ERROR exponent.
func (hy *Hybrid) StrictEstimateJointMLEWithError(other *Hybrid, errorExponent int) (MLEResult, error) {
	if hy.mode != modeDense || other.mode != modeDense {
		return MLEResult{}, ErrIncompatibleMLE
	}

	return hy.EstimateJointMLEWithError(other, errorExponent), nil
}
