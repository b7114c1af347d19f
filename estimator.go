package hll

import "math"

// This file holds the cardinality estimator (C6) and the pairwise
// union/intersection/difference/Jaccard estimator (C7), shared by both the
// classical Hll (hll.go) and the Hybrid sketch (hybrid.go).

// estimateCardinality implements spec.md §4.6: the raw HLL estimate with
// small-range linear counting, HLL++ empirical bias correction, and
// large-range correction, given a harmonic sum and zero-register count.
// Grounded on the classical Hll's original Cardinality body (hll.go),
// generalized so Hybrid's dense mode can share it instead of duplicating
// the correction cascade.
func estimateCardinality(s *settings, harmonicSum float64, zeroRegisters int) float64 {
	m := 1 << uint(s.log2m)

	estimator := s.alphaMSquared / harmonicSum

	if zeroRegisters != 0 && estimator < s.smallEstimatorCutoff {
		// "Small range correction" (linear counting): appropriate only
		// while the estimator is under (5/2)*m and unset registers remain.
		return float64(m) * math.Log(float64(m)/float64(zeroRegisters))
	}

	// HLL++ empirical bias correction: for raw estimates under 5m, the
	// sketch has enough registers set that linear counting no longer
	// applies but the raw estimator is still measurably biased high.
	if estimator < 5*float64(m) {
		if corrected := estimator - biasCorrection(s.log2m, estimator); corrected > 0 {
			estimator = corrected
		}
	}

	if estimator <= s.largeEstimatorCutoff {
		return estimator
	}

	// "Large range correction", adapted for 64-bit hashes: only appropriate
	// once the estimator exceeds the calculated cutoff.
	return -1 * s.twoToL * math.Log(1.0-(estimator/s.twoToL))
}

// clampUnion implements spec.md §4.7's "correct-union adjustment": a union
// estimate can never be smaller than the larger of the two inputs, nor
// larger than their sum.
func clampUnion(union, a, b float64) float64 {
	lo := math.Max(a, b)
	hi := a + b
	switch {
	case union < lo:
		return lo
	case union > hi:
		return hi
	default:
		return union
	}
}

// inclusionExclusion derives intersection, left-difference (a\b),
// right-difference (b\a), and the Jaccard index from the three cardinality
// estimates a, b, and union, clamping per spec.md §4.7: intersection to
// [0, min(a,b)], difference terms to [0, a] / [0, b], and the Jaccard
// numerator to [0, max(a,b)].
func inclusionExclusion(a, b, union float64) (intersection, leftDifference, rightDifference, jaccard float64) {
	intersection = a + b - union

	minAB := math.Min(a, b)
	maxAB := math.Max(a, b)

	if intersection < 0 {
		intersection = 0
	} else if intersection > minAB {
		intersection = minAB
	}
	// the Jaccard numerator gets the wider [0, max(a,b)] clamp from
	// spec.md §4.7 before it's divided by the union below.
	jaccardNumerator := intersection
	if jaccardNumerator > maxAB {
		jaccardNumerator = maxAB
	}

	leftDifference = a - intersection
	if leftDifference < 0 {
		leftDifference = 0
	}

	rightDifference = b - intersection
	if rightDifference < 0 {
		rightDifference = 0
	}

	if union <= 0 {
		jaccard = 0
	} else {
		jaccard = jaccardNumerator / union
		if jaccard < 0 {
			jaccard = 0
		} else if jaccard > 1 {
			jaccard = 1
		}
	}

	return intersection, leftDifference, rightDifference, jaccard
}

// --- Hll pairwise estimators (C7) ---

// EstimateUnionCardinality estimates the cardinality of the union of h and
// other without mutating either sketch, per spec.md §4.7. It reuses the
// mutating Union implementation against a private clone, then applies the
// correct-union clamp.
func (h Hll) EstimateUnionCardinality(other Hll) float64 {
	ea := float64(h.Cardinality())
	eb := float64(other.Cardinality())

	clone := h.clone()
	if err := clone.union(other, false); err != nil {
		panic(err) // unreachable: union(..., strict=false) never errors
	}
	eu := float64(clone.Cardinality())

	return clampUnion(eu, ea, eb)
}

// EstimateIntersectionCardinality estimates |h ∩ other|.
func (h Hll) EstimateIntersectionCardinality(other Hll) float64 {
	intersection, _, _, _ := h.jointEstimate(other)
	return intersection
}

// EstimateDifferenceCardinality estimates |h \ other|.
func (h Hll) EstimateDifferenceCardinality(other Hll) float64 {
	_, left, _, _ := h.jointEstimate(other)
	return left
}

// EstimateJaccardIndex estimates the Jaccard similarity between h and
// other's underlying sets.
func (h Hll) EstimateJaccardIndex(other Hll) float64 {
	_, _, _, jaccard := h.jointEstimate(other)
	return jaccard
}

func (h Hll) jointEstimate(other Hll) (intersection, left, right, jaccard float64) {
	ea := float64(h.Cardinality())
	eb := float64(other.Cardinality())
	eu := h.EstimateUnionCardinality(other)
	return inclusionExclusion(ea, eb, eu)
}

// IsUnionEstimateNonDeterministic reports whether EstimateUnionCardinality's
// result depends on floating-point accumulation order -- true iff both
// sketches are in dense mode, per spec.md §4.7. This is informational only.
func (h Hll) IsUnionEstimateNonDeterministic(other Hll) bool {
	_, aDense := h.storage.(denseStorage)
	_, bDense := other.storage.(denseStorage)
	return aDense && bDense
}

// clone returns a deep copy of h.
func (h Hll) clone() Hll {
	c := h
	if h.storage != nil {
		c.storage = h.storage.copy()
	}
	return c
}

// MergeAssign merges other into h in place. It is an alias for Union kept
// to match spec.md §6's external interface naming.
func (h *Hll) MergeAssign(other Hll) {
	h.Union(other)
}

// MayContain reports whether value may already have been inserted into h.
// In dense/sparse mode it never reports false for an inserted value, but can
// report true for a value that was never inserted when its register already
// holds an equal or larger value; in explicit mode it compares full hashes.
func (h *Hll) MayContain(value []byte) bool {
	h.initOrPanic()

	raw := DefaultHasher.Sum64(value)
	if raw == 0 {
		return false
	}

	switch s := h.storage.(type) {
	case explicitStorage:
		_, present := s[raw]
		return present
	case sparseStorage, denseStorage:
		index, pW, ok := registerFromHash(h.settings, raw)
		if !ok {
			return true
		}
		return registerValue(s, h.settings, index) >= pW
	default:
		return false
	}
}

// registerValue reads a single register's value from either probabilistic
// storage representation. It's intentionally a free function rather than an
// addition to the registers interface in storage.go, since nothing else in
// that interface needs a per-register read outside of this path and
// GetRegister below.
func registerValue(s storage, settings *settings, regnum int) byte {
	switch st := s.(type) {
	case sparseStorage:
		return st[int32(regnum)]
	case denseStorage:
		return st.get(regnum, settings.regwidth)
	default:
		return 0
	}
}

// --- Hybrid pairwise estimators (C7) ---

// EstimateUnionCardinality estimates |hy ∪ other| without mutating either
// sketch.
func (hy *Hybrid) EstimateUnionCardinality(other *Hybrid) float64 {
	ea := float64(hy.Cardinality())
	eb := float64(other.Cardinality())

	eu := float64(hy.Merge(other).Cardinality())

	return clampUnion(eu, ea, eb)
}

// EstimateIntersectionCardinality estimates |hy ∩ other|.
func (hy *Hybrid) EstimateIntersectionCardinality(other *Hybrid) float64 {
	intersection, _, _, _ := hy.jointEstimate(other)
	return intersection
}

// EstimateDifferenceCardinality estimates |hy \ other|.
func (hy *Hybrid) EstimateDifferenceCardinality(other *Hybrid) float64 {
	_, left, _, _ := hy.jointEstimate(other)
	return left
}

// EstimateJaccardIndex estimates the Jaccard similarity between hy and
// other's underlying sets.
func (hy *Hybrid) EstimateJaccardIndex(other *Hybrid) float64 {
	_, _, _, jaccard := hy.jointEstimate(other)
	return jaccard
}

func (hy *Hybrid) jointEstimate(other *Hybrid) (intersection, left, right, jaccard float64) {
	ea := float64(hy.Cardinality())
	eb := float64(other.Cardinality())
	eu := hy.EstimateUnionCardinality(other)
	return inclusionExclusion(ea, eb, eu)
}

// IsUnionEstimateNonDeterministic reports whether EstimateUnionCardinality's
// result depends on floating-point accumulation order -- true iff both
// sketches have been promoted to dense mode.
func (hy *Hybrid) IsUnionEstimateNonDeterministic(other *Hybrid) bool {
	return hy.mode == modeDense && other.mode == modeDense
}

// Len returns m, the number of registers this Hll is configured for.
func (h *Hll) Len() int {
	h.initOrPanic()
	return 1 << uint(h.settings.log2m)
}

// IsEmpty reports whether anything has been inserted into h.
func (h *Hll) IsEmpty() bool {
	h.initOrPanic()
	return h.storage == nil
}

// GetRegister returns the current value of register i in dense/sparse mode,
// or 0 in explicit/empty mode (explicit storage has no register concept).
// Per spec.md §6, i outside [0, Len()) is undefined at the call site.
func (h *Hll) GetRegister(i int) byte {
	h.initOrPanic()

	return registerValue(h.storage, h.settings, i)
}
