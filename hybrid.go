package hll

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Hybrid is the HLL core (C5): the hybrid sketch described by spec.md §3-§5,
// which stores explicit (truncated, gap-coded) hashes while small and
// promotes, exactly once, to dense registers once the hash list is full.
//
// Unlike the classical Hll (hll.go), which recomputes its harmonic sum and
// zero-register count from scratch on every Cardinality call, Hybrid
// maintains both incrementally (spec.md §3's stated invariants), matching
// spec.md §4.5's description of the HLL core.
type hybridMode int

const (
	modeHashList hybridMode = iota
	modeDense
)

// Hybrid is a probabilistic cardinality sketch with two internal
// representations: an exact hash list while small, and dense registers once
// promoted. See hll.go's Hll for the classical three-tier (explicit/sparse/
// dense) alternative; the two share the dense register layout, the
// estimator family (estimator.go), and the MLE joint estimator (mle.go).
type Hybrid struct {
	settings *settings
	mode     hybridMode

	list  *hashList
	dense denseStorage

	harmonicSum   float64
	zeroRegisters int
}

// NewHybrid creates an empty Hybrid sketch with the given settings. Only
// Log2m and Regwidth are meaningful for Hybrid; ExplicitThreshold and
// SparseEnabled configure the classical Hll's escalation path and are
// ignored here, since Hybrid's own hash-list capacity (hashlist.go) governs
// its promotion instead.
func NewHybrid(s Settings) (*Hybrid, error) {
	if err := validateHybridSettings(s); err != nil {
		return nil, err
	}

	internal, err := s.toInternal()
	if err != nil {
		return nil, err
	}

	return &Hybrid{
		settings: internal,
		mode:     modeHashList,
		list:     newHashList(internal.log2m, internal.regwidth),
	}, nil
}

// minimumHybridLog2m and maximumHybridLog2m are spec.md §7's fatal
// configuration bounds for the hybrid sketch's precision parameter P.
const (
	minimumHybridLog2m = 4
	maximumHybridLog2m = 18
)

// errInvalidHybridRegwidth is returned by validateHybridSettings when
// Regwidth is outside the three widths the bias-correction table (bias.go)
// and large-range correction (estimator.go) are defined for.
var errInvalidHybridRegwidth = errors.New("hll: Regwidth must be 4, 5, or 6 for a Hybrid sketch")

// validateHybridSettings rejects the (P, B) combinations spec.md §7 declares
// fatal at construction: P outside [4,18], or B outside {4,5,6}. The
// classical Hll keeps the teacher's wider [4,31]/[1,8] range (settings.go)
// since it doesn't use the bias-correction table or large-range correction
// that bound Hybrid here.
func validateHybridSettings(s Settings) error {
	if s.Log2m < minimumHybridLog2m || s.Log2m > maximumHybridLog2m {
		return fmt.Errorf("hll: Log2m must be between %d and %d for a Hybrid sketch, got %d", minimumHybridLog2m, maximumHybridLog2m, s.Log2m)
	}

	switch s.Regwidth {
	case 4, 5, 6:
	default:
		return errInvalidHybridRegwidth
	}

	return nil
}

// Len returns the number of registers (m = 2^log2m) this sketch is
// configured for, per spec.md §6.
func (hy *Hybrid) Len() int {
	return 1 << uint(hy.settings.log2m)
}

// IsEmpty reports whether nothing has ever been inserted.
func (hy *Hybrid) IsEmpty() bool {
	if hy.mode == modeHashList {
		return hy.list.count() == 0
	}
	return hy.zeroRegisters == hy.Len()
}

// GetRegister returns the current value of register i. Per spec.md §6,
// calling this with i outside [0, Len()) is a precondition violation and is
// undefined at the call site; this implementation does not check.
func (hy *Hybrid) GetRegister(i int) byte {
	if hy.mode == modeHashList {
		maxVal := byte(0)
		for _, e := range hy.list.decoded() {
			if e.index == i && e.register > maxVal {
				maxVal = e.register
			}
		}
		return maxVal
	}
	return hy.dense.get(i, hy.settings.regwidth)
}

// Insert hashes value with DefaultHasher and adds the result to hy,
// returning true if the sketch changed.
func (hy *Hybrid) Insert(value []byte) bool {
	return hy.AddRaw(DefaultHasher.Sum64(value))
}

// AddRaw adds a pre-hashed 64-bit value to hy, implementing spec.md §4.5's
// insert algorithm. Returns true if the sketch changed.
func (hy *Hybrid) AddRaw(h uint64) bool {
	if hy.mode == modeHashList {
		changed := hy.list.insert(h)
		if changed && hy.list.isFull() {
			hy.promote()
		}
		return changed
	}

	index, pW := hybridRegisterFromHash(hy.settings, h)
	return applyDenseUpdate(hy.dense, hy.settings, &hy.harmonicSum, &hy.zeroRegisters, index, pW)
}

// MayContain is a best-effort probabilistic membership test: it reports
// whether inserting value would not have changed the sketch. It never
// reports false for a value that was inserted; it can report true for a
// value that was never inserted but collides with one that was (same
// truncated hash in hash-list mode, a register already at or above its
// value in dense mode).
func (hy *Hybrid) MayContain(value []byte) bool {
	h := DefaultHasher.Sum64(value)
	if hy.mode == modeHashList {
		truncated := hy.list.truncate(h)
		for _, v := range hy.list.decodeAll() {
			if v == truncated {
				return true
			}
		}
		return false
	}

	index, pW := hybridRegisterFromHash(hy.settings, h)
	return hy.dense.get(index, hy.settings.regwidth) >= pW
}

// Cardinality estimates the number of distinct values inserted into hy.
func (hy *Hybrid) Cardinality() uint64 {
	if hy.mode == modeHashList {
		return uint64(hy.list.count())
	}
	return uint64(math.Ceil(estimateCardinality(hy.settings, hy.harmonicSum, hy.zeroRegisters)))
}

// promote replays the hash list into freshly allocated dense registers, per
// spec.md §4.4's promotion algorithm and §9 Open Question 2: harmonicSum and
// zeroRegisters are initialised to the all-zero-registers baseline (m and m
// respectively) before replay, so a pathological hash list (e.g. one where
// every hash maps to register 0) still leaves the sketch in a consistent
// state.
func (hy *Hybrid) promote() {
	m := hy.Len()
	hy.dense = newDenseStorage(hy.settings)
	hy.harmonicSum = float64(m)
	hy.zeroRegisters = m

	count := hy.list.count()
	for _, e := range hy.list.decoded() {
		applyDenseUpdate(hy.dense, hy.settings, &hy.harmonicSum, &hy.zeroRegisters, e.index, e.register)
	}

	currentLogger().Debug("hll: promoting storage", zap.String("from", "hashlist"), zap.String("to", "dense"), zap.Int("size", count))

	hy.mode = modeDense
	hy.list = nil
}

// MergeAssign merges other into hy in place, per spec.md §4.5's merge
// algorithm.
func (hy *Hybrid) MergeAssign(other *Hybrid) {
	switch {
	case hy.mode == modeHashList && other.mode == modeHashList:
		hy.list.merge(other.list)
		if hy.list.isFull() {
			hy.promote()
		}
	case hy.mode == modeDense && other.mode == modeHashList:
		for _, e := range other.list.decoded() {
			applyDenseUpdate(hy.dense, hy.settings, &hy.harmonicSum, &hy.zeroRegisters, e.index, e.register)
		}
	case hy.mode == modeHashList && other.mode == modeDense:
		// promote self first, then union the dense arrays directly.
		hy.promote()
		fallthrough
	case hy.mode == modeDense && other.mode == modeDense:
		denseUnionHybrid(hy, other)
	}
}

// Merge returns a new Hybrid holding the union of hy and other, leaving both
// receivers unmodified.
func (hy *Hybrid) Merge(other *Hybrid) *Hybrid {
	c := hy.clone()
	c.MergeAssign(other)
	return c
}

// clone returns a deep copy of hy.
func (hy *Hybrid) clone() *Hybrid {
	c := &Hybrid{
		settings:      hy.settings,
		mode:          hy.mode,
		harmonicSum:   hy.harmonicSum,
		zeroRegisters: hy.zeroRegisters,
	}
	if hy.list != nil {
		c.list = hy.list.copy()
	}
	if hy.dense != nil {
		c.dense = hy.dense.copy().(denseStorage)
	}
	return c
}

// Clear resets hy to the empty, zero state.
func (hy *Hybrid) Clear() {
	hy.mode = modeHashList
	hy.list = newHashList(hy.settings.log2m, hy.settings.regwidth)
	hy.dense = nil
	hy.harmonicSum = 0
	hy.zeroRegisters = 0
}

// registerFromHash implements the classical Hll's register-update primitive
// (hll.go's registers branch, inherited from the teacher): it decomposes a
// 64-bit hash into a low-bits register index and a trailing-zero-count-
// derived register value. ok is false for the degenerate hash whose
// substream is entirely zero, which by contract the sketch ignores (see
// AddRaw's comment in hll.go).
//
// Hybrid does NOT use this decomposition for its own dense mode -- see
// hybridRegisterFromHash below.
func registerFromHash(s *settings, value uint64) (index int, pW byte, ok bool) {
	substreamValue := value >> uint(s.log2m)
	if substreamValue == 0 {
		return 0, 0, false
	}

	pW = byte(1 + bits.TrailingZeros64(substreamValue|s.pwMaxMask))
	index = int(value & ((uint64(1) << uint(s.log2m)) - 1))
	return index, pW, true
}

// hybridRegisterFromHash decomposes a full 64-bit hash into a register index
// and register value for Hybrid, using the same top-log2m-bits-index /
// leading-zero-count convention as hashList.indexAndRegister (spec.md §4.3),
// applied to the untruncated hash instead of a hash list entry's narrower
// truncated width. Using one convention for both of Hybrid's representations
// keeps a value's register stable whether it was inserted before or after
// promote(): a value seen only in hash-list mode must land on the same
// register once replayed into dense storage, or MayContain could report a
// false negative for it after promotion.
//
// This deliberately differs from registerFromHash above, which remains the
// classical Hll's own low-bits/trailing-zero convention inherited from the
// teacher -- the two sketch types never compare or merge registers with each
// other, so there's no requirement that they agree.
func hybridRegisterFromHash(s *settings, value uint64) (index int, pW byte) {
	remainderBits := 64 - uint(s.log2m)
	index = int(value >> remainderBits)

	maxVal := byte((1 << uint(s.regwidth)) - 1)
	remainder := value & ((uint64(1) << remainderBits) - 1)
	if remainder == 0 {
		return index, maxVal
	}

	lz := leadingZeros(remainder, remainderBits)
	v := byte(lz + 1)
	if v > maxVal {
		v = maxVal
	}
	return index, v
}

// applyDenseUpdate applies the monotone register update set(i) <-
// max(registers[i], value) to dense storage, incrementally maintaining the
// harmonic sum and zero-register count the way spec.md §4.1 describes for
// the packed register array's set_apply: the array itself has no notion of
// monotonicity, so the caller (here) updates derived state from the
// returned (old, new) pair.
func applyDenseUpdate(dense denseStorage, s *settings, harmonicSum *float64, zeroRegisters *int, index int, value byte) bool {
	old := dense.get(index, s.regwidth)
	if value <= old {
		return false
	}

	dense.setIfGreater(s, index, value)
	*harmonicSum += math.Pow(2, -float64(value)) - math.Pow(2, -float64(old))
	if old == 0 {
		*zeroRegisters--
	}
	return true
}

// denseUnionHybrid unions other's dense registers into hy's in place,
// maintaining hy's incremental harmonic sum and zero-register count.
func denseUnionHybrid(hy, other *Hybrid) {
	m := hy.Len()
	for i := 0; i < m; i++ {
		v := other.dense.get(i, other.settings.regwidth)
		applyDenseUpdate(hy.dense, hy.settings, &hy.harmonicSum, &hy.zeroRegisters, i, v)
	}
}
