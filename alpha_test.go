package hll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_alpha_knownConstants(t *testing.T) {
	assert.Equal(t, 0.673, alpha(16))
	assert.Equal(t, 0.697, alpha(32))
	assert.Equal(t, 0.709, alpha(64))
}

func Test_alpha_asymptoticFormula(t *testing.T) {
	for _, m := range []int{128, 1024, 1 << 14} {
		expected := 0.7213 / (1.0 + 1.079/float64(m))
		assert.Equal(t, expected, alpha(m))
	}
}

func Test_alpha_matchesSettingsAlphaMSquared(t *testing.T) {
	// alphaMSquared (settings.go) factors through alpha(); they must agree for
	// every log2m the library supports, or Hll and Hybrid would disagree on
	// the raw estimator for otherwise-identical configurations.
	for log2m := minimumLog2mParam; log2m <= maximumLog2mParam; log2m++ {
		m := 1 << uint(log2m)
		assert.Equal(t, alpha(m)*float64(m)*float64(m), alphaMSquared(log2m))
	}
}
