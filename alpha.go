package hll

// This file holds the precomputed alpha constant table (C9 in the design),
// factored out of settings.go so that both the classical Hll and the Hybrid
// sketch (hybrid.go) can share it without going through Hll's settings
// cache.

// alpha returns the HyperLogLog bias-correction constant for m registers,
// per spec.md §3: 0.673 for m=16, 0.697 for m=32, 0.709 for m=64, else the
// asymptotic 0.7213/(1+1.079/m) formula.
func alpha(m int) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1.0 + 1.079/float64(m))
	}
}
