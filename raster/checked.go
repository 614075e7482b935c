package raster

import (
	"math"
	"math/bits"
)

// mulSize multiplies non-negative sizes, reporting false when a factor is
// negative or the product does not fit an int.
func mulSize(factors ...int) (int, bool) {
	n := uint64(1)
	for _, f := range factors {
		if f < 0 {
			return 0, false
		}
		hi, lo := bits.Mul64(n, uint64(f))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		n = lo
	}
	return int(n), true
}

// addSize adds non-negative sizes with the same overflow rule as mulSize.
func addSize(terms ...int) (int, bool) {
	n := uint64(0)
	for _, t := range terms {
		if t < 0 {
			return 0, false
		}
		sum, carry := bits.Add64(n, uint64(t), 0)
		if carry != 0 || sum > math.MaxInt {
			return 0, false
		}
		n = sum
	}
	return int(n), true
}
