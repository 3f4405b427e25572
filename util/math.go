package util

import (
	"errors"
	"math"
)

// ErrOverflow checked arithmetic would wrap a uint64
var ErrOverflow = errors.New("uint64 overflow")

// CheckedAdd returns a+b, failing closed instead of wrapping.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}

	return a + b, nil
}

// CheckedMul returns a*b, failing closed instead of wrapping.
func CheckedMul(a, b uint64) (uint64, error) {
	if b != 0 && a > math.MaxUint64/b {
		return 0, ErrOverflow
	}

	return a * b, nil
}
