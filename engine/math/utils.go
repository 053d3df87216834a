package math

import (
	stdmath "math"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Max returns the largest of the given values.
func Max[T constraints.Ordered](first T, rest ...T) T {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}

// AlignUp rounds v up to the next multiple of alignment (a power of two).
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

func DegToRad(degrees float32) float32 {
	return degrees * float32(stdmath.Pi) / 180.0
}
