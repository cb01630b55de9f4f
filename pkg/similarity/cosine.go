// Package similarity provides vector and text similarity utilities.
package similarity

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector sizes do not match")

// Dot calculates the dot product of two float32 slices.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Cosine calculates the cosine similarity between two float32 slices.
// Zero-magnitude vectors score 0. The result is not clamped; it lies in
// [-1, 1] up to floating-point error.
func Cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	magA := Magnitude(a)
	magB := Magnitude(b)
	if magA == 0 || magB == 0 {
		return 0, nil
	}

	return Dot(a, b) / (magA * magB), nil
}

// Normalize returns a copy of v scaled to unit length. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / mag
	}
	return out
}
