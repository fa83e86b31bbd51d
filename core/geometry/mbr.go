// Package geometry implements the minimum-bounding-rectangle primitives the
// X-tree is built on: union, intersection volume, containment and equality
// over axis-aligned, d-dimensional boxes.
package geometry

import (
	"errors"
	"math"
)

// ErrNumericOverflow is returned by any geometry operation that produces a
// non-finite intermediate value (NaN or +/-Inf).
var ErrNumericOverflow = errors.New("geometry: numeric overflow")

// MBR is an axis-aligned minimum bounding rectangle in d dimensions.
// Lo[i] <= Hi[i] holds for every i. A point is represented by Lo == Hi.
type MBR struct {
	Lo []float64
	Hi []float64
}

// NewPointMBR builds a degenerate MBR (Lo == Hi) for a single point.
func NewPointMBR(coords []float64) MBR {
	lo := make([]float64, len(coords))
	hi := make([]float64, len(coords))
	copy(lo, coords)
	copy(hi, coords)
	return MBR{Lo: lo, Hi: hi}
}

// Dim returns the dimensionality of the MBR.
func (m MBR) Dim() int { return len(m.Lo) }

// Clone returns a deep copy so callers can mutate the result freely.
func (m MBR) Clone() MBR {
	lo := make([]float64, len(m.Lo))
	hi := make([]float64, len(m.Hi))
	copy(lo, m.Lo)
	copy(hi, m.Hi)
	return MBR{Lo: lo, Hi: hi}
}

// Volume computes the product of the per-dimension extents. It fails with
// ErrNumericOverflow if the result is not finite.
func Volume(m MBR) (float64, error) {
	vol := 1.0
	for i := range m.Lo {
		vol *= m.Hi[i] - m.Lo[i]
		if !isFinite(vol) {
			return 0, ErrNumericOverflow
		}
	}
	return vol, nil
}

// Perimeter computes the sum of the per-dimension extents, used as the
// topological split goodness measure (spec.md §4.6).
func Perimeter(m MBR) (float64, error) {
	sum := 0.0
	for i := range m.Lo {
		sum += m.Hi[i] - m.Lo[i]
		if !isFinite(sum) {
			return 0, ErrNumericOverflow
		}
	}
	return sum, nil
}

// Union returns the smallest MBR enclosing both a and b.
func Union(a, b MBR) MBR {
	lo := make([]float64, len(a.Lo))
	hi := make([]float64, len(a.Hi))
	for i := range a.Lo {
		lo[i] = math.Min(a.Lo[i], b.Lo[i])
		hi[i] = math.Max(a.Hi[i], b.Hi[i])
	}
	return MBR{Lo: lo, Hi: hi}
}

// IntersectionVolume computes the volume of the overlap of a and b, which is
// zero when they do not intersect in some dimension.
func IntersectionVolume(a, b MBR) (float64, error) {
	vol := 1.0
	for i := range a.Lo {
		extent := math.Min(a.Hi[i], b.Hi[i]) - math.Max(a.Lo[i], b.Lo[i])
		if extent < 0 {
			return 0, nil
		}
		vol *= extent
		if !isFinite(vol) {
			return 0, ErrNumericOverflow
		}
	}
	return vol, nil
}

// Contains reports whether outer fully encloses inner in every dimension.
func Contains(outer, inner MBR) bool {
	for i := range outer.Lo {
		if outer.Lo[i] > inner.Lo[i] || inner.Hi[i] > outer.Hi[i] {
			return false
		}
	}
	return true
}

// Equals performs componentwise floating-point equality, deliberately
// without an epsilon tolerance (spec.md §4.1).
func Equals(a, b MBR) bool {
	if len(a.Lo) != len(b.Lo) {
		return false
	}
	for i := range a.Lo {
		if a.Lo[i] != b.Lo[i] || a.Hi[i] != b.Hi[i] {
			return false
		}
	}
	return true
}

// Center returns the per-dimension midpoint, used by forced reinsertion to
// rank entries by distance from the node's center (spec.md §4.5).
func Center(m MBR) []float64 {
	c := make([]float64, len(m.Lo))
	for i := range m.Lo {
		c[i] = m.Lo[i] + (m.Hi[i]-m.Lo[i])/2
	}
	return c
}

// CenterDistance2 returns the squared L2 distance between the centers of a
// and b.
func CenterDistance2(a, b MBR) float64 {
	ca, cb := Center(a), Center(b)
	sum := 0.0
	for i := range ca {
		d := ca[i] - cb[i]
		sum += d * d
	}
	return sum
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
