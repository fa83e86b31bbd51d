package xtree

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// TestChooseChild_GeometryOverflowIsXTreeSentinel exercises the boundary
// translation of spec.md §6.3: a geometry-level volume overflow surfacing
// out of chooseChild must satisfy errors.Is(err, xtree.ErrNumericOverflow),
// not just geometry.ErrNumericOverflow, so callers matching on the
// documented sentinel see it regardless of which geometry call overflowed.
func TestChooseChild_GeometryOverflowIsXTreeSentinel(t *testing.T) {
	tree := &Tree{cap: Capacities{MinFanout: 2, DirCap: 4}, cfg: Config{Dimensionality: 2}}
	node := NewDirNode(1, 4)
	node.AddDir(DirEntry{ChildID: 2, MBR: geometry.MBR{Lo: []float64{0, 0}, Hi: []float64{math.Inf(1), 1}}})
	r := geometry.MBR{Lo: []float64{0, 0}, Hi: []float64{0, 0}}

	_, err := tree.chooseChild(node, r, 2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNumericOverflow), "chooseChild must surface the xtree boundary sentinel, not the package-local geometry one")
	require.False(t, errors.Is(err, geometry.ErrNumericOverflow), "the geometry-local sentinel must not leak past the xtree package boundary")
}

func TestWrapGeometryErr_NilIsNil(t *testing.T) {
	require.NoError(t, wrapGeometryErr("op", nil))
}

func TestWrapGeometryErr_WrapsAsXTreeSentinel(t *testing.T) {
	err := wrapGeometryErr("op", geometry.ErrNumericOverflow)
	require.True(t, errors.Is(err, ErrNumericOverflow))
}
