package xtree

import (
	"math"
	"sort"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// forcedReinsertionLeaf and forcedReinsertionDir implement the R*-tree
// overflow mitigation of spec.md §4.5 for leaf and directory nodes
// respectively: remove the farthest-by-center-distance entries from an
// overflowing node, shrink it, and return the removed entries for the
// caller to reinsert from the root at the same level.
//
// Each mutates node in place (removing the selected entries) and returns
// the removed entries.
func (t *Tree) forcedReinsertionLeaf(node *Node) []LeafEntry {
	center := geometry.Center(node.MBR())
	count := reinsertCount(node.Capacity, t.cfg.ReinsertFraction)
	order := sortByCenterDistanceDesc(len(node.Leaves), func(i int) geometry.MBR { return node.Leaves[i].Point }, center)

	removed := make([]LeafEntry, 0, count)
	removeSet := make(map[int]bool, count)
	for _, idx := range order[:count] {
		removed = append(removed, node.Leaves[idx])
		removeSet[idx] = true
	}
	node.Leaves = filterLeaves(node.Leaves, removeSet)
	return removed
}

func (t *Tree) forcedReinsertionDir(node *Node) []DirEntry {
	center := geometry.Center(node.MBR())
	count := reinsertCount(node.Capacity, t.cfg.ReinsertFraction)
	order := sortByCenterDistanceDesc(len(node.Dirs), func(i int) geometry.MBR { return node.Dirs[i].MBR }, center)

	removed := make([]DirEntry, 0, count)
	removeSet := make(map[int]bool, count)
	for _, idx := range order[:count] {
		removed = append(removed, node.Dirs[idx])
		removeSet[idx] = true
	}
	node.Dirs = filterDirs(node.Dirs, removeSet)
	return removed
}

// reinsertCount is ceil(cap * reinsert_fraction) per spec.md §4.5, clamped
// to [1, cap-1] so at least one entry moves and at least one stays.
func reinsertCount(cap int, fraction float64) int {
	c := int(math.Ceil(float64(cap) * fraction))
	if c < 1 {
		c = 1
	}
	if c >= cap {
		c = cap - 1
	}
	return c
}

func sortByCenterDistanceDesc(n int, mbrAt func(int) geometry.MBR, center []float64) []int {
	centerMBR := geometry.MBR{Lo: center, Hi: center}
	idx := make([]int, n)
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		idx[i] = i
		dist[i] = geometry.CenterDistance2(mbrAt(i), centerMBR)
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] > dist[idx[b]] })
	return idx
}

func filterLeaves(entries []LeafEntry, remove map[int]bool) []LeafEntry {
	out := make([]LeafEntry, 0, len(entries)-len(remove))
	for i, e := range entries {
		if !remove[i] {
			out = append(out, e)
		}
	}
	return out
}

func filterDirs(entries []DirEntry, remove map[int]bool) []DirEntry {
	out := make([]DirEntry, 0, len(entries)-len(remove))
	for i, e := range entries {
		if !remove[i] {
			out = append(out, e)
		}
	}
	return out
}
