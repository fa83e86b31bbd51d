package xtree

import (
	"fmt"
	"sort"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// splitCandidate is one topological split candidate: the first k entries of
// a sorted order on one side, the remainder on the other.
type splitCandidate struct {
	axis    int
	left    []int // indices into the node's entry slice, assigned to side A
	right   []int
	mbrA    geometry.MBR
	mbrB    geometry.MBR
	overlap float64
	volume  float64
}

// splitOutcome is the result of xsplit: either a valid two-way partition or
// a supernode decision (spec.md §4.6).
type splitOutcome struct {
	Supernode bool
	Axis      int
	Left      []int
	Right     []int
}

// xsplit runs the X-Splitter of spec.md §4.6 over an overflowing node and
// returns either a topological/minimum-overlap partition or a supernode
// decision. node is not mutated; the caller applies the outcome.
func (t *Tree) xsplit(node *Node) (splitOutcome, error) {
	n := node.NumEntries()
	mbrs := entryMBRs(node)
	histories := entryHistories(node)
	isDir := node.Kind != KindLeaf
	minFanout := t.cap.MinFanout

	type axisResult struct {
		score      float64
		candidates []splitCandidate
		ok         bool
	}

	axisResults := make(map[int]axisResult, t.cfg.Dimensionality)
	for axis := 0; axis < t.cfg.Dimensionality; axis++ {
		cands, ok, err := t.enumerateAxis(axis, n, mbrs, histories, isDir, minFanout)
		if err != nil {
			return splitOutcome{}, err
		}
		if !ok {
			continue
		}
		score := 0.0
		for _, c := range cands {
			pa, err := geometry.Perimeter(c.mbrA)
			if err != nil {
				return splitOutcome{}, wrapGeometryErr("axis score perimeter A", err)
			}
			pb, err := geometry.Perimeter(c.mbrB)
			if err != nil {
				return splitOutcome{}, wrapGeometryErr("axis score perimeter B", err)
			}
			score += pa + pb
		}
		axisResults[axis] = axisResult{score: score, candidates: cands, ok: true}
	}

	bestAxis := -1
	var bestScore float64
	for axis, r := range axisResults {
		if bestAxis == -1 || r.score < bestScore {
			bestAxis, bestScore = axis, r.score
		}
	}

	if bestAxis != -1 {
		best, err := t.bestCandidateOnAxis(node, axisResults[bestAxis].candidates)
		if err != nil {
			return splitOutcome{}, err
		}
		if best.overlap <= float64(t.cfg.MaxOverlap) {
			return splitOutcome{Axis: bestAxis, Left: best.left, Right: best.right}, nil
		}
	}

	// Topological split failed (no legal axis, or best overlap too high).
	if !isDir {
		panic(fmt.Sprintf("xtree: leaf node %d failed topological split: invariant violation", node.PageID))
	}

	// Minimum-overlap fallback (directory nodes only, spec.md §4.6).
	var allCandidates []splitCandidate
	for axis := 0; axis < t.cfg.Dimensionality; axis++ {
		cands, ok, err := t.enumerateAxis(axis, n, mbrs, histories, isDir, minFanout)
		if err != nil {
			return splitOutcome{}, err
		}
		if ok {
			allCandidates = append(allCandidates, cands...)
		}
	}
	if len(allCandidates) == 0 {
		return splitOutcome{Supernode: true}, nil
	}
	best, err := t.bestCandidateOnAxis(node, allCandidates)
	if err != nil {
		return splitOutcome{}, err
	}
	if best.overlap > float64(t.cfg.MaxOverlap) {
		return splitOutcome{Supernode: true}, nil
	}
	return splitOutcome{Axis: best.axis, Left: best.left, Right: best.right}, nil
}

// enumerateAxis builds every legal topological candidate for one axis: both
// sorted orders (by lo and by hi), every split point k in [minFanout,
// n-minFanout], filtered by the split-history constraint for directory
// nodes (spec.md §4.6).
func (t *Tree) enumerateAxis(axis, n int, mbrs []geometry.MBR, histories []SplitHistory, isDir bool, minFanout int) ([]splitCandidate, bool, error) {
	if n-minFanout < minFanout {
		return nil, false, nil
	}

	byLo := sortedIndices(n, func(i, j int) bool { return mbrs[i].Lo[axis] < mbrs[j].Lo[axis] })
	byHi := sortedIndices(n, func(i, j int) bool { return mbrs[i].Hi[axis] < mbrs[j].Hi[axis] })

	var out []splitCandidate
	for _, order := range [][]int{byLo, byHi} {
		for k := minFanout; k <= n-minFanout; k++ {
			left := append([]int(nil), order[:k]...)
			right := append([]int(nil), order[k:]...)
			if isDir && !historyConstraintSatisfied(left, right, histories, axis) {
				continue
			}
			mbrA := unionOf(mbrs, left)
			mbrB := unionOf(mbrs, right)
			out = append(out, splitCandidate{axis: axis, left: left, right: right, mbrA: mbrA, mbrB: mbrB})
		}
	}
	return out, len(out) > 0, nil
}

// historyConstraintSatisfied implements spec.md §4.6's split-history rule:
// the chosen axis must be set in all of a side's entries' histories, or set
// in none, for both sides.
func historyConstraintSatisfied(left, right []int, histories []SplitHistory, axis int) bool {
	return sideHomogeneous(left, histories, axis) && sideHomogeneous(right, histories, axis)
}

func sideHomogeneous(side []int, histories []SplitHistory, axis int) bool {
	if len(side) == 0 {
		return true
	}
	first := histories[side[0]].Has(axis)
	for _, idx := range side[1:] {
		if histories[idx].Has(axis) != first {
			return false
		}
	}
	return true
}

// bestCandidateOnAxis computes each candidate's overlap (per the tree's
// configured OverlapType) and total volume, and returns the candidate with
// minimum overlap, ties broken by minimum total volume (spec.md §4.6).
func (t *Tree) bestCandidateOnAxis(node *Node, cands []splitCandidate) (splitCandidate, error) {
	var best splitCandidate
	haveBest := false
	for _, c := range cands {
		overlap, err := t.overlap(node, c)
		if err != nil {
			return splitCandidate{}, err
		}
		volA, err := geometry.Volume(c.mbrA)
		if err != nil {
			return splitCandidate{}, wrapGeometryErr("candidate volume A", err)
		}
		volB, err := geometry.Volume(c.mbrB)
		if err != nil {
			return splitCandidate{}, wrapGeometryErr("candidate volume B", err)
		}
		c.overlap = overlap
		c.volume = volA + volB
		if !haveBest || c.overlap < best.overlap || (c.overlap == best.overlap && c.volume < best.volume) {
			best, haveBest = c, true
		}
	}
	return best, nil
}

// overlap computes the candidate's overlap under the tree's configured
// OverlapType (spec.md §4.6).
func (t *Tree) overlap(node *Node, c splitCandidate) (float64, error) {
	switch t.cfg.OverlapType {
	case OverlapData:
		return t.dataOverlap(node, c)
	default:
		return volumeOverlap(c.mbrA, c.mbrB)
	}
}

// volumeOverlap is intersection_volume(A,B) / (volume(A)+volume(B)).
func volumeOverlap(a, b geometry.MBR) (float64, error) {
	inter, err := geometry.IntersectionVolume(a, b)
	if err != nil {
		return 0, wrapGeometryErr("volume overlap intersection", err)
	}
	if inter == 0 {
		return 0, nil
	}
	volA, err := geometry.Volume(a)
	if err != nil {
		return 0, wrapGeometryErr("volume overlap A", err)
	}
	volB, err := geometry.Volume(b)
	if err != nil {
		return 0, wrapGeometryErr("volume overlap B", err)
	}
	denom := volA + volB
	if denom == 0 {
		return 0, nil
	}
	return inter / denom, nil
}

// dataOverlap is the fraction of data points in intersection(A,B) among
// those in A union B. For a leaf node this is exact: each point's
// coordinate is tested against the intersection box. For a directory node,
// per-point membership below a child entry is not available without
// descending the subtree, so the count is approximated by the LeafCount of
// any entry whose own MBR intersects the intersection box at all (an
// overestimate documented in DESIGN.md).
func (t *Tree) dataOverlap(node *Node, c splitCandidate) (float64, error) {
	inter := intersectionBox(c.mbrA, c.mbrB)
	if inter == nil {
		return 0, nil
	}

	var numerator, denominator int64
	if node.Kind == KindLeaf {
		for _, idx := range append(append([]int(nil), c.left...), c.right...) {
			denominator++
			if geometry.Contains(*inter, node.Leaves[idx].Point) {
				numerator++
			}
		}
		if denominator == 0 {
			return 0, nil
		}
		return float64(numerator) / float64(denominator), nil
	}

	for _, idx := range append(append([]int(nil), c.left...), c.right...) {
		d := node.Dirs[idx]
		denominator += d.LeafCount
		if mbrsIntersect(d.MBR, *inter) {
			numerator += d.LeafCount
		}
	}
	if denominator == 0 {
		return 0, nil
	}
	return float64(numerator) / float64(denominator), nil
}

func intersectionBox(a, b geometry.MBR) *geometry.MBR {
	lo := make([]float64, len(a.Lo))
	hi := make([]float64, len(a.Hi))
	for i := range a.Lo {
		lo[i] = max(a.Lo[i], b.Lo[i])
		hi[i] = min(a.Hi[i], b.Hi[i])
		if lo[i] > hi[i] {
			return nil
		}
	}
	return &geometry.MBR{Lo: lo, Hi: hi}
}

func mbrsIntersect(a, b geometry.MBR) bool {
	for i := range a.Lo {
		if a.Hi[i] < b.Lo[i] || b.Hi[i] < a.Lo[i] {
			return false
		}
	}
	return true
}

func entryMBRs(node *Node) []geometry.MBR {
	n := node.NumEntries()
	out := make([]geometry.MBR, n)
	if node.Kind == KindLeaf {
		for i, e := range node.Leaves {
			out[i] = e.Point
		}
		return out
	}
	for i, d := range node.Dirs {
		out[i] = d.MBR
	}
	return out
}

func entryHistories(node *Node) []SplitHistory {
	if node.Kind == KindLeaf {
		return make([]SplitHistory, node.NumEntries())
	}
	out := make([]SplitHistory, len(node.Dirs))
	for i, d := range node.Dirs {
		out[i] = d.History
	}
	return out
}

func unionOf(mbrs []geometry.MBR, idx []int) geometry.MBR {
	m := mbrs[idx[0]].Clone()
	for _, i := range idx[1:] {
		m = geometry.Union(m, mbrs[i])
	}
	return m
}

func sortedIndices(n int, less func(i, j int) bool) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(idx[a], idx[b]) })
	return idx
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
