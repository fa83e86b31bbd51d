package xtree

import (
	"fmt"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// PathStep is one step of a root-to-target path: the node visited and the
// index within its parent that was taken to reach it (DESIGN NOTES §9:
// "Traversal carries a path (vector of (page_id, index_in_parent))").
type PathStep struct {
	PageID        PageID
	Node          *Node
	IndexInParent int // -1 for the root
}

// chooseSubtree descends iteratively (DESIGN NOTES §9: "convert to
// iteration to avoid stack limits") from the root to the node at the
// requested level, returning the full path taken.
func (t *Tree) chooseSubtree(level int, r geometry.MBR) ([]PathStep, error) {
	height := t.Height()
	path := make([]PathStep, 0, height)
	pid := RootPageID
	currentLevel := height
	idxInParent := -1

	for {
		node, err := t.store.Read(pid)
		if err != nil {
			return nil, fmt.Errorf("xtree: choose-subtree read: %w", err)
		}
		path = append(path, PathStep{PageID: pid, Node: node, IndexInParent: idxInParent})

		if node.Kind == KindLeaf || currentLevel == level {
			return path, nil
		}

		childIdx, err := t.chooseChild(node, r, currentLevel)
		if err != nil {
			return nil, err
		}
		idxInParent = childIdx
		pid = node.Dirs[childIdx].ChildID
		currentLevel--
	}
}

// chooseChild implements spec.md §4.4 steps 2-3 for one directory node.
func (t *Tree) chooseChild(node *Node, r geometry.MBR, nodeLevel int) (int, error) {
	// Step 2: prefer a child whose MBR already contains r; among those,
	// the one with minimum volume.
	best := -1
	var bestVol float64
	for i, d := range node.Dirs {
		if !geometry.Contains(d.MBR, r) {
			continue
		}
		vol, err := geometry.Volume(d.MBR)
		if err != nil {
			return 0, wrapGeometryErr("choose-subtree volume", err)
		}
		if best == -1 || vol < bestVol {
			best, bestVol = i, vol
		}
	}
	if best != -1 {
		return best, nil
	}

	// Step 3: lexicographic (overlap_increase, volume_increase, volume).
	childrenAreLeaves := nodeLevel-1 == 1
	computeOverlap := childrenAreLeaves && (!node.IsSuper() || !t.cfg.OmitOverlapForSupernodes)

	best = -1
	var bestOverlapInc, bestVolInc, bestChildVol float64
	for i, d := range node.Dirs {
		testMBR := geometry.Union(d.MBR, r)

		overlapInc := 0.0
		if computeOverlap {
			inc, err := t.overlapIncrease(node.Dirs, i, testMBR)
			if err != nil {
				return 0, err
			}
			overlapInc = inc
		}

		testVol, err := geometry.Volume(testMBR)
		if err != nil {
			return 0, wrapGeometryErr("choose-subtree test volume", err)
		}
		childVol, err := geometry.Volume(d.MBR)
		if err != nil {
			return 0, wrapGeometryErr("choose-subtree child volume", err)
		}
		volInc := testVol - childVol
		if err := checkFinite(volInc); err != nil {
			return 0, err
		}

		if best == -1 ||
			overlapInc < bestOverlapInc ||
			(overlapInc == bestOverlapInc && volInc < bestVolInc) ||
			(overlapInc == bestOverlapInc && volInc == bestVolInc && childVol < bestChildVol) {
			best, bestOverlapInc, bestVolInc, bestChildVol = i, overlapInc, volInc, childVol
		}
	}
	return best, nil
}

// overlapIncrease computes the incremental change in the sum, over siblings
// j != i, of intersection_volume(child_i.mbr, child_j.mbr) when child_i.mbr
// is replaced by testMBR (spec.md §4.4).
func (t *Tree) overlapIncrease(siblings []DirEntry, i int, testMBR geometry.MBR) (float64, error) {
	before, after := 0.0, 0.0
	for j, sib := range siblings {
		if j == i {
			continue
		}
		b, err := geometry.IntersectionVolume(siblings[i].MBR, sib.MBR)
		if err != nil {
			return 0, wrapGeometryErr("overlap-increase before", err)
		}
		a, err := geometry.IntersectionVolume(testMBR, sib.MBR)
		if err != nil {
			return 0, wrapGeometryErr("overlap-increase after", err)
		}
		before += b
		after += a
	}
	inc := after - before
	if err := checkFinite(inc); err != nil {
		return 0, err
	}
	return inc, nil
}
