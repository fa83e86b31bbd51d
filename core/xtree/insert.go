package xtree

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// Insert adds a single point to the index (spec.md §4.5 insert(leaf_entry)).
func (t *Tree) Insert(ctx context.Context, pointID PointID, coords []float64) error {
	if len(coords) != t.cfg.Dimensionality {
		return fmt.Errorf("xtree: point has %d dims, tree has %d: %w", len(coords), t.cfg.Dimensionality, ErrConfigInvalid)
	}
	if len(pointID) > pointIDFixedWidth {
		return fmt.Errorf("xtree: point id %q exceeds fixed width %d: %w", pointID, pointIDFixedWidth, ErrCapacityExceeded)
	}
	for _, c := range coords {
		if err := checkFinite(c); err != nil {
			return err
		}
	}

	ctx, end := t.tel.startSpan(ctx, "xtree.Insert")
	defer end()

	point := geometry.NewPointMBR(coords)
	t.overflowedThisInsertion = map[int]bool{}
	t.insertCtx = ctx

	if err := t.insertLeafAt(LeafEntry{PointID: pointID, Point: point}); err != nil {
		return err
	}

	h := t.store.Header()
	h.NumElements++
	t.store.SetHeader(h)

	t.tel.recordInsert(ctx)
	return nil
}

// insertLeafAt is spec.md §4.5's insert(leaf_entry): choose a leaf, append,
// and adjust the tree if it overflowed or the point landed outside the
// leaf's prior MBR. Also used to reinsert entries removed by forced
// reinsertion.
func (t *Tree) insertLeafAt(e LeafEntry) error {
	path, err := t.chooseSubtree(1, e.Point)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1].Node

	containedBefore := leaf.NumEntries() > 0 && geometry.Contains(leaf.MBR(), e.Point)
	leaf.AddLeaf(e)

	isRoot := leaf.PageID == RootPageID
	overflowing := leaf.NumEntries() > leaf.Capacity
	if !overflowing {
		// An overflowing node is written once adjustTree has resolved it
		// (reinsertion, split or supernode); writing it here would try to
		// serialize more entries than the page was sized to hold.
		if err := t.store.Write(leaf); err != nil {
			return fmt.Errorf("xtree: write leaf: %w", err)
		}
		if isRoot || containedBefore {
			return nil
		}
	}
	return t.adjustTree(path, 1)
}

// insertDirAt is spec.md §4.5's insert_directory(dir_entry, level): the same
// driver for a directory entry being reinserted at a non-leaf level.
func (t *Tree) insertDirAt(level int, e DirEntry) error {
	path, err := t.chooseSubtree(level, e.MBR)
	if err != nil {
		return err
	}
	node := path[len(path)-1].Node

	containedBefore := node.NumEntries() > 0 && geometry.Contains(node.MBR(), e.MBR)
	node.AddDir(e)

	isRoot := node.PageID == RootPageID
	overflowing := node.NumEntries() > node.Capacity
	if !overflowing {
		if err := t.store.Write(node); err != nil {
			return fmt.Errorf("xtree: write directory node: %w", err)
		}
		if isRoot || containedBefore {
			return nil
		}
	}
	return t.adjustTree(path, level)
}

// adjustTree walks path from its tail (where an entry was just added or a
// node's capacity just changed) up to the root, performing overflow
// treatment and MBR propagation per spec.md §4.5.
func (t *Tree) adjustTree(path []PathStep, level0 int) error {
	for idx := len(path) - 1; idx >= 0; idx-- {
		current := path[idx].Node
		isRoot := idx == 0
		level := level0 + (len(path) - 1 - idx)

		if current.IsSuper() {
			overflowing := current.NumEntries() > current.Capacity
			reinserted := false
			if overflowing && !t.overflowedThisInsertion[level] {
				t.overflowedThisInsertion[level] = true
				if err := t.reinsertOverflow(path, idx, level); err != nil {
					return err
				}
				reinserted = true
				overflowing = current.NumEntries() > current.Capacity
			}
			switch {
			case overflowing:
				for current.NumEntries() > current.Capacity {
					current.GrowSuper(t.cap.DirCap)
				}
				t.logSupernode(current, "grow")
			case reinserted:
				for current.Capacity > t.cap.DirCap && current.NumEntries() <= current.Capacity-t.cap.DirCap {
					current.ShrinkSuper(t.cap.DirCap)
				}
				if !current.IsSuper() {
					t.logSupernode(current, "shrink")
					t.tel.recordSupernodeDelta(t.insertCtx, -1)
				}
			}
			if err := t.store.Write(current); err != nil {
				return fmt.Errorf("xtree: write supernode: %w", err)
			}
			if isRoot {
				return nil
			}
			if !t.propagateToParent(path, idx) {
				return nil
			}
			continue
		}

		if current.NumEntries() <= current.Capacity {
			if err := t.store.Write(current); err != nil {
				return fmt.Errorf("xtree: write node: %w", err)
			}
			if isRoot {
				return nil
			}
			if !t.propagateToParent(path, idx) {
				return nil
			}
			continue
		}

		// Overflow on a non-super node.
		if !t.overflowedThisInsertion[level] {
			t.overflowedThisInsertion[level] = true
			if err := t.reinsertOverflow(path, idx, level); err != nil {
				return err
			}
			if isRoot {
				return nil
			}
			if !t.propagateToParent(path, idx) {
				return nil
			}
			continue
		}

		outcome, err := t.xsplit(current)
		if err != nil {
			return err
		}

		if outcome.Supernode {
			for current.NumEntries() > current.Capacity {
				current.GrowSuper(t.cap.DirCap)
			}
			t.logSupernode(current, "new")
			t.tel.recordSplitOutcome(t.insertCtx, "supernode")
			t.tel.recordSupernodeDelta(t.insertCtx, 1)
			if err := t.store.Write(current); err != nil {
				return fmt.Errorf("xtree: write new supernode: %w", err)
			}
			if isRoot {
				return nil
			}
			if !t.propagateToParent(path, idx) {
				return nil
			}
			continue
		}

		nodeA, nodeB, err := t.applySplit(current, outcome)
		if err != nil {
			return err
		}
		t.tel.recordSplitOutcome(t.insertCtx, "topological")

		if isRoot {
			return t.createNewRoot(nodeA, nodeB, outcome.Axis)
		}

		if err := t.store.Write(nodeA); err != nil {
			return fmt.Errorf("xtree: write split node A: %w", err)
		}
		if err := t.store.Write(nodeB); err != nil {
			return fmt.Errorf("xtree: write split node B: %w", err)
		}

		parent := path[idx-1].Node
		parentIdx := path[idx].IndexInParent
		history := parent.Dirs[parentIdx].History.Clone()
		history.Set(outcome.Axis)
		siblingHistory := history.Clone()

		parent.Dirs[parentIdx] = DirEntry{ChildID: nodeA.PageID, MBR: nodeA.MBR(), History: history, LeafCount: nodeA.LeafCount()}
		parent.Dirs = append(parent.Dirs, DirEntry{ChildID: nodeB.PageID, MBR: nodeB.MBR(), History: siblingHistory, LeafCount: nodeB.LeafCount()})
	}
	return nil
}

// propagateToParent refreshes the parent's DirEntry for path[idx] with the
// node's current MBR/LeafCount, returning whether the MBR actually changed
// (spec.md §4.5: "propagate upward only if it changed").
func (t *Tree) propagateToParent(path []PathStep, idx int) bool {
	parent := path[idx-1].Node
	pi := path[idx].IndexInParent
	newMBR := path[idx].Node.MBR()
	old := parent.Dirs[pi]
	changed := !geometry.Equals(old.MBR, newMBR)
	parent.Dirs[pi].MBR = newMBR
	parent.Dirs[pi].LeafCount = path[idx].Node.LeafCount()
	return changed
}

// reinsertOverflow removes the farthest entries from the overflowing node,
// persists the shrunk node, then reinserts the removed entries from the
// root at the same level (spec.md §4.5).
func (t *Tree) reinsertOverflow(path []PathStep, idx, level int) error {
	current := path[idx].Node
	var removedLeaf []LeafEntry
	var removedDir []DirEntry
	if current.Kind == KindLeaf {
		removedLeaf = t.forcedReinsertionLeaf(current)
	} else {
		removedDir = t.forcedReinsertionDir(current)
	}
	if err := t.store.Write(current); err != nil {
		return fmt.Errorf("xtree: write shrunk node: %w", err)
	}
	t.tel.recordReinsertion(t.insertCtx, len(removedLeaf)+len(removedDir))
	for _, e := range removedLeaf {
		if err := t.insertLeafAt(e); err != nil {
			return err
		}
	}
	for _, e := range removedDir {
		if err := t.insertDirAt(level, e); err != nil {
			return err
		}
	}
	return nil
}

// applySplit materializes a splitOutcome into two Node objects: nodeA keeps
// the overflowing node's page id, nodeB is freshly allocated.
func (t *Tree) applySplit(node *Node, outcome splitOutcome) (*Node, *Node, error) {
	newPageID, err := t.store.Alloc()
	if err != nil {
		return nil, nil, fmt.Errorf("xtree: allocate split sibling page: %w", err)
	}

	var cap int
	if node.Kind == KindLeaf {
		cap = t.cap.LeafCap
	} else {
		cap = t.cap.DirCap
	}

	nodeA := &Node{PageID: node.PageID, Kind: node.Kind, Capacity: cap}
	nodeB := &Node{PageID: newPageID, Kind: node.Kind, Capacity: cap}

	if node.Kind == KindLeaf {
		for _, i := range outcome.Left {
			nodeA.AddLeaf(node.Leaves[i])
		}
		for _, i := range outcome.Right {
			nodeB.AddLeaf(node.Leaves[i])
		}
	} else {
		for _, i := range outcome.Left {
			nodeA.AddDir(node.Dirs[i])
		}
		for _, i := range outcome.Right {
			nodeB.AddDir(node.Dirs[i])
		}
	}
	return nodeA, nodeB, nil
}

// createNewRoot builds a fresh root directory node over two split halves of
// the old root, swapping page ids so the well-known RootPageID stays the
// root (spec.md §3, §4.5).
func (t *Tree) createNewRoot(nodeA, nodeB *Node, axis int) error {
	newRootChildPageID, err := t.store.Alloc()
	if err != nil {
		return fmt.Errorf("xtree: allocate root-swap page: %w", err)
	}
	nodeA.PageID = newRootChildPageID
	if err := t.store.Write(nodeA); err != nil {
		return fmt.Errorf("xtree: write root-swap node A: %w", err)
	}
	if err := t.store.Write(nodeB); err != nil {
		return fmt.Errorf("xtree: write root-swap node B: %w", err)
	}

	histA := NewSplitHistory(t.cfg.Dimensionality)
	histA.Set(axis)
	histB := histA.Clone()

	newRoot := NewDirNode(RootPageID, t.cap.DirCap)
	newRoot.AddDir(DirEntry{ChildID: nodeA.PageID, MBR: nodeA.MBR(), History: histA, LeafCount: nodeA.LeafCount()})
	newRoot.AddDir(DirEntry{ChildID: nodeB.PageID, MBR: nodeB.MBR(), History: histB, LeafCount: nodeB.LeafCount()})
	if err := t.store.Write(newRoot); err != nil {
		return fmt.Errorf("xtree: write new root: %w", err)
	}

	h := t.store.Header()
	h.Height++
	h.RootPageID = RootPageID
	t.store.SetHeader(h)
	t.log.Info("new root created", zap.Int("height", h.Height), zap.Int("axis", axis))
	return nil
}

func (t *Tree) logSupernode(n *Node, reason string) {
	t.log.Info("supernode",
		zap.Uint32("page_id", uint32(n.PageID)),
		zap.Int("capacity", n.Capacity),
		zap.String("reason", reason))
}

// BulkLoad is unsupported (spec.md §1, §7, §9: "Bulk load is advertised but
// unimplemented upstream; remains NotSupported").
func (t *Tree) BulkLoad(points []LeafEntry) error {
	return ErrNotSupported
}

// Delete is unsupported (spec.md §1, §7, §9: "Deletion is not specified
// upstream and is therefore out of scope").
func (t *Tree) Delete(pointID PointID) error {
	return ErrNotSupported
}
