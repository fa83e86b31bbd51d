package xtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// identicalDirNode builds an overflowing directory node whose n entries all
// carry the exact same non-degenerate MBR, so every topological candidate
// partitions it into two sides with an identical box on each side.
func identicalDirNode(n, capacity int) *Node {
	node := NewDirNode(1, capacity)
	box := geometry.MBR{Lo: []float64{0, 0}, Hi: []float64{1, 1}}
	for i := 0; i < n; i++ {
		node.AddDir(DirEntry{ChildID: PageID(i + 2), MBR: box, History: NewSplitHistory(2), LeafCount: 1})
	}
	return node
}

// TestXSplit_IdenticalMBRsForceSupernode is the S4 shape: a directory node
// whose entries all share one MBR has no partition that brings overlap
// under a default max_overlap, so xsplit must report a supernode rather
// than panic or return a high-overlap split.
func TestXSplit_IdenticalMBRsForceSupernode(t *testing.T) {
	tree := &Tree{
		cap: Capacities{MinFanout: 2, DirCap: 4},
		cfg: Config{Dimensionality: 2, OverlapType: OverlapVolume, MaxOverlap: 0.2},
	}
	node := identicalDirNode(5, 4)

	outcome, err := tree.xsplit(node)
	require.NoError(t, err)
	require.True(t, outcome.Supernode, "identical directory-entry MBRs must force a supernode decision")

	for node.NumEntries() > node.Capacity {
		node.GrowSuper(tree.cap.DirCap)
	}
	require.Equal(t, KindSuper, node.Kind)
	require.Equal(t, 2*tree.cap.DirCap, node.Capacity, "one growth step must double capacity to 2*dir_cap for a single entry of overflow")
}

// TestSupernode_ShrinksBackToDirectoryNode is the S5 shape: once a
// supernode's entry count recedes enough to leave a full growth step of
// headroom, repeatedly shrinking must walk it back down to dir_cap exactly
// and reclassify it as a plain directory node.
func TestSupernode_ShrinksBackToDirectoryNode(t *testing.T) {
	dirCap := 4
	node := NewDirNode(1, dirCap)
	node.GrowSuper(dirCap) // capacity 2*dir_cap
	node.GrowSuper(dirCap) // capacity 3*dir_cap
	require.Equal(t, KindSuper, node.Kind)
	require.Equal(t, 3*dirCap, node.Capacity)

	box := geometry.MBR{Lo: []float64{0, 0}, Hi: []float64{1, 1}}
	for i := 0; i < dirCap; i++ { // num_entries == dir_cap, capacity-dir_cap headroom == 2*dir_cap
		node.AddDir(DirEntry{ChildID: PageID(i + 2), MBR: box, History: NewSplitHistory(2), LeafCount: 1})
	}

	for node.Capacity > dirCap && node.NumEntries() <= node.Capacity-dirCap {
		node.ShrinkSuper(dirCap)
	}

	require.Equal(t, KindDir, node.Kind, "a supernode must reclassify as a plain directory node once capacity recedes to dir_cap")
	require.Equal(t, dirCap, node.Capacity)
	require.Equal(t, dirCap, node.NumEntries())
}
