package xtree

import "github.com/xtreedb/xtreedb/core/geometry"

// PageID identifies a node's location in the page store. It is never reused
// within the lifetime of an open tree.
type PageID uint32

// InvalidPageID marks the absence of a child/parent reference.
const InvalidPageID PageID = 0

// PointID is the external identifier carried by a leaf entry. The point
// data source itself is an external collaborator; PointID is merely the
// opaque label the tree stores alongside the coordinates.
type PointID string

// LeafEntry binds an external point identifier to its coordinates.
type LeafEntry struct {
	PointID PointID
	Point   geometry.MBR // degenerate MBR, Lo == Hi
}

// DirEntry points at a child node and carries the MBR summarizing it plus
// the split-history bits accumulated on the path from the root.
type DirEntry struct {
	ChildID     PageID
	MBR         geometry.MBR
	History     SplitHistory
	LeafCount   int64 // data points below this entry, maintained for overlap_type=DATA
}

// Clone returns a deep copy safe for independent mutation.
func (e DirEntry) Clone() DirEntry {
	return DirEntry{
		ChildID:   e.ChildID,
		MBR:       e.MBR.Clone(),
		History:   e.History.Clone(),
		LeafCount: e.LeafCount,
	}
}
