package xtree

import "math"

// preludeSize is the fixed 14-byte node prelude: page_id(4) is_leaf(1)
// is_super(1) num_entries(4) capacity(4).
const preludeSize = 14

// pointIDFixedWidth bounds the on-disk size of a PointID so leaf entries
// have a fixed, measurable byte size as spec.md §3's capacity derivation
// requires. Point identifiers longer than this are rejected at insert time.
const pointIDFixedWidth = 16

// Capacities holds the page-size-derived bounds of spec.md §3: leaf_cap,
// dir_cap, leaf_min, dir_min and min_fanout.
type Capacities struct {
	Dim       int
	PageSize  int
	LeafCap   int
	DirCap    int
	LeafMin   int
	DirMin    int
	MinFanout int
}

// leafEntrySize returns the fixed serialized size of one leaf entry:
// pointIDFixedWidth bytes of identifier plus d coordinates (a point has
// lo == hi, so only one vector is stored).
func leafEntrySize(dim int) int {
	return pointIDFixedWidth + dim*8
}

// dirEntrySize returns the fixed serialized size of one directory entry:
// child page id, lo/hi vectors, a d-bit split history (byte-packed) and a
// leaf-count used by the DATA overlap definition.
func dirEntrySize(dim int) int {
	historyBytes := (dim + 7) / 8
	return 4 + dim*8*2 + historyBytes + 8
}

// ComputeCapacities derives Capacities from a page size, dimensionality and
// the configured relative-minimum ratios. It returns ErrConfigInvalid if the
// page is too small to hold at least two entries of either kind (dir_cap<=1
// would make every directory node unsplittable).
func ComputeCapacities(pageSize, dim int, relMinEntries, relMinFanout float64) (Capacities, error) {
	if pageSize <= preludeSize || dim <= 0 {
		return Capacities{}, ErrConfigInvalid
	}
	usable := pageSize - preludeSize
	leafCap := usable / leafEntrySize(dim)
	dirCap := usable / dirEntrySize(dim)
	if dirCap <= 1 || leafCap <= 1 {
		return Capacities{}, ErrConfigInvalid
	}

	leafMin := clampMin(roundInt(float64(leafCap-1) * relMinEntries))
	dirMin := clampMin(roundInt(float64(dirCap-1) * relMinEntries))
	minFanout := clampMin(roundInt(float64(dirCap-1) * relMinFanout))

	return Capacities{
		Dim:       dim,
		PageSize:  pageSize,
		LeafCap:   leafCap,
		DirCap:    dirCap,
		LeafMin:   leafMin,
		DirMin:    dirMin,
		MinFanout: minFanout,
	}, nil
}

func roundInt(f float64) int {
	return int(math.Round(f))
}

func clampMin(v int) int {
	if v < 2 {
		return 2
	}
	return v
}
