package xtree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// Kind tags which of the three node variants a Node is, per DESIGN NOTES
// §9 ("model Node as a tagged variant Leaf | Dir | Super, rather than any
// subclass relationship").
type Kind uint8

const (
	KindLeaf Kind = iota
	KindDir
	KindSuper
)

// Node is a page holding either all leaf entries or all directory entries.
// Supernodes are directory nodes whose Capacity has grown past dirCap in
// dirCap-sized steps; they carry the same shape, only Kind and Capacity
// differ.
type Node struct {
	PageID   PageID
	Kind     Kind
	Capacity int
	Leaves   []LeafEntry // populated iff Kind == KindLeaf
	Dirs     []DirEntry  // populated iff Kind == KindDir or KindSuper
}

// NewLeafNode allocates an empty leaf node with the given page id and cap.
func NewLeafNode(pageID PageID, cap int) *Node {
	return &Node{PageID: pageID, Kind: KindLeaf, Capacity: cap, Leaves: make([]LeafEntry, 0, cap)}
}

// NewDirNode allocates an empty directory node.
func NewDirNode(pageID PageID, cap int) *Node {
	return &Node{PageID: pageID, Kind: KindDir, Capacity: cap, Dirs: make([]DirEntry, 0, cap)}
}

// NumEntries returns the current fill of the node, across either variant.
func (n *Node) NumEntries() int {
	if n.Kind == KindLeaf {
		return len(n.Leaves)
	}
	return len(n.Dirs)
}

// IsSuper reports whether the node is currently a supernode.
func (n *Node) IsSuper() bool { return n.Kind == KindSuper }

// AddLeaf appends a leaf entry. Caller is responsible for checking capacity
// before calling (the driver permits transient overflow, per spec.md §3).
func (n *Node) AddLeaf(e LeafEntry) {
	n.Leaves = append(n.Leaves, e)
}

// AddDir appends a directory entry.
func (n *Node) AddDir(e DirEntry) {
	n.Dirs = append(n.Dirs, e)
}

// MBR returns the union of all of the node's entry MBRs. Empty nodes return
// the zero-value MBR (undefined in every dimension); callers must not call
// this on an empty node.
func (n *Node) MBR() geometry.MBR {
	if n.Kind == KindLeaf {
		if len(n.Leaves) == 0 {
			return geometry.MBR{}
		}
		m := n.Leaves[0].Point.Clone()
		for _, l := range n.Leaves[1:] {
			m = geometry.Union(m, l.Point)
		}
		return m
	}
	if len(n.Dirs) == 0 {
		return geometry.MBR{}
	}
	m := n.Dirs[0].MBR.Clone()
	for _, d := range n.Dirs[1:] {
		m = geometry.Union(m, d.MBR)
	}
	return m
}

// LeafCount returns the number of data points in the node's subtree: itself
// for a leaf, the sum of children's recorded LeafCount for a directory node.
func (n *Node) LeafCount() int64 {
	if n.Kind == KindLeaf {
		return int64(len(n.Leaves))
	}
	var total int64
	for _, d := range n.Dirs {
		total += d.LeafCount
	}
	return total
}

// GrowSuper increments capacity by dirCap and flips Kind to KindSuper,
// returning the new capacity (spec.md §4.3, §4.6 supernode decision).
func (n *Node) GrowSuper(dirCap int) int {
	n.Kind = KindSuper
	n.Capacity += dirCap
	return n.Capacity
}

// ShrinkSuper decrements capacity by the growth step, converting back to a
// normal directory node once Capacity recedes to exactly dirCap.
func (n *Node) ShrinkSuper(dirCap int) int {
	n.Capacity -= dirCap
	if n.Capacity == dirCap {
		n.Kind = KindDir
	}
	return n.Capacity
}

// SuperPageCount returns how many page_size-sized slots a supernode's
// on-disk representation occupies: ceil(capacity/dir_cap).
func (n *Node) SuperPageCount(dirCap int) int {
	return int(math.Ceil(float64(n.Capacity) / float64(dirCap)))
}

// Serialize writes the 14-byte prelude followed by the node's entries.
// Leaf entries are fixed pointIDFixedWidth+dim*8 bytes; directory entries
// are fixed 4+dim*16+ceil(dim/8)+8 bytes, matching capacity.go's sizing so a
// caller can preallocate an exact-size buffer.
func (n *Node) Serialize(dim int) ([]byte, error) {
	var buf bytes.Buffer
	isLeaf := uint8(0)
	if n.Kind == KindLeaf {
		isLeaf = 1
	}
	isSuper := uint8(0)
	if n.Kind == KindSuper {
		isSuper = 1
	}
	prelude := [...]any{
		uint32(n.PageID), isLeaf, isSuper, uint32(n.NumEntries()), uint32(n.Capacity),
	}
	for _, v := range prelude {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("xtree: serialize prelude: %w", ErrIO)
		}
	}

	if n.Kind == KindLeaf {
		for _, e := range n.Leaves {
			if err := writeFixedString(&buf, string(e.PointID), pointIDFixedWidth); err != nil {
				return nil, err
			}
			for i := 0; i < dim; i++ {
				if err := binary.Write(&buf, binary.LittleEndian, e.Point.Lo[i]); err != nil {
					return nil, fmt.Errorf("xtree: serialize leaf coord: %w", ErrIO)
				}
			}
		}
		return buf.Bytes(), nil
	}

	for _, d := range n.Dirs {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(d.ChildID)); err != nil {
			return nil, fmt.Errorf("xtree: serialize dir child id: %w", ErrIO)
		}
		for i := 0; i < dim; i++ {
			if err := binary.Write(&buf, binary.LittleEndian, d.MBR.Lo[i]); err != nil {
				return nil, fmt.Errorf("xtree: serialize dir lo: %w", ErrIO)
			}
		}
		for i := 0; i < dim; i++ {
			if err := binary.Write(&buf, binary.LittleEndian, d.MBR.Hi[i]); err != nil {
				return nil, fmt.Errorf("xtree: serialize dir hi: %w", ErrIO)
			}
		}
		historyBytes := packHistory(d.History)
		if _, err := buf.Write(historyBytes); err != nil {
			return nil, fmt.Errorf("xtree: serialize history: %w", ErrIO)
		}
		if err := binary.Write(&buf, binary.LittleEndian, d.LeafCount); err != nil {
			return nil, fmt.Errorf("xtree: serialize leaf count: %w", ErrIO)
		}
	}
	return buf.Bytes(), nil
}

// DeserializeNode parses the 14-byte prelude and a node's entries out of
// raw, out of page bytes for the given dimensionality.
func DeserializeNode(raw []byte, dim int) (*Node, error) {
	if len(raw) < preludeSize {
		return nil, fmt.Errorf("xtree: short prelude: %w", ErrCorruptFile)
	}
	r := bytes.NewReader(raw)
	var pageID, numEntries, capacity uint32
	var isLeaf, isSuper uint8
	for _, v := range []any{&pageID, &isLeaf, &isSuper, &numEntries, &capacity} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("xtree: read prelude: %w", ErrCorruptFile)
		}
	}

	n := &Node{PageID: PageID(pageID), Capacity: int(capacity)}
	switch {
	case isSuper == 1:
		n.Kind = KindSuper
	case isLeaf == 1:
		n.Kind = KindLeaf
	default:
		n.Kind = KindDir
	}

	if n.Kind == KindLeaf {
		n.Leaves = make([]LeafEntry, 0, numEntries)
		for i := uint32(0); i < numEntries; i++ {
			id, err := readFixedString(r, pointIDFixedWidth)
			if err != nil {
				return nil, fmt.Errorf("xtree: read leaf id: %w", ErrCorruptFile)
			}
			coords := make([]float64, dim)
			for k := 0; k < dim; k++ {
				if err := binary.Read(r, binary.LittleEndian, &coords[k]); err != nil {
					return nil, fmt.Errorf("xtree: read leaf coord: %w", ErrCorruptFile)
				}
			}
			n.Leaves = append(n.Leaves, LeafEntry{PointID: PointID(id), Point: geometry.NewPointMBR(coords)})
		}
		return n, nil
	}

	historyBytes := (dim + 7) / 8
	n.Dirs = make([]DirEntry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		var childID uint32
		if err := binary.Read(r, binary.LittleEndian, &childID); err != nil {
			return nil, fmt.Errorf("xtree: read dir child id: %w", ErrCorruptFile)
		}
		lo := make([]float64, dim)
		hi := make([]float64, dim)
		for k := 0; k < dim; k++ {
			if err := binary.Read(r, binary.LittleEndian, &lo[k]); err != nil {
				return nil, fmt.Errorf("xtree: read dir lo: %w", ErrCorruptFile)
			}
		}
		for k := 0; k < dim; k++ {
			if err := binary.Read(r, binary.LittleEndian, &hi[k]); err != nil {
				return nil, fmt.Errorf("xtree: read dir hi: %w", ErrCorruptFile)
			}
		}
		raw := make([]byte, historyBytes)
		if _, err := r.Read(raw); err != nil {
			return nil, fmt.Errorf("xtree: read history: %w", ErrCorruptFile)
		}
		var leafCount int64
		if err := binary.Read(r, binary.LittleEndian, &leafCount); err != nil {
			return nil, fmt.Errorf("xtree: read leaf count: %w", ErrCorruptFile)
		}
		n.Dirs = append(n.Dirs, DirEntry{
			ChildID:   PageID(childID),
			MBR:       geometry.MBR{Lo: lo, Hi: hi},
			History:   unpackHistory(raw, dim),
			LeafCount: leafCount,
		})
	}
	return n, nil
}

func writeFixedString(buf *bytes.Buffer, s string, width int) error {
	if len(s) > width {
		return fmt.Errorf("xtree: point id %q exceeds fixed width %d: %w", s, width, ErrCapacityExceeded)
	}
	b := make([]byte, width)
	copy(b, s)
	_, err := buf.Write(b)
	if err != nil {
		return fmt.Errorf("xtree: serialize point id: %w", ErrIO)
	}
	return nil
}

func readFixedString(r *bytes.Reader, width int) (string, error) {
	b := make([]byte, width)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i]), nil
}

func packHistory(h SplitHistory) []byte {
	out := make([]byte, (len(h)+7)/8)
	for i, set := range h {
		if set {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func unpackHistory(raw []byte, dim int) SplitHistory {
	h := NewSplitHistory(dim)
	for i := 0; i < dim; i++ {
		if raw[i/8]&(1<<uint(i%8)) != 0 {
			h[i] = true
		}
	}
	return h
}
