package xtree

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/pkg/telemetry"
)

// Config carries every option of spec.md §6.2.
type Config struct {
	PageSize                 int
	Dimensionality           int
	OverlapType              OverlapType
	MaxOverlap               float32
	RelMinEntries            float64
	RelMinFanout             float64
	ReinsertFraction         float64
	OmitOverlapForSupernodes bool
}

// Validate reports ErrConfigInvalid for any option outside its documented
// range (spec.md §7: "Config errors... are reported at construction").
func (c Config) Validate() error {
	if c.PageSize <= preludeSize {
		return fmt.Errorf("xtree: page_size too small: %w", ErrConfigInvalid)
	}
	if c.Dimensionality <= 0 {
		return fmt.Errorf("xtree: dimensionality must be positive: %w", ErrConfigInvalid)
	}
	if c.MaxOverlap < 0 || c.MaxOverlap > 1 {
		return fmt.Errorf("xtree: max_overlap must be in [0,1]: %w", ErrConfigInvalid)
	}
	if c.RelMinEntries <= 0 || c.RelMinEntries > 0.5 {
		return fmt.Errorf("xtree: rel_min_entries out of range: %w", ErrConfigInvalid)
	}
	if c.RelMinFanout <= 0 || c.RelMinFanout > 0.5 {
		return fmt.Errorf("xtree: rel_min_fanout out of range: %w", ErrConfigInvalid)
	}
	if c.ReinsertFraction < 0 || c.ReinsertFraction >= 1 {
		return fmt.Errorf("xtree: reinsert_fraction out of range: %w", ErrConfigInvalid)
	}
	return nil
}

// Tree is the disk-resident X-tree index. It is single-writer per spec.md §5
// and callers are responsible for serializing access.
type Tree struct {
	store PageStore
	cap   Capacities
	cfg   Config
	log   *zap.Logger
	tel   *metrics

	// overflowedThisInsertion tracks, per insertion, which levels have
	// already gone through forced reinsertion (DESIGN NOTES §9:
	// "implement as a per-insertion bitset indexed by level; reset at each
	// top-level insert()").
	overflowedThisInsertion map[int]bool

	// insertCtx carries the current top-level Insert call's context down
	// through adjustTree/xsplit for span/metric attribution; it is set at
	// the start of every Insert and is context.Background() until the first
	// Insert.
	insertCtx context.Context
}

// New constructs a Tree over an empty PageStore, deriving capacities from
// cfg, setting the initial in-memory header (persisted at Commit) and
// writing the empty root leaf.
func New(store PageStore, cfg Config, log *zap.Logger, tel *telemetry.Telemetry) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	caps, err := ComputeCapacities(cfg.PageSize, cfg.Dimensionality, cfg.RelMinEntries, cfg.RelMinFanout)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	h := Header{
		PageSize:       cfg.PageSize,
		Dimensionality: cfg.Dimensionality,
		DirCapacity:    caps.DirCap,
		LeafCapacity:   caps.LeafCap,
		DirMinimum:     caps.DirMin,
		LeafMinimum:    caps.LeafMin,
		MinFanout:      caps.MinFanout,
		OverlapType:    cfg.OverlapType,
		MaxOverlap:     cfg.MaxOverlap,
		RootPageID:     RootPageID,
		NextPageID:     RootPageID,
		Height:         1,
	}
	store.SetHeader(h)

	t := &Tree{store: store, cap: caps, cfg: cfg, log: log, tel: newMetrics(tel), overflowedThisInsertion: map[int]bool{}, insertCtx: context.Background()}

	root := NewLeafNode(RootPageID, caps.LeafCap)
	if err := store.Write(root); err != nil {
		return nil, fmt.Errorf("xtree: write initial root: %w", err)
	}
	return t, nil
}

// Open reconstructs a Tree handle over a PageStore whose header/root have
// already been loaded (by core/storage/pagestore.Open, which is
// grounded on spec.md §4.8's load() algorithm).
//
// Header fields (spec.md §6.1: dir/leaf capacity and minimum, min_fanout,
// dimensionality, max_overlap, overlap_type) are authoritative and always
// taken from the store's header. spec.md §6.1's header field table does not
// persist rel_min_entries, rel_min_fanout, reinsert_fraction or
// omit_overlap_for_supernodes — those are runtime-only knobs the caller
// must resupply via cfg on every reopen, the same way it supplied them to
// New.
func Open(store PageStore, cfg Config, log *zap.Logger, tel *telemetry.Telemetry) (*Tree, error) {
	h := store.Header()
	caps := Capacities{
		Dim: h.Dimensionality, PageSize: h.PageSize,
		LeafCap: h.LeafCapacity, DirCap: h.DirCapacity,
		LeafMin: h.LeafMinimum, DirMin: h.DirMinimum,
		MinFanout: h.MinFanout,
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.PageSize = h.PageSize
	cfg.Dimensionality = h.Dimensionality
	cfg.OverlapType = h.OverlapType
	cfg.MaxOverlap = h.MaxOverlap
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{store: store, cap: caps, cfg: cfg, log: log, tel: newMetrics(tel), overflowedThisInsertion: map[int]bool{}, insertCtx: context.Background()}
	height, err := t.computeHeight()
	if err != nil {
		return nil, err
	}
	h.Height = height
	store.SetHeader(h)
	return t, nil
}

// computeHeight recomputes tree height by walking leftmost children from
// the root, per spec.md §4.8's load() postcondition.
func (t *Tree) computeHeight() (int, error) {
	height := 1
	pid := RootPageID
	for {
		n, err := t.store.Read(pid)
		if err != nil {
			return 0, fmt.Errorf("xtree: walk leftmost child: %w", err)
		}
		if n.Kind == KindLeaf || n.NumEntries() == 0 {
			return height, nil
		}
		pid = n.Dirs[0].ChildID
		height++
	}
}

// Height reports the current tree height (root = level = Height, leaves at
// level 1).
func (t *Tree) Height() int {
	return t.store.Header().Height
}

// NumElements reports the total point count maintained by the header.
func (t *Tree) NumElements() int64 {
	return t.store.Header().NumElements
}

func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNumericOverflow
	}
	return nil
}

// wrapGeometryErr translates a core/geometry error (always
// geometry.ErrNumericOverflow, the package-local sentinel) into the
// boundary sentinel xtree.ErrNumericOverflow that spec.md §6.3 documents,
// so errors.Is(err, xtree.ErrNumericOverflow) is reliable no matter which
// geometry call overflowed first.
func wrapGeometryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("xtree: %s: %w", op, ErrNumericOverflow)
}
