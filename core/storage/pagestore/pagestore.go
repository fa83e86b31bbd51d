// Package pagestore implements the "simple get/write/allocate interface"
// spec.md §4.2 asks for: page allocation, page read/write with a supernode
// in-memory map consulted first, and header get/set — backed by an LRU page
// cache in front of core/storage/disk.DiskManager. Grounded on
// core/write_engine/memtable.BufferPoolManager, generalized from a pinning
// buffer pool to the spec's simpler always-available read/write contract
// (supernodes never occupy an evictable cache frame; they live only in the
// in-memory map until Commit appends them to the trailer).
package pagestore

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/core/storage/disk"
	"github.com/xtreedb/xtreedb/core/xtree"
)

const defaultCacheSize = 256

// Store implements xtree.PageStore over a DiskManager, an LRU cache of
// deserialized regular pages, and an in-memory supernode map.
type Store struct {
	mu sync.Mutex

	dm  *disk.DiskManager
	log *zap.Logger

	header     xtree.Header
	cache      *lru.Cache[xtree.PageID, *xtree.Node]
	supernodes map[xtree.PageID]*xtree.Node
}

// Create initializes a brand-new on-disk X-tree file and an empty store
// over it.
func Create(path string, h xtree.Header, log *zap.Logger) (*Store, error) {
	dm, err := disk.Create(path, h)
	if err != nil {
		return nil, err
	}
	return newStore(dm, h, log)
}

// Open loads an existing X-tree file's header and every supernode in its
// trailer, per spec.md §4.8's load() algorithm, and returns a ready Store.
func Open(path string, log *zap.Logger) (*Store, error) {
	dm, h, err := disk.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newStore(dm, h, log)
	if err != nil {
		return nil, err
	}
	if err := s.loadSupernodes(); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(dm *disk.DiskManager, h xtree.Header, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.New[xtree.PageID, *xtree.Node](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("xtree/pagestore: build cache: %w", err)
	}
	if h.NextPageID == xtree.InvalidPageID {
		h.NextPageID = xtree.RootPageID
	}
	return &Store{
		dm: dm, log: log, header: h,
		cache:      cache,
		supernodes: make(map[xtree.PageID]*xtree.Node),
	}, nil
}

// Alloc returns the next monotonic page id (spec.md §4.2: "alloc() ->
// page_id (monotonic)").
func (s *Store) Alloc() (xtree.PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.NextPageID++
	return s.header.NextPageID, nil
}

// Read consults the in-memory supernode map first, then the LRU cache, then
// falls back to disk (spec.md §4.2).
func (s *Store) Read(id xtree.PageID) (*xtree.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.supernodes[id]; ok {
		return n, nil
	}
	if n, ok := s.cache.Get(id); ok {
		return n, nil
	}

	raw, err := s.dm.ReadPage(id)
	if err != nil {
		return nil, err
	}
	n, err := xtree.DeserializeNode(raw, s.header.Dimensionality)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, n)
	return n, nil
}

// Write persists a node. For a supernode this only updates the in-memory
// map; the node reaches disk only at Commit (spec.md §4.2, §3).
func (s *Store) Write(n *xtree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.IsSuper() {
		s.supernodes[n.PageID] = n
		s.cache.Remove(n.PageID)
		return nil
	}
	delete(s.supernodes, n.PageID)

	raw, err := n.Serialize(s.header.Dimensionality)
	if err != nil {
		return err
	}
	if len(raw) > s.header.PageSize {
		return fmt.Errorf("xtree/pagestore: node %d serializes past page size: %w", n.PageID, xtree.ErrCapacityExceeded)
	}
	if err := s.dm.WritePage(n.PageID, raw); err != nil {
		return err
	}
	s.cache.Add(n.PageID, n)
	return nil
}

// Header returns the current in-memory header.
func (s *Store) Header() xtree.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// SetHeader replaces the in-memory header; it reaches disk only at Commit.
func (s *Store) SetHeader(h xtree.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = h
}

// NextPageID reports the store's current page-id counter.
func (s *Store) NextPageID() xtree.PageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.NextPageID
}

// Supernodes returns the live supernodes in a stable (page-id) iteration
// order, used by Commit to append the trailer deterministically (testable
// property 6: idempotent commit).
func (s *Store) Supernodes() []*xtree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]xtree.PageID, 0, len(s.supernodes))
	for id := range s.supernodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*xtree.Node, len(ids))
	for i, id := range ids {
		out[i] = s.supernodes[id]
	}
	return out
}

// Commit writes the header and appends the supernode trailer, per spec.md
// §4.8.
func (s *Store) Commit() error {
	s.mu.Lock()
	h := s.header
	s.mu.Unlock()
	supernodes := s.Supernodes()

	// NextPageID is the highest allocated page id, so the trailer starts one
	// slot past it, after the last regular page.
	h.SupernodeOffset = int64(h.NextPageID+1) * int64(h.PageSize)
	dirCap := h.DirCapacity

	var trailer []byte
	for _, n := range supernodes {
		slots := n.SuperPageCount(dirCap)
		budget := slots * h.PageSize
		raw, err := n.Serialize(h.Dimensionality)
		if err != nil {
			return err
		}
		if len(raw) > budget {
			return fmt.Errorf("xtree/pagestore: supernode %d exceeds its budget: %w", n.PageID, xtree.ErrCapacityExceeded)
		}
		padded := make([]byte, budget)
		copy(padded, raw)
		trailer = append(trailer, padded...)
	}

	if err := s.dm.WriteHeader(h); err != nil {
		return err
	}
	if err := s.dm.WriteSupernodeTrailer(h.SupernodeOffset, trailer); err != nil {
		return err
	}
	if err := s.dm.Sync(); err != nil {
		return err
	}

	s.mu.Lock()
	s.header = h
	s.mu.Unlock()
	return nil
}

// loadSupernodes implements the supernode-trailer half of spec.md §4.8's
// load(): walk the trailer from SupernodeOffset, reading one supernode at a
// time until the file ends.
func (s *Store) loadSupernodes() error {
	h := s.Header()
	if h.SupernodeOffset == 0 {
		return nil
	}
	size, err := s.dm.FileSize()
	if err != nil {
		return err
	}
	pos := h.SupernodeOffset
	abs := s.dm.HeaderRegionSize() + pos
	for abs+int64(h.PageSize) <= size {
		prelude, err := s.dm.ReadSupernodeTrailer(pos, 14)
		if err != nil {
			return err
		}
		declaredCap, err := peekCapacity(prelude)
		if err != nil {
			return err
		}
		slots := (declaredCap + h.DirCapacity - 1) / h.DirCapacity
		budget := slots * h.PageSize

		raw, err := s.dm.ReadSupernodeTrailer(pos, int64(budget))
		if err != nil {
			return err
		}
		n, err := xtree.DeserializeNode(raw, h.Dimensionality)
		if err != nil {
			return err
		}
		if !n.IsSuper() || n.Capacity != declaredCap {
			return fmt.Errorf("xtree/pagestore: supernode assertion failed at offset %d: %w", pos, xtree.ErrCorruptFile)
		}

		s.mu.Lock()
		s.supernodes[n.PageID] = n
		s.mu.Unlock()

		pos += int64(budget)
		abs += int64(budget)
	}
	return nil
}

// peekCapacity decodes just the capacity field of the 14-byte prelude
// (page_id u32, is_leaf u8, is_super u8, num_entries u32, capacity u32)
// without a full node deserialize, so load() can size its read of the full
// padded supernode before deserializing it.
func peekCapacity(prelude []byte) (int, error) {
	if len(prelude) < 14 {
		return 0, fmt.Errorf("xtree/pagestore: short supernode prelude: %w", xtree.ErrCorruptFile)
	}
	cap := uint32(prelude[10]) | uint32(prelude[11])<<8 | uint32(prelude[12])<<16 | uint32(prelude[13])<<24
	return int(cap), nil
}

// Close flushes and closes the underlying disk manager.
func (s *Store) Close() error {
	return s.dm.Close()
}
