package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/core/geometry"
	"github.com/xtreedb/xtreedb/core/xtree"
)

const testPageSize = 256

func testHeader() xtree.Header {
	return xtree.Header{
		PageSize: testPageSize, Dimensionality: 2,
		DirCapacity: 4, LeafCapacity: 4, DirMinimum: 2, LeafMinimum: 2, MinFanout: 2,
		OverlapType: xtree.OverlapVolume, MaxOverlap: 0.2,
		RootPageID: xtree.RootPageID, Height: 1,
	}
}

func TestStore_AllocIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xtree")
	store, err := Create(path, testHeader(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	first, err := store.Alloc()
	require.NoError(t, err)
	second, err := store.Alloc()
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestStore_WriteThenReadRegularNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xtree")
	store, err := Create(path, testHeader(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	n := xtree.NewLeafNode(xtree.RootPageID, 4)
	n.AddLeaf(xtree.LeafEntry{PointID: "p1", Point: geometry.NewPointMBR([]float64{1, 2})})
	require.NoError(t, store.Write(n))

	got, err := store.Read(xtree.RootPageID)
	require.NoError(t, err)
	require.Equal(t, xtree.KindLeaf, got.Kind)
	require.Len(t, got.Leaves, 1)
	require.Equal(t, xtree.PointID("p1"), got.Leaves[0].PointID)
}

func TestStore_SupernodeStaysInMemoryUntilCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xtree")
	store, err := Create(path, testHeader(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	super := xtree.NewDirNode(xtree.RootPageID, 4)
	super.GrowSuper(4)
	require.NoError(t, store.Write(super))

	require.Len(t, store.Supernodes(), 1)

	got, err := store.Read(xtree.RootPageID)
	require.NoError(t, err)
	require.True(t, got.IsSuper())
	require.Same(t, super, got, "Read must return the same in-memory supernode, not a disk-deserialized copy")
}

func TestStore_CommitPersistsSupernodeTrailerAndLoadRecoversIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xtree")
	store, err := Create(path, testHeader(), zap.NewNop())
	require.NoError(t, err)

	super := xtree.NewDirNode(xtree.RootPageID, 4)
	super.GrowSuper(4) // capacity 8 = 2*dir_cap
	super.AddDir(xtree.DirEntry{ChildID: 2, MBR: geometry.NewPointMBR([]float64{0, 0}), History: xtree.NewSplitHistory(2), LeafCount: 1})
	require.NoError(t, store.Write(super))
	require.NoError(t, store.Commit())
	require.NoError(t, store.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, reopened.Supernodes(), 1)
	got, err := reopened.Read(xtree.RootPageID)
	require.NoError(t, err)
	require.True(t, got.IsSuper())
	require.Equal(t, 8, got.Capacity)
	require.Len(t, got.Dirs, 1)
}
