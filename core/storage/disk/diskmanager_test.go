package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtreedb/xtreedb/core/xtree"
)

func testHeader(pageSize int) xtree.Header {
	return xtree.Header{
		PageSize: pageSize, Dimensionality: 2,
		DirCapacity: 4, LeafCapacity: 4, DirMinimum: 2, LeafMinimum: 2, MinFanout: 2,
		OverlapType: xtree.OverlapVolume, MaxOverlap: 0.2,
		RootPageID: xtree.RootPageID, NextPageID: xtree.RootPageID, Height: 1,
	}
}

func TestDiskManager_HeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.xtree")
	dm, err := Create(path, testHeader(256))
	require.NoError(t, err)
	defer dm.Close()

	h := testHeader(256)
	h.NumElements = 42
	h.Height = 3
	require.NoError(t, dm.WriteHeader(h))

	got, err := dm.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDiskManager_PageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.xtree")
	dm, err := Create(path, testHeader(256))
	require.NoError(t, err)
	defer dm.Close()

	payload := []byte("some serialized node bytes")
	require.NoError(t, dm.WritePage(xtree.RootPageID, payload))

	got, err := dm.ReadPage(xtree.RootPageID)
	require.NoError(t, err)
	require.Equal(t, payload, got[:len(payload)])
	require.Len(t, got, 256)
}

func TestDiskManager_SupernodeTrailerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.xtree")
	dm, err := Create(path, testHeader(256))
	require.NoError(t, err)
	defer dm.Close()

	trailer := make([]byte, 512)
	for i := range trailer {
		trailer[i] = byte(i % 251)
	}
	require.NoError(t, dm.WriteSupernodeTrailer(0, trailer))

	got, err := dm.ReadSupernodeTrailer(0, int64(len(trailer)))
	require.NoError(t, err)
	require.Equal(t, trailer, got)

	size, err := dm.FileSize()
	require.NoError(t, err)
	require.Equal(t, dm.HeaderRegionSize()+int64(len(trailer)), size)
}

func TestDiskManager_OpenRecoversPageSizeFromHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.xtree")
	dm, err := Create(path, testHeader(512))
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	reopened, h, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 512, h.PageSize)
	require.Equal(t, 512, reopened.PageSize())
}
