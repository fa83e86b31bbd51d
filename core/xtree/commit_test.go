package xtree

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/core/storage/pagestore"
)

// TestCommitLoad_RoundTripPreservesElementsAndRootMBR is testable property 4.
func TestCommitLoad_RoundTripPreservesElementsAndRootMBR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.xtree")
	cfg := smallConfig()

	store, err := pagestore.Create(path, Header{PageSize: cfg.PageSize}, zap.NewNop())
	require.NoError(t, err)
	tree, err := New(store, cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	leafCap := store.Header().LeafCapacity
	for i := 0; i < leafCap*5; i++ {
		insertPoint(t, tree, "p"+strconv.Itoa(i), float64(i%13), float64(i%9))
	}
	wantElements := tree.NumElements()
	wantRootMBR := mustRead(t, store, RootPageID).MBR()

	require.NoError(t, tree.Commit(context.Background()))
	require.NoError(t, tree.Close())

	reopened, err := pagestore.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := Open(reopened, cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	require.Equal(t, wantElements, loaded.NumElements())
	gotRootMBR := mustRead(t, reopened, RootPageID).MBR()
	require.Equal(t, wantRootMBR, gotRootMBR)
}

// TestCommit_IsIdempotentWithoutInterveningMutation is testable property 6.
func TestCommit_IsIdempotentWithoutInterveningMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotent.xtree")
	cfg := smallConfig()
	store, err := pagestore.Create(path, Header{PageSize: cfg.PageSize}, zap.NewNop())
	require.NoError(t, err)
	tree, err := New(store, cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	leafCap := store.Header().LeafCapacity
	for i := 0; i < leafCap*5; i++ {
		insertPoint(t, tree, "p"+strconv.Itoa(i), float64(i), float64(-i))
	}

	require.NoError(t, tree.Commit(context.Background()))
	offset := store.Header().SupernodeOffset
	absolute := int64(cfg.PageSize) + offset // header region is exactly one page
	first := readFileFrom(t, path, absolute)

	require.NoError(t, tree.Commit(context.Background()))
	require.Equal(t, offset, store.Header().SupernodeOffset, "supernode offset must not drift across a no-op commit")
	second := readFileFrom(t, path, absolute)

	require.Equal(t, first, second)
}

func mustRead(t *testing.T, store *pagestore.Store, id PageID) *Node {
	t.Helper()
	n, err := store.Read(id)
	require.NoError(t, err)
	return n
}

// readFileFrom reads every byte of the file from an absolute offset onward,
// used to compare the supernode trailer across two commits.
func readFileFrom(t *testing.T, path string, offset int64) []byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	stat, err := f.Stat()
	require.NoError(t, err)
	size := stat.Size() - offset
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	_, err = f.ReadAt(buf, offset)
	require.NoError(t, err)
	return buf
}
