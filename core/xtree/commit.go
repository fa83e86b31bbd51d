package xtree

import (
	"context"
	"fmt"
)

// Commit persists the header and supernode trailer to disk (spec.md §4.8).
// Regular pages are already written to the file by their own Write calls
// (the store's final sync flushes them too); Commit's job is the header and
// the in-memory-only supernode region.
func (t *Tree) Commit(ctx context.Context) error {
	_, end := t.tel.startSpan(ctx, "xtree.Commit")
	defer end()

	h := t.store.Header()
	h.Height = t.Height()
	t.store.SetHeader(h)

	if err := t.store.Commit(); err != nil {
		return fmt.Errorf("xtree: commit: %w", err)
	}
	return nil
}

// Close releases the underlying page store's resources without committing.
// Callers that want durability must Commit first.
func (t *Tree) Close() error {
	return t.store.Close()
}
