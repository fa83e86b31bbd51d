package xtree

import (
	"context"
	"fmt"

	"github.com/xtreedb/xtreedb/core/geometry"
)

// Search runs a window/containment query: every point whose coordinates lie
// within region is returned. spec.md §1 descopes the distance/k-NN query
// engine ("Query execution reuses the R-tree traversal pattern and is not
// respecified"); this is the one traversal testable property 5 and
// scenario S6 require, grounded directly on RTree.Search's BFS-over-page-
// ids pattern. Supernode pages are read the same way as regular pages —
// PageStore.Read already consults the in-memory supernode map first, so a
// supernode on the path is never touched on disk (scenario S6).
func (t *Tree) Search(ctx context.Context, region geometry.MBR) ([]PointID, error) {
	_, end := t.tel.startSpan(ctx, "xtree.Search")
	defer end()

	var out []PointID
	queue := []PageID{RootPageID}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		node, err := t.store.Read(pid)
		if err != nil {
			return nil, fmt.Errorf("xtree: search read: %w", err)
		}

		if node.Kind == KindLeaf {
			for _, l := range node.Leaves {
				if geometry.Contains(region, l.Point) {
					out = append(out, l.PointID)
				}
			}
			continue
		}
		for _, d := range node.Dirs {
			if mbrsIntersect(d.MBR, region) {
				queue = append(queue, d.ChildID)
			}
		}
	}
	return out, nil
}
