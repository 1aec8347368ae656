package evict

import (
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// walker is a cursor over the resident pages of one tree in post-order. The
// page it is positioned on stays pinned until the cursor moves or is
// released, so it reads only what is already cached and the background
// evictor cannot take its position away.
type walker struct {
	tree    cursor
	cur     pagemanager.RefID
	visited int
}

// cursor is the part of *pagemanager.Tree a walker moves over.
type cursor interface {
	WalkNext(cur pagemanager.RefID) (pagemanager.RefID, error)
	Unpin(ref pagemanager.RefID)
}

func startWalk(tree cursor) *walker {
	return &walker{tree: tree}
}

// next advances the cursor and returns the new position, or false at the
// end of the tree. On error the old position stays pinned for release.
func (w *walker) next() (pagemanager.RefID, bool, error) {
	ref, err := w.tree.WalkNext(w.cur)
	if err != nil {
		return pagemanager.InvalidRefID, false, err
	}
	w.cur = ref
	if ref == pagemanager.InvalidRefID {
		return ref, false, nil
	}
	w.visited++
	return ref, true, nil
}

// release drops the cursor's pin. Safe to call more than once.
func (w *walker) release() {
	if w.cur != pagemanager.InvalidRefID {
		w.tree.Unpin(w.cur)
		w.cur = pagemanager.InvalidRefID
	}
}
