package pagemanager

import "fmt"

// WalkNext returns the resident page after cur in post-order (children
// before their parent, siblings in key order), or InvalidRefID at the end of
// the tree. Pass InvalidRefID to start.
//
// Only resident pages are returned; non-resident subtrees are skipped
// without being read. The returned page is pinned and cur is unpinned in the
// same critical section, so the background evictor can never take the page
// a walk is positioned on.
func (t *Tree) WalkNext(cur RefID) (RefID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	next, err := t.walkNextLocked(cur)
	if err != nil {
		return InvalidRefID, err
	}
	if next != InvalidRefID {
		t.refs[next].pins.Add(1)
	}
	if cur != InvalidRefID {
		t.unpinLocked(t.refs[cur])
	}
	return next, nil
}

func (t *Tree) walkNextLocked(cur RefID) (RefID, error) {
	if cur == InvalidRefID {
		root := t.refs[t.root]
		if !root.resident() {
			return InvalidRefID, nil
		}
		return t.descendLocked(root), nil
	}

	r, err := t.residentLocked(cur)
	if err != nil {
		return InvalidRefID, fmt.Errorf("walk lost its position: %w", err)
	}
	if r.parent == InvalidRefID {
		return InvalidRefID, nil
	}
	p := t.refs[r.parent]
	idx := -1
	for i, cid := range p.children {
		if cid == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InvalidRefID, fmt.Errorf("%w: ref %d missing from parent %d", ErrRefNotFound, cur, p.id)
	}
	for _, sid := range p.children[idx+1:] {
		if s := t.refs[sid]; s.resident() {
			return t.descendLocked(s), nil
		}
	}
	return p.id, nil
}

// descendLocked follows first resident children down to the first page in
// post-order below r.
func (t *Tree) descendLocked(r *Ref) RefID {
	for {
		var first *Ref
		for _, cid := range r.children {
			if c := t.refs[cid]; c.resident() {
				first = c
				break
			}
		}
		if first == nil {
			return r.id
		}
		r = first
	}
}
