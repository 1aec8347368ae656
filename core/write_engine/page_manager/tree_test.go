package pagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTree creates root(internal) -> [a(internal) -> [a1, a2], b] and
// returns the refs in expected post-order.
func buildTree(t *testing.T, cache *Cache) (*Tree, []RefID) {
	t.Helper()
	tree := NewTree("test.db", cache, PageInternal)
	a, err := tree.AddChild(tree.Root(), PageInternal)
	require.NoError(t, err)
	a1, err := tree.AddChild(a, PageLeaf)
	require.NoError(t, err)
	a2, err := tree.AddChild(a, PageLeaf)
	require.NoError(t, err)
	b, err := tree.AddChild(tree.Root(), PageLeaf)
	require.NoError(t, err)
	return tree, []RefID{a1, a2, a, b, tree.Root()}
}

// TestMarkClean_AccountingSymmetry verifies that dirtying and cleaning a page
// moves the global dirty counter up and back down exactly once.
func TestMarkClean_AccountingSymmetry(t *testing.T) {
	cache := NewCache()
	tree := NewTree("test.db", cache, PageLeaf)
	root := tree.Root()

	require.NoError(t, tree.Put(root, 1, "k1", "v1"))
	require.NoError(t, tree.Put(root, 2, "k2", "v2"))
	require.EqualValues(t, 1, cache.DirtyPages())
	require.Greater(t, cache.DirtyBytes(), int64(0))

	info, err := tree.Inspect(root)
	require.NoError(t, err)
	require.True(t, info.Modified)
	require.EqualValues(t, 2, info.WriteGen)

	cleaned, err := tree.MarkClean(root)
	require.NoError(t, err)
	require.True(t, cleaned)
	require.Zero(t, cache.DirtyBytes())
	require.Zero(t, cache.DirtyPages())

	// The token is consumed; a second call cannot double-decrement.
	cleaned, err = tree.MarkClean(root)
	require.NoError(t, err)
	require.False(t, cleaned)
	require.Zero(t, cache.DirtyBytes())

	info, err = tree.Inspect(root)
	require.NoError(t, err)
	require.False(t, info.Modified)
	require.Zero(t, info.WriteGen)
	require.NoError(t, cache.Close())
}

// TestWalkNext_PostOrder checks that the walk visits children before parents
// and pins only the page it is positioned on.
func TestWalkNext_PostOrder(t *testing.T) {
	tree, want := buildTree(t, NewCache())

	var got []RefID
	cur := InvalidRefID
	for {
		next, err := tree.WalkNext(cur)
		require.NoError(t, err)
		if cur != InvalidRefID {
			info, err := tree.Inspect(cur)
			require.NoError(t, err)
			require.Zero(t, info.Pins, "previous page must be unpinned")
		}
		if next == InvalidRefID {
			break
		}
		info, err := tree.Inspect(next)
		require.NoError(t, err)
		require.EqualValues(t, 1, info.Pins)
		got = append(got, next)
		cur = next
	}
	require.Equal(t, want, got)
}

// TestWalkNext_SkipsNonResident verifies that evicted subtrees are not surfaced.
func TestWalkNext_SkipsNonResident(t *testing.T) {
	tree, order := buildTree(t, NewCache())
	a1, a2, a := order[0], order[1], order[2]
	for _, ref := range []RefID{a1, a2, a} {
		_, err := tree.Unload(ref)
		require.NoError(t, err)
	}

	first, err := tree.WalkNext(InvalidRefID)
	require.NoError(t, err)
	require.Equal(t, order[3], first)
	second, err := tree.WalkNext(first)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), second)
	end, err := tree.WalkNext(second)
	require.NoError(t, err)
	require.Equal(t, InvalidRefID, end)
}

// TestUnload_MergesEmptyChildren checks that evicting a parent absorbs
// children reconciled empty, and refuses other resident children.
func TestUnload_MergesEmptyChildren(t *testing.T) {
	tree, order := buildTree(t, NewCache())
	a1, a2, a := order[0], order[1], order[2]

	require.NoError(t, tree.Put(a1, 1, "k", "v"))
	in, err := tree.ReconcileSnapshot(a1)
	require.NoError(t, err)
	// Reconciled image is empty: the only update was deleted again.
	require.NoError(t, tree.CompleteReconcile(a1, ReconcileOutput{WriteGen: in.WriteGen, MaxTxn: 1}))
	info, err := tree.Inspect(a1)
	require.NoError(t, err)
	require.True(t, info.RecEmpty)
	require.False(t, info.Modified)

	_, err = tree.Unload(a)
	require.ErrorIs(t, err, ErrChildrenResident, "a2 is resident and not empty")

	_, err = tree.Unload(a2)
	require.NoError(t, err)
	merged, err := tree.Unload(a)
	require.NoError(t, err)
	require.Equal(t, 1, merged)

	info, err = tree.Inspect(a1)
	require.NoError(t, err)
	require.Equal(t, RefDeleted, info.State)
	require.Equal(t, []RefID{a2}, tree.Children(a))
}

// TestDiscard_DirtyRequiresForce verifies that plain discard refuses a dirty
// page while forced discard releases its accounting.
func TestDiscard_DirtyRequiresForce(t *testing.T) {
	cache := NewCache()
	tree := NewTree("test.db", cache, PageLeaf)
	root := tree.Root()
	require.NoError(t, tree.Put(root, 7, "k", "v"))

	require.ErrorIs(t, tree.Discard(root, false), ErrPageDirty)
	require.NoError(t, tree.Discard(root, true))
	require.Zero(t, cache.DirtyBytes())
	require.Zero(t, cache.InMemoryPages())
	require.Zero(t, tree.ResidentPages())

	require.NoError(t, tree.Load(root, []Entry{{Key: "k", Value: "old"}}))
	v, ok, err := tree.Get(root, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "old", v)
}

// TestPin_BlocksUnload verifies that pinned pages are never unloaded.
func TestPin_BlocksUnload(t *testing.T) {
	tree := NewTree("test.db", NewCache(), PageLeaf)
	root := tree.Root()
	require.NoError(t, tree.Pin(root))
	_, err := tree.Unload(root)
	require.ErrorIs(t, err, ErrPagePinned)
	tree.Unpin(root)
	_, err = tree.Unload(root)
	require.NoError(t, err)
}

// TestUnpin_OverReleasePanics verifies a pin released twice is reported
// instead of silently absorbed.
func TestUnpin_OverReleasePanics(t *testing.T) {
	tree, order := buildTree(t, NewCache())
	require.NoError(t, tree.Pin(order[0]))
	tree.Unpin(order[0])
	require.Panics(t, func() { tree.Unpin(order[0]) })

	// A walk position released out of band cannot be released again by
	// moving the walk on.
	tree, _ = buildTree(t, NewCache())
	first, err := tree.WalkNext(InvalidRefID)
	require.NoError(t, err)
	second, err := tree.WalkNext(first)
	require.NoError(t, err)
	tree.Unpin(second)
	require.Panics(t, func() { _, _ = tree.WalkNext(second) })
}
