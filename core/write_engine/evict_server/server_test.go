package evictserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/gojodb-evict/core/transaction"
	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// gatedEvictor blocks every eviction until a token is sent on proceed.
type gatedEvictor struct {
	inner   PageEvictor
	entered chan pagemanager.RefID
	proceed chan struct{}
}

func (g *gatedEvictor) Evict(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID) (int, error) {
	g.entered <- ref
	<-g.proceed
	return g.inner.Evict(ctx, tree, ref)
}

// setupServer starts a server with the given worker count over a real
// flush manager, optionally gated.
func setupServer(t *testing.T, workers int, gated bool) (*Server, *gatedEvictor) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := flushmanager.NewPageReconciler(flushmanager.NewMemBlockStore(), transaction.NewManager(), flushmanager.CompressionNone, logger)
	var evictor PageEvictor = flushmanager.NewFlushManager(rec, logger)
	var gate *gatedEvictor
	if gated {
		gate = &gatedEvictor{inner: evictor, entered: make(chan pagemanager.RefID, 16), proceed: make(chan struct{})}
		evictor = gate
	}
	s := NewServer(Config{Workers: workers, QueueSize: 16}, evictor, logger)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		if gate != nil {
			close(gate.proceed)
		}
		_ = s.Stop()
	})
	return s, gate
}

func newLeaves(t *testing.T, n int) (*pagemanager.Tree, []pagemanager.RefID) {
	t.Helper()
	tree := pagemanager.NewTree(t.Name(), pagemanager.NewCache(), pagemanager.PageInternal)
	var leaves []pagemanager.RefID
	for i := 0; i < n; i++ {
		leaf, err := tree.AddChild(tree.Root(), pagemanager.PageLeaf)
		require.NoError(t, err)
		leaves = append(leaves, leaf)
	}
	return tree, leaves
}

// TestServer_EvictsQueuedPages verifies queued pages are evicted by workers.
func TestServer_EvictsQueuedPages(t *testing.T) {
	s, _ := setupServer(t, 2, false)
	tree, leaves := newLeaves(t, 3)

	for _, leaf := range leaves {
		require.NoError(t, s.Enqueue(tree, leaf))
	}
	require.Eventually(t, func() bool { return s.Stats(tree).Evicted == 3 }, time.Second, time.Millisecond)
	require.Equal(t, 1, tree.ResidentPages(), "only the root remains")
	require.NoError(t, s.Drain(context.Background(), tree))
}

// TestServer_SkipsWorkQueuedBeforeDisable checks that a request queued
// before the tree was disabled is skipped, and Drain tracks in-flight work.
func TestServer_SkipsWorkQueuedBeforeDisable(t *testing.T) {
	s, gate := setupServer(t, 1, true)
	tree, leaves := newLeaves(t, 2)

	// 1. The single worker is busy with the first leaf.
	require.NoError(t, s.Enqueue(tree, leaves[0]))
	require.Equal(t, leaves[0], <-gate.entered)
	require.NoError(t, s.Enqueue(tree, leaves[1]))

	// 2. Disable; the in-flight eviction keeps Drain busy.
	require.True(t, s.DisableFor(tree))
	require.False(t, s.DisableFor(tree))
	require.ErrorIs(t, s.Drain(context.Background(), tree), flushmanager.ErrBusy)
	require.ErrorIs(t, s.Enqueue(tree, leaves[1]), flushmanager.ErrBusy)

	// 3. Release the worker; the queued request is skipped, not evicted.
	gate.proceed <- struct{}{}
	require.Eventually(t, func() bool {
		st := s.Stats(tree)
		return st.Evicted == 1 && st.Skipped == 1 && st.InFlight == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Drain(context.Background(), tree))

	info, err := tree.Inspect(leaves[1])
	require.NoError(t, err)
	require.True(t, info.Resident())

	s.EnableFor(tree)
	require.False(t, tree.EvictionDisabled())
}

// TestServer_StoppedRefusesWork verifies Enqueue after Stop fails.
func TestServer_StoppedRefusesWork(t *testing.T) {
	s, _ := setupServer(t, 1, false)
	tree, leaves := newLeaves(t, 1)
	require.NoError(t, s.Stop())
	require.ErrorIs(t, s.Enqueue(tree, leaves[0]), ErrServerStopped)
}
