package evict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// fakeBackground reports busy for the first busyDrains calls to Drain.
type fakeBackground struct {
	busyDrains  int
	drainCalls  int
	enableCalls int
}

func (f *fakeBackground) DisableFor(tree *pagemanager.Tree) bool { return tree.DisableEviction() }

func (f *fakeBackground) EnableFor(tree *pagemanager.Tree) {
	f.enableCalls++
	tree.EnableEviction()
}

func (f *fakeBackground) Drain(context.Context, *pagemanager.Tree) error {
	f.drainCalls++
	if f.drainCalls <= f.busyDrains {
		return flushmanager.ErrBusy
	}
	return nil
}

func fastGate(retries int) GateConfig {
	return GateConfig{DrainRetries: retries, DrainInterval: time.Millisecond}
}

// TestAcquireExclusive_RetriesUntilDrained checks the gate retries a busy
// drain and releases by re-enabling eviction.
func TestAcquireExclusive_RetriesUntilDrained(t *testing.T) {
	tree := pagemanager.NewTree("t", pagemanager.NewCache(), pagemanager.PageLeaf)
	bg := &fakeBackground{busyDrains: 2}

	x, err := acquireExclusive(context.Background(), bg, tree, fastGate(5), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, bg.drainCalls)
	require.True(t, tree.EvictionDisabled())

	x.release()
	x.release()
	require.False(t, tree.EvictionDisabled())
	require.Equal(t, 1, bg.enableCalls)
}

// TestAcquireExclusive_DrainTimeout checks a drain that never completes
// fails with a retryable error and leaves eviction enabled.
func TestAcquireExclusive_DrainTimeout(t *testing.T) {
	tree := pagemanager.NewTree("t", pagemanager.NewCache(), pagemanager.PageLeaf)
	bg := &fakeBackground{busyDrains: 1 << 30}

	x, err := acquireExclusive(context.Background(), bg, tree, fastGate(3), zaptest.NewLogger(t))
	require.Nil(t, x)
	require.True(t, flushmanager.IsRetryable(err))
	require.Equal(t, 4, bg.drainCalls)
	require.False(t, tree.EvictionDisabled())
}

// TestAcquireExclusive_AlreadyDisabled checks the gate is a no-op when
// eviction was disabled before the call.
func TestAcquireExclusive_AlreadyDisabled(t *testing.T) {
	tree := pagemanager.NewTree("t", pagemanager.NewCache(), pagemanager.PageLeaf)
	require.True(t, tree.DisableEviction())
	bg := &fakeBackground{}

	x, err := acquireExclusive(context.Background(), bg, tree, fastGate(3), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Zero(t, bg.drainCalls)
	x.release()
	require.True(t, tree.EvictionDisabled())
	require.Zero(t, bg.enableCalls)
}

// TestAcquireExclusive_ContextCanceled checks a canceled context ends the wait.
func TestAcquireExclusive_ContextCanceled(t *testing.T) {
	tree := pagemanager.NewTree("t", pagemanager.NewCache(), pagemanager.PageLeaf)
	bg := &fakeBackground{busyDrains: 1 << 30}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := acquireExclusive(ctx, bg, tree, GateConfig{DrainRetries: 100, DrainInterval: time.Hour}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, tree.EvictionDisabled())
}

// TestParseSyncMode round-trips the mode names.
func TestParseSyncMode(t *testing.T) {
	for _, m := range []SyncMode{SyncClose, SyncDiscard, SyncDiscardForce} {
		got, err := ParseSyncMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ParseSyncMode("flush")
	require.Error(t, err)
}
