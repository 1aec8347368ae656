package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVisibleAll_FollowsOldestRunning checks that the watermark stops at the
// oldest running transaction and only advances on UpdateOldest.
func TestVisibleAll_FollowsOldestRunning(t *testing.T) {
	m := NewManager()

	t1 := m.Begin()
	t2 := m.Begin()
	require.Equal(t, TxnID(1), t1.ID)
	require.Equal(t, TxnID(2), t2.ID)

	require.Equal(t, TxnID(1), m.UpdateOldest())
	require.True(t, m.VisibleAll(TxnNone))
	require.False(t, m.VisibleAll(t1.ID))

	require.NoError(t, m.Commit(t1.ID))
	// Cached until refreshed.
	require.False(t, m.VisibleAll(t1.ID))
	require.Equal(t, TxnID(2), m.UpdateOldest())
	require.True(t, m.VisibleAll(t1.ID))
	require.False(t, m.VisibleAll(t2.ID))

	require.NoError(t, m.Abort(t2.ID))
	require.Equal(t, TxnID(3), m.UpdateOldest())
	require.True(t, m.VisibleAll(t2.ID))
	require.True(t, m.IsAborted(t2.ID))
	require.False(t, m.IsAborted(t1.ID))
	require.Equal(t, 0, m.Running())
}

// TestFinish_UnknownTxn verifies that finishing a transaction twice fails.
func TestFinish_UnknownTxn(t *testing.T) {
	m := NewManager()
	txn := m.Begin()
	require.NoError(t, m.Commit(txn.ID))
	require.Error(t, m.Commit(txn.ID))
	require.Equal(t, TxnStateCommitted, txn.State)
}
