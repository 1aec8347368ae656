package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TxnID identifies a transaction. IDs are allocated in increasing order.
type TxnID uint64

// TxnNone is the ID of "no transaction"; it is visible to everyone.
const TxnNone TxnID = 0

// TransactionState represents the in-memory state of a transaction.
type TransactionState int

const (
	TxnStateRunning   TransactionState = iota // Transaction is active, its updates are uncommitted
	TxnStateCommitted                         // Transaction committed
	TxnStateAborted                           // Transaction aborted
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateRunning:
		return "running"
	case TxnStateCommitted:
		return "committed"
	case TxnStateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("TransactionState(%d)", int(s))
	}
}

// Transaction represents an in-memory record of a transaction.
type Transaction struct {
	ID    TxnID
	State TransactionState
}

// Manager hands out transaction IDs and answers global visibility questions.
//
// The oldest ID is a cached watermark: it only moves when UpdateOldest is
// called, so callers that need a fresh view must refresh it first.
type Manager struct {
	mu      sync.Mutex
	nextID  TxnID
	running map[TxnID]*Transaction
	aborted map[TxnID]struct{}

	oldestID atomic.Uint64
}

// NewManager creates a Manager whose first transaction gets ID 1.
func NewManager() *Manager {
	m := &Manager{
		nextID:  1,
		running: make(map[TxnID]*Transaction),
		aborted: make(map[TxnID]struct{}),
	}
	m.oldestID.Store(uint64(m.nextID))
	return m
}

// Begin starts a new running transaction.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := &Transaction{ID: m.nextID, State: TxnStateRunning}
	m.running[txn.ID] = txn
	m.nextID++
	return txn
}

// Commit marks a running transaction committed.
func (m *Manager) Commit(id TxnID) error {
	return m.finish(id, TxnStateCommitted)
}

// Abort marks a running transaction aborted.
func (m *Manager) Abort(id TxnID) error {
	return m.finish(id, TxnStateAborted)
}

func (m *Manager) finish(id TxnID, state TransactionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.running[id]
	if !ok {
		return fmt.Errorf("transaction %d is not running", id)
	}
	txn.State = state
	delete(m.running, id)
	if state == TxnStateAborted {
		m.aborted[id] = struct{}{}
	}
	return nil
}

// IsAborted reports whether id was rolled back. Updates written by an
// aborted transaction are never visible, however old the watermark gets.
func (m *Manager) IsAborted(id TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.aborted[id]
	return ok
}

// UpdateOldest recomputes the oldest transaction ID whose effects must
// remain visible: the smallest running ID, or the next ID to be allocated
// when nothing is running. The watermark never moves backwards.
func (m *Manager) UpdateOldest() TxnID {
	m.mu.Lock()
	oldest := m.nextID
	for id := range m.running {
		if id < oldest {
			oldest = id
		}
	}
	m.mu.Unlock()

	for {
		cur := m.oldestID.Load()
		if uint64(oldest) <= cur {
			return TxnID(cur)
		}
		if m.oldestID.CompareAndSwap(cur, uint64(oldest)) {
			return oldest
		}
	}
}

// OldestID returns the cached watermark set by the last UpdateOldest.
func (m *Manager) OldestID() TxnID {
	return TxnID(m.oldestID.Load())
}

// VisibleAll reports whether updates made by id are visible to every
// active transaction.
func (m *Manager) VisibleAll(id TxnID) bool {
	return id < m.OldestID()
}

// Running returns the number of running transactions.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
