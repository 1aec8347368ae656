package flushmanager

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-evict/core/transaction"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// RecFlags tune a single reconciliation.
type RecFlags uint32

const (
	// RecEvicting tells reconciliation the page is about to leave memory:
	// every pending update must be written or the call fails busy.
	RecEvicting RecFlags = 1 << iota
)

// Reconciler converts a page's in-memory updates into its persisted form.
// It may flag the page as empty when nothing remains in the image.
type Reconciler interface {
	Reconcile(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID, flags RecFlags) error
}

// VisibilityOracle answers whether a transaction's effects are visible to
// every active transaction, and whether it was rolled back.
type VisibilityOracle interface {
	VisibleAll(id transaction.TxnID) bool
	IsAborted(id transaction.TxnID) bool
}

// PageReconciler merges globally visible updates into a page image and
// writes it to a BlockStore.
type PageReconciler struct {
	store       BlockStore
	txns        VisibilityOracle
	compression Compression
	logger      *zap.Logger
}

// NewPageReconciler creates a reconciler writing to store.
func NewPageReconciler(store BlockStore, txns VisibilityOracle, compression Compression, logger *zap.Logger) *PageReconciler {
	return &PageReconciler{
		store:       store,
		txns:        txns,
		compression: compression,
		logger:      logger.Named("reconciler"),
	}
}

// Reconcile writes the page's image. Updates of aborted transactions are
// dropped. Without RecEvicting, updates that are not yet globally visible
// stay in memory and the page stays dirty; with it, such an update fails the
// call with ErrBusy and nothing is written.
func (r *PageReconciler) Reconcile(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID, flags RecFlags) error {
	in, err := tree.ReconcileSnapshot(ref)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	merged := make(map[string]string, len(in.Entries))
	for _, e := range in.Entries {
		merged[e.Key] = e.Value
	}
	var remaining []pagemanager.Update
	maxTxn := transaction.TxnNone
	dropped := 0
	for _, u := range in.Updates {
		if r.txns.IsAborted(u.Txn) {
			dropped++
			continue
		}
		if !r.txns.VisibleAll(u.Txn) {
			if flags&RecEvicting != 0 {
				return fmt.Errorf("%w: page %d of %s has an update by txn %d not visible to all",
					ErrBusy, in.Addr, tree.Name(), u.Txn)
			}
			remaining = append(remaining, u)
			continue
		}
		if u.Tombstone {
			delete(merged, u.Key)
		} else {
			merged[u.Key] = u.Value
		}
		if u.Txn > maxTxn {
			maxTxn = u.Txn
		}
	}

	entries := make([]pagemanager.Entry, 0, len(merged))
	for k, v := range merged {
		entries = append(entries, pagemanager.Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	image, err := encodeImage(entries, r.compression)
	if err != nil {
		return fmt.Errorf("%w: encode page %d: %w", ErrReconcile, in.Addr, err)
	}
	if err := r.store.WriteBlock(ctx, tree.Name(), in.Addr, image); err != nil {
		return fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	if err := tree.CompleteReconcile(ref, pagemanager.ReconcileOutput{
		Entries:   entries,
		Remaining: remaining,
		MaxTxn:    maxTxn,
		WriteGen:  in.WriteGen,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	r.logger.Debug("Reconciled page",
		zap.String("tree", tree.Name()),
		zap.Uint64("addr", uint64(in.Addr)),
		zap.Int("entries", len(entries)),
		zap.Int("remaining", len(remaining)),
		zap.Int("aborted_dropped", dropped),
		zap.Int("image_bytes", len(image)))
	return nil
}

// LoadPage re-reads a non-resident page from the block store.
func (r *PageReconciler) LoadPage(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID) error {
	addr, err := tree.Addr(ref)
	if err != nil {
		return err
	}
	image, err := r.store.ReadBlock(ctx, tree.Name(), addr)
	if err != nil {
		return err
	}
	entries, err := decodeImage(image)
	if err != nil {
		return fmt.Errorf("decode page %d of %s: %w", addr, tree.Name(), err)
	}
	return tree.Load(ref, entries)
}
