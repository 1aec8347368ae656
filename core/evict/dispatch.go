package evict

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-evict/core/transaction"
	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// PageFlusher evicts a single page, writing it first if dirty.
// *flushmanager.FlushManager implements it.
type PageFlusher interface {
	Evict(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID) (int, error)
}

// TxnOracle is the slice of the transaction subsystem a pass needs.
type TxnOracle interface {
	UpdateOldest() transaction.TxnID
	VisibleAll(id transaction.TxnID) bool
}

// PassStats counts what one pass did.
type PassStats struct {
	Visited       int
	Reconciled    int
	Evicted       int
	Merged        int
	MergeDeferred int
	Discarded     int
}

// dispatcher applies one mode's policy to single pages. prepare runs while
// the walk is still positioned on the page; dispose runs after the walk
// has moved past it.
type dispatcher struct {
	tree       *pagemanager.Tree
	mode       SyncMode
	reconciler flushmanager.Reconciler
	flusher    PageFlusher
	txns       TxnOracle
	logger     *zap.Logger
	stats      *PassStats
}

// prepare brings the page to its final state before the walk moves on.
// Only SyncClose reconciles; emptiness is a reconciliation outcome, and the
// tree must not change shape after the walk has computed its next step.
func (d *dispatcher) prepare(ctx context.Context, ref pagemanager.RefID) error {
	if d.mode != SyncClose {
		return nil
	}
	info, err := d.tree.Inspect(ref)
	if err != nil {
		return err
	}
	if !info.Modified {
		return nil
	}
	d.stats.Reconciled++
	return d.reconciler.Reconcile(ctx, d.tree, ref, flushmanager.RecEvicting)
}

// dispose applies the mode's disposition to a page the walk has left.
func (d *dispatcher) dispose(ctx context.Context, ref pagemanager.RefID) error {
	info, err := d.tree.Inspect(ref)
	if err != nil {
		return err
	}

	switch d.mode {
	case SyncClose:
		// The root is never merged away; it must be written.
		if info.Root || !info.HasModify || !info.RecEmpty {
			merged, err := d.flusher.Evict(ctx, d.tree, ref)
			if err != nil {
				return err
			}
			d.stats.Evicted++
			d.stats.Merged += merged
			d.logger.Debug("Evicted page", zap.Uint32("ref", uint32(ref)), zap.Bool("root", info.Root), zap.Int("merged", merged))
			return nil
		}
		d.stats.MergeDeferred++
		d.logger.Debug("Left empty page for parent merge", zap.Uint32("ref", uint32(ref)))
		return nil

	case SyncDiscard, SyncDiscardForce:
		if d.mode == SyncDiscard && info.HasModify && !d.txns.VisibleAll(info.MaxTxn) {
			return fmt.Errorf("%w: page %d of %s carries txn %d not visible to all",
				flushmanager.ErrBusy, info.Addr, d.tree.Name(), info.MaxTxn)
		}
		// Past the visibility check the updates may be dropped. Discard
		// releases the dirty accounting only once its own checks pass, so a
		// page it refuses keeps its updates.
		if err := d.tree.Discard(ref, true); err != nil {
			return err
		}
		d.stats.Discarded++
		d.logger.Debug("Discarded page", zap.Uint32("ref", uint32(ref)), zap.Bool("was_dirty", info.Modified))
		return nil

	default:
		panic(fmt.Sprintf("evict: illegal sync mode %v", d.mode))
	}
}
