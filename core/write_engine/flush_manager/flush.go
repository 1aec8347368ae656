package flushmanager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// FlushManager evicts single pages, writing them first when dirty.
type FlushManager struct {
	reconciler Reconciler
	logger     *zap.Logger
}

func NewFlushManager(reconciler Reconciler, logger *zap.Logger) *FlushManager {
	return &FlushManager{reconciler: reconciler, logger: logger.Named("flush_manager")}
}

// Reconciler returns the reconciler pages are written with.
func (fm *FlushManager) Reconciler() Reconciler { return fm.reconciler }

// Evict reconciles ref's page if it is dirty and removes it from memory,
// merging children that were reconciled empty. It returns the number of
// merged children. Pinned pages and unmergeable children fail with ErrBusy.
func (fm *FlushManager) Evict(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID) (int, error) {
	info, err := tree.Inspect(ref)
	if err != nil {
		return 0, err
	}
	if info.Modified {
		if err := fm.reconciler.Reconcile(ctx, tree, ref, RecEvicting); err != nil {
			return 0, err
		}
	}
	merged, err := tree.Unload(ref)
	switch {
	case errors.Is(err, pagemanager.ErrPagePinned),
		errors.Is(err, pagemanager.ErrChildrenResident),
		errors.Is(err, pagemanager.ErrPageDirty):
		return 0, fmt.Errorf("%w: evict %s ref %d: %w", ErrBusy, tree.Name(), ref, err)
	case err != nil:
		return 0, err
	}
	fm.logger.Debug("Evicted page",
		zap.String("tree", tree.Name()),
		zap.Uint32("ref", uint32(ref)),
		zap.Int("merged_children", merged))
	return merged, nil
}
