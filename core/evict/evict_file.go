package evict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-evict/internal/telemetry"
)

// Reclaimer runs file-scoped reclamation passes: at file close, at explicit
// sync, and when a tree is torn down.
type Reclaimer struct {
	cfg        GateConfig
	bg         BackgroundEvictor
	reconciler flushmanager.Reconciler
	flusher    PageFlusher
	txns       TxnOracle
	logger     *zap.Logger
	metrics    *internaltelemetry.EvictMetrics
	tracer     trace.Tracer

	// cursorFor wraps the tree a pass walks; nil walks the tree itself.
	cursorFor func(*pagemanager.Tree) cursor
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithMetrics records every pass on m.
func WithMetrics(m *internaltelemetry.EvictMetrics) Option {
	return func(r *Reclaimer) { r.metrics = m }
}

// WithTracer opens a span per pass on t.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reclaimer) { r.tracer = t }
}

// NewReclaimer creates a Reclaimer.
func NewReclaimer(cfg GateConfig, bg BackgroundEvictor, reconciler flushmanager.Reconciler, flusher PageFlusher, txns TxnOracle, logger *zap.Logger, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		cfg:        cfg,
		bg:         bg,
		reconciler: reconciler,
		flusher:    flusher,
		txns:       txns,
		logger:     logger.Named("reclaimer"),
		tracer:     noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EvictFile walks every resident page of tree and applies mode to it.
//
// Background eviction of the tree is suspended for the duration of the pass.
// The first failure stops the walk and is returned; pages already handled
// stay handled. Whatever the outcome, the walk's pin is dropped and
// background eviction is re-enabled if this call disabled it. An illegal
// mode panics.
func (r *Reclaimer) EvictFile(ctx context.Context, tree *pagemanager.Tree, mode SyncMode) (stats PassStats, err error) {
	if !mode.valid() {
		panic(fmt.Sprintf("evict: illegal sync mode %v", mode))
	}

	passID := uuid.NewString()
	logger := r.logger.With(zap.String("pass_id", passID), zap.String("tree", tree.Name()), zap.Stringer("mode", mode))
	ctx, span := r.tracer.Start(ctx, "evict.EvictFile", trace.WithAttributes(
		attribute.String("pass_id", passID),
		attribute.String("tree", tree.Name()),
		attribute.String("mode", mode.String()),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.RecordPass(ctx, internaltelemetry.PassOutcome{
			Tree:          tree.Name(),
			Mode:          mode.String(),
			Reconciled:    stats.Reconciled,
			Evicted:       stats.Evicted,
			Discarded:     stats.Discarded,
			MergeDeferred: stats.MergeDeferred,
			Busy:          flushmanager.IsRetryable(err),
			Failed:        err != nil,
			Duration:      time.Since(start),
		})
	}()

	logger.Info("Starting reclamation pass", zap.Int("resident_pages", tree.ResidentPages()))

	x, err := acquireExclusive(ctx, r.bg, tree, r.cfg, logger)
	if err != nil {
		logger.Warn("Could not get exclusive access", zap.Error(err))
		return stats, err
	}
	defer x.release()

	oldest := r.txns.UpdateOldest()
	logger.Debug("Refreshed oldest transaction", zap.Uint64("oldest_txn", uint64(oldest)))

	d := &dispatcher{
		tree:       tree,
		mode:       mode,
		reconciler: r.reconciler,
		flusher:    r.flusher,
		txns:       r.txns,
		logger:     logger,
		stats:      &stats,
	}
	var c cursor = tree
	if r.cursorFor != nil {
		c = r.cursorFor(tree)
	}
	w := startWalk(c)
	defer w.release()

	ref, ok, err := w.next()
	for err == nil && ok {
		if err = d.prepare(ctx, ref); err != nil {
			break
		}
		// The page just returned marks our place; move past it before it
		// is disposed of, since that can change the tree.
		var next pagemanager.RefID
		if next, ok, err = w.next(); err != nil {
			break
		}
		if err = d.dispose(ctx, ref); err != nil {
			break
		}
		ref = next
	}
	stats.Visited = w.visited

	if err != nil {
		if flushmanager.IsRetryable(err) {
			logger.Warn("Reclamation pass stopped, retry later", zap.Int("visited", stats.Visited), zap.Error(err))
		} else {
			logger.Error("Reclamation pass failed", zap.Int("visited", stats.Visited), zap.Error(err))
		}
		return stats, err
	}
	logger.Info("Finished reclamation pass",
		zap.Int("visited", stats.Visited),
		zap.Int("reconciled", stats.Reconciled),
		zap.Int("evicted", stats.Evicted),
		zap.Int("merged", stats.Merged),
		zap.Int("merge_deferred", stats.MergeDeferred),
		zap.Int("discarded", stats.Discarded),
		zap.Duration("elapsed", time.Since(start)))
	return stats, nil
}
