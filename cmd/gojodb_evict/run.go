package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-evict/core/evict"
	"github.com/sushant-115/gojodb-evict/core/transaction"
	evictserver "github.com/sushant-115/gojodb-evict/core/write_engine/evict_server"
	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-evict/internal/telemetry"
	"github.com/sushant-115/gojodb-evict/pkg/logger"
	"github.com/sushant-115/gojodb-evict/pkg/telemetry"
)

var (
	runMode       string
	runLeaves     int
	runKeys       int
	runBackground int
	runOpenTxn    bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Populate a tree, evict in the background, then reclaim it",
		Long: `Populate a tree with committed writes, hand some leaves to the background
eviction server and finally reclaim the whole tree with the chosen mode.
With --open-txn a transaction stays running over one leaf, which makes
close and discard report the tree busy.`,
		RunE: run,
	}
)

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", evict.SyncClose.String(), "sync mode (close, discard, discard-force)")
	runCmd.Flags().IntVar(&runLeaves, "leaves", 32, "leaf pages under the root")
	runCmd.Flags().IntVar(&runKeys, "keys", 16, "keys written per leaf")
	runCmd.Flags().IntVar(&runBackground, "background", 8, "leaves handed to background eviction first")
	runCmd.Flags().BoolVar(&runOpenTxn, "open-txn", false, "leave a transaction running with a write on the last leaf")
}

func run(cmd *cobra.Command, _ []string) error {
	mode, err := evict.ParseSyncMode(runMode)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	metrics, err := internaltelemetry.NewEvictMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create eviction metrics: %w", err)
	}

	store, err := cfg.BlockStore.Open()
	if err != nil {
		return fmt.Errorf("failed to open block store: %w", err)
	}
	defer store.Close()

	cache := pagemanager.NewCache()
	if err := internaltelemetry.RegisterCacheGauges(tel.Meter, cache); err != nil {
		return fmt.Errorf("failed to register cache gauges: %w", err)
	}

	txns := transaction.NewManager()
	rec := flushmanager.NewPageReconciler(store, txns, flushmanager.Compression(cfg.BlockStore.Compression), log)
	fm := flushmanager.NewFlushManager(rec, log)

	server := evictserver.NewServer(cfg.Server, fm, log)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	tree, leaves, err := populate(cache, txns)
	if err != nil {
		return err
	}
	log.Info("Tree populated",
		zap.String("tree", tree.Name()),
		zap.Int("resident_pages", tree.ResidentPages()),
		zap.Int64("dirty_bytes", cache.DirtyBytes()),
	)

	for i := 0; i < runBackground && i < len(leaves); i++ {
		if err := server.Enqueue(tree, leaves[i]); err != nil && !errors.Is(err, evictserver.ErrQueueFull) {
			return err
		}
	}

	reclaimer := evict.NewReclaimer(cfg.Evict, server, rec, fm, txns, log,
		evict.WithMetrics(metrics),
		evict.WithTracer(tel.Tracer),
	)
	stats, err := reclaimer.EvictFile(ctx, tree, mode)

	bg := server.Stats(tree)
	fmt.Fprintf(cmd.OutOrStdout(),
		"mode=%s visited=%d reconciled=%d evicted=%d merged=%d deferred=%d discarded=%d background_evicted=%d background_skipped=%d resident=%d dirty_bytes=%d\n",
		mode, stats.Visited, stats.Reconciled, stats.Evicted, stats.Merged, stats.MergeDeferred, stats.Discarded,
		bg.Evicted, bg.Skipped, tree.ResidentPages(), cache.DirtyBytes(),
	)
	if err != nil && flushmanager.IsRetryable(err) {
		return fmt.Errorf("tree %s is busy, retry later: %w", tree.Name(), err)
	}
	return err
}

// populate builds root(internal) -> runLeaves leaves, each written by a
// committed transaction.
func populate(cache *pagemanager.Cache, txns *transaction.Manager) (*pagemanager.Tree, []pagemanager.RefID, error) {
	tree := pagemanager.NewTree("cli.db", cache, pagemanager.PageInternal)
	tree.SetAbortOracle(txns)
	leaves := make([]pagemanager.RefID, 0, runLeaves)
	for i := 0; i < runLeaves; i++ {
		leaf, err := tree.AddChild(tree.Root(), pagemanager.PageLeaf)
		if err != nil {
			return nil, nil, err
		}
		leaves = append(leaves, leaf)
	}

	for i, leaf := range leaves {
		txn := txns.Begin()
		for k := 0; k < runKeys; k++ {
			key := fmt.Sprintf("leaf%04d/key%04d", i, k)
			if err := tree.Put(leaf, txn.ID, key, fmt.Sprintf("value-%d-%d", i, k)); err != nil {
				return nil, nil, err
			}
		}
		if err := txns.Commit(txn.ID); err != nil {
			return nil, nil, err
		}
	}

	if runOpenTxn && len(leaves) > 0 {
		txn := txns.Begin()
		if err := tree.Put(leaves[len(leaves)-1], txn.ID, "uncommitted", "pending"); err != nil {
			return nil, nil, err
		}
	}
	txns.UpdateOldest()
	return tree, leaves, nil
}
