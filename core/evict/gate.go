package evict

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// BackgroundEvictor is the cache-wide eviction service a pass must exclude.
// *evictserver.Server implements it.
type BackgroundEvictor interface {
	// DisableFor suspends eviction of tree's pages and reports whether
	// this call changed the setting.
	DisableFor(tree *pagemanager.Tree) bool
	EnableFor(tree *pagemanager.Tree)
	// Drain returns nil once no eviction of tree's pages is in flight,
	// or a retryable error while one still is.
	Drain(ctx context.Context, tree *pagemanager.Tree) error
}

// GateConfig bounds the wait for in-flight background eviction.
type GateConfig struct {
	DrainRetries  int           `yaml:"drain_retries" mapstructure:"drain_retries"`
	DrainInterval time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{DrainRetries: 100, DrainInterval: 10 * time.Millisecond}
}

// exclusive is held for the duration of a pass. release only re-enables
// background eviction if acquire was the call that disabled it.
type exclusive struct {
	bg       BackgroundEvictor
	tree     *pagemanager.Tree
	disabled bool
	released bool
}

// acquireExclusive disables background eviction of tree and waits for
// eviction already in flight to finish. If eviction was already disabled the
// call is a no-op. When draining does not complete within the configured
// retries the flag is restored and a retryable error returned.
func acquireExclusive(ctx context.Context, bg BackgroundEvictor, tree *pagemanager.Tree, cfg GateConfig, logger *zap.Logger) (*exclusive, error) {
	if !bg.DisableFor(tree) {
		logger.Debug("Eviction already disabled, not taking exclusive access", zap.String("tree", tree.Name()))
		return &exclusive{bg: bg, tree: tree}, nil
	}

	limiter := rate.NewLimiter(rate.Every(cfg.DrainInterval), 1)
	var err error
	for attempt := 0; attempt <= cfg.DrainRetries; attempt++ {
		if err = bg.Drain(ctx, tree); err == nil {
			return &exclusive{bg: bg, tree: tree, disabled: true}, nil
		}
		if !flushmanager.IsRetryable(err) {
			break
		}
		logger.Debug("Waiting for in-flight eviction to drain",
			zap.String("tree", tree.Name()), zap.Int("attempt", attempt), zap.Error(err))
		if werr := limiter.Wait(ctx); werr != nil {
			err = werr
			break
		}
	}
	bg.EnableFor(tree)
	return nil, fmt.Errorf("acquire exclusive access to %s: %w", tree.Name(), err)
}

func (x *exclusive) release() {
	if x == nil || x.released {
		return
	}
	x.released = true
	if x.disabled {
		x.bg.EnableFor(x.tree)
	}
}
