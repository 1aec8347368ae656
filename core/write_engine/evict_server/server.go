package evictserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojodb-evict/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

var (
	ErrQueueFull     = errors.New("eviction queue is full")
	ErrServerStopped = errors.New("eviction server is stopped")
)

// Config holds the background eviction server settings.
type Config struct {
	// Workers is the number of eviction goroutines.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// QueueSize bounds the number of queued eviction requests.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1024}
}

// PageEvictor evicts one page. *flushmanager.FlushManager implements it.
type PageEvictor interface {
	Evict(ctx context.Context, tree *pagemanager.Tree, ref pagemanager.RefID) (int, error)
}

// TreeStats counts background activity for one tree.
type TreeStats struct {
	Queued   int64
	InFlight int64
	Evicted  int64
	Skipped  int64
}

type treeState struct {
	queued   atomic.Int64
	inflight atomic.Int64
	evicted  atomic.Int64
	skipped  atomic.Int64
}

type request struct {
	tree *pagemanager.Tree
	ref  pagemanager.RefID
}

// Server is the cache-wide background evictor. Work is queued per page and
// evicted by a pool of workers; a tree whose eviction is disabled has its
// queued work skipped.
type Server struct {
	cfg     Config
	evictor PageEvictor
	logger  *zap.Logger

	queue chan request
	trees *xsync.MapOf[*pagemanager.Tree, *treeState]

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewServer creates a stopped server.
func NewServer(cfg Config, evictor PageEvictor, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		evictor:  evictor,
		logger:   logger.Named("evict_server"),
		queue:    make(chan request, cfg.QueueSize),
		trees:    xsync.NewMapOf[*pagemanager.Tree, *treeState](),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("Starting eviction server", zap.Int("workers", s.cfg.Workers), zap.Int("queue_size", s.cfg.QueueSize))
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return nil
}

// Stop shuts the workers down and waits for them. Queued work is dropped.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Stopping eviction server...")
	close(s.stopChan)
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Eviction server stopped.")
	return nil
}

func (s *Server) state(tree *pagemanager.Tree) *treeState {
	st, _ := s.trees.LoadOrCompute(tree, func() *treeState { return &treeState{} })
	return st
}

// Enqueue schedules ref for background eviction. Requests for a tree whose
// eviction is disabled are refused.
func (s *Server) Enqueue(tree *pagemanager.Tree, ref pagemanager.RefID) error {
	if !s.running.Load() {
		return ErrServerStopped
	}
	if tree.EvictionDisabled() {
		return fmt.Errorf("%w: eviction disabled for %s", flushmanager.ErrBusy, tree.Name())
	}
	st := s.state(tree)
	st.queued.Add(1)
	select {
	case s.queue <- request{tree: tree, ref: ref}:
		return nil
	default:
		st.queued.Add(-1)
		return ErrQueueFull
	}
}

// DisableFor suspends background eviction of tree's pages and reports
// whether this call did the disabling.
func (s *Server) DisableFor(tree *pagemanager.Tree) bool {
	disabled := tree.DisableEviction()
	if disabled {
		s.logger.Debug("Disabled eviction", zap.String("tree", tree.Name()))
	}
	return disabled
}

// EnableFor resumes background eviction of tree's pages.
func (s *Server) EnableFor(tree *pagemanager.Tree) {
	tree.EnableEviction()
	s.logger.Debug("Enabled eviction", zap.String("tree", tree.Name()))
}

// Drain reports whether no eviction of tree's pages is in flight. Queued
// requests are not waited for: workers skip them once eviction is disabled.
// It returns ErrBusy while a worker is still evicting one of tree's pages.
func (s *Server) Drain(_ context.Context, tree *pagemanager.Tree) error {
	st, ok := s.trees.Load(tree)
	if !ok {
		return nil
	}
	if n := st.inflight.Load(); n > 0 {
		return fmt.Errorf("%w: %d evictions in flight for %s", flushmanager.ErrBusy, n, tree.Name())
	}
	return nil
}

// Stats returns the counters for tree.
func (s *Server) Stats(tree *pagemanager.Tree) TreeStats {
	st, ok := s.trees.Load(tree)
	if !ok {
		return TreeStats{}
	}
	return TreeStats{
		Queued:   st.queued.Load(),
		InFlight: st.inflight.Load(),
		Evicted:  st.evicted.Load(),
		Skipped:  st.skipped.Load(),
	}
}

func (s *Server) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case req := <-s.queue:
			s.evictOne(id, req)
		}
	}
}

func (s *Server) evictOne(worker int, req request) {
	st := s.state(req.tree)
	st.queued.Add(-1)
	// Raise in-flight before reading the flag: Drain reads them in the
	// opposite order, so one of the two always observes the other.
	st.inflight.Add(1)
	defer st.inflight.Add(-1)

	if req.tree.EvictionDisabled() {
		st.skipped.Add(1)
		s.logger.Debug("Skipping queued eviction, tree is exclusive",
			zap.String("tree", req.tree.Name()), zap.Uint32("ref", uint32(req.ref)))
		return
	}

	if _, err := s.evictor.Evict(s.ctx, req.tree, req.ref); err != nil {
		st.skipped.Add(1)
		if flushmanager.IsRetryable(err) || errors.Is(err, pagemanager.ErrPageNotResident) ||
			errors.Is(err, pagemanager.ErrRefNotFound) {
			s.logger.Debug("Background eviction skipped page",
				zap.Int("worker", worker), zap.String("tree", req.tree.Name()),
				zap.Uint32("ref", uint32(req.ref)), zap.Error(err))
			return
		}
		s.logger.Warn("Background eviction failed",
			zap.Int("worker", worker), zap.String("tree", req.tree.Name()),
			zap.Uint32("ref", uint32(req.ref)), zap.Error(err))
		return
	}
	st.evicted.Add(1)
}
