package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/lock"
	"github.com/JonMunkholm/feedpipe/internal/mapping"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	"github.com/JonMunkholm/feedpipe/internal/uid"
)

// Default tuning used when the configuration leaves a value unset.
const (
	DefaultBatchSize     = 500
	DefaultRunTimeout    = 30 * time.Minute
	DefaultDedupTimeout  = 10 * time.Minute
	DefaultSnapshotBytes = 2048
)

// finishTimeout bounds the storage calls that finalize a run. The run's own
// context may already be cancelled at that point.
const finishTimeout = 10 * time.Second

// Service provides the ingestion and deduplication operations.
type Service struct {
	store    Store
	uids     *uid.Allocator
	mapper   *mapping.Engine
	limiter  *RunLimiter
	notifier RunNotifier
	locker   lock.Locker

	batchSize     int
	runTimeout    time.Duration
	dedupTimeout  time.Duration
	maxXMLBytes   int64
	snapshotBytes int

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier reports finalized runs to n.
func WithNotifier(n RunNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLocker serializes deduplication passes through l. The default is an
// in-process lock that fails fast.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// NewService creates a Service over store using the ingest settings of cfg.
func NewService(store Store, cfg *config.Config, opts ...Option) *Service {
	ic := cfg.Ingest

	s := &Service{
		store:         store,
		uids:          uid.New(store).WithObserver(metrics.RecordUIDs),
		mapper:        mapping.New(),
		limiter:       NewRunLimiter(ic.MaxConcurrent, ic.MaxWaitTime),
		locker:        lock.NewLocal(0),
		batchSize:     orDefault(ic.BatchSize, DefaultBatchSize),
		runTimeout:    orDefault(ic.Timeout, DefaultRunTimeout),
		dedupTimeout:  orDefault(ic.DedupTimeout, DefaultDedupTimeout),
		maxXMLBytes:   orDefault(ic.MaxXMLBytes, feed.DefaultMaxXMLBytes),
		snapshotBytes: orDefault(ic.ErrorSnapshotBytes, DefaultSnapshotBytes),
		runs:          make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func orDefault[T int | int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Allocator returns the workspace uid allocator.
func (s *Service) Allocator() *uid.Allocator {
	return s.uids
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// Ping checks the store connection.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// WaitForRuns blocks until every run has released its slot or ctx ends.
// Used for graceful shutdown.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every active run. Runs are finalized as cancelled.
func (s *Service) CancelAll() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ar := range s.runs {
		ar.requestCancel()
	}
	return len(s.runs)
}

// ActiveRunCount returns the number of runs tracked in memory.
func (s *Service) ActiveRunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
