package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/metrics"
)

// Sweeper retires expired records in the background: policies past their
// end date, permission grants and user-role assignments past their
// expiry, and lapsed cross-tenant grants. Expiry happens without a
// mutation, so no per-row cache eviction ever fires for it; a sweep that
// removed anything flushes the whole decision cache instead.
type Sweeper struct {
	store    db.Store
	inval    Invalidator
	metrics  metrics.Metrics
	logger   *zap.Logger
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. Call Start to launch the loop.
func NewSweeper(deps Deps, cfg config.SweepConfig) *Sweeper {
	deps.fill()
	interval := cfg.Interval.Std()
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    deps.Store,
		inval:    deps.Invalidator,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then sweeps on every interval tick
// until Close is called.
func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) loop() {
	s.Sweep(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the background loop.
func (s *Sweeper) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Sweep runs one pass over every expirable table. A failed pass is logged
// and the remaining passes still run.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	var total int64

	total += s.pass("policies", func() (int64, error) {
		return s.store.DeactivateExpiredPolicies(ctx, now)
	})
	total += s.pass("role_permissions", func() (int64, error) {
		return s.store.DeleteExpiredGrants(ctx, now)
	})
	total += s.pass("user_roles", func() (int64, error) {
		return s.store.DeactivateExpiredUserRoles(ctx, now)
	})
	total += s.pass("cross_tenant_grants", func() (int64, error) {
		return s.store.DeactivateExpiredCrossTenantGrants(ctx, now)
	})

	if total > 0 {
		// Cached ALLOW decisions may rest on the rows just retired.
		s.inval.InvalidateAll(ctx)
		s.metrics.UpdateCacheEntries(0)
	}
	s.logger.Info("expiry sweep finished", zap.Int64("removed", total))
}

func (s *Sweeper) pass(kind string, fn func() (int64, error)) int64 {
	n, err := fn()
	if err != nil {
		s.logger.Warn("expiry sweep pass failed", zap.String("kind", kind), zap.Error(err))
		return 0
	}
	s.metrics.RecordSweep(kind, int(n))
	if n > 0 {
		s.logger.Info("expired records retired", zap.String("kind", kind), zap.Int64("count", n))
	}
	return n
}
