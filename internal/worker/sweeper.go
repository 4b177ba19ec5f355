package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/observability"
)

// SessionSweeper is the subset of the session registry the sweeper needs.
type SessionSweeper interface {
	RevokeStale(ctx context.Context, cutoff, at time.Time) (int64, error)
	PurgeRevoked(ctx context.Context, before time.Time) (int64, error)
}

// RevocationPurger drops blacklist entries past their natural expiry.
type RevocationPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// SweeperConfig controls the maintenance cadence and windows.
type SweeperConfig struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	Retention   time.Duration
	OpTimeout   time.Duration
}

// Sweeper periodically expires idle sessions, deletes revoked sessions past
// retention and purges expired revocation entries.
type Sweeper struct {
	sessions    SessionSweeper
	revocations RevocationPurger
	cfg         SweeperConfig
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// SweepResult reports what a single pass did.
type SweepResult struct {
	Stale       int64
	Purged      int64
	Revocations int
}

// NewSweeper constructs a sweeper.
func NewSweeper(sessions SessionSweeper, revocations RevocationPurger, cfg SweeperConfig, logger *zap.Logger, metrics *observability.Metrics) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sessions:    sessions,
		revocations: revocations,
		cfg:         cfg,
		logger:      logger.Named("sweeper"),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass. Failures of one step are logged and
// do not prevent the others.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	var res SweepResult
	now := s.now()

	if s.cfg.IdleTimeout > 0 {
		n, err := s.sessions.RevokeStale(ctx, now.Add(-s.cfg.IdleTimeout), now)
		if err != nil {
			s.logger.Warn("revoke stale sessions failed", zap.Error(err))
		}
		res.Stale = n
	}

	if s.cfg.Retention > 0 {
		n, err := s.sessions.PurgeRevoked(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			s.logger.Warn("purge revoked sessions failed", zap.Error(err))
		}
		res.Purged = n
	}

	n, err := s.revocations.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn("purge revocation entries failed", zap.Error(err))
	}
	res.Revocations = n

	s.metrics.RecordSweep("stale", res.Stale)
	s.metrics.RecordSweep("purged", res.Purged)
	s.metrics.RecordSweep("revocations", int64(res.Revocations))

	if res.Stale > 0 || res.Purged > 0 || res.Revocations > 0 {
		s.logger.Info("sweep completed",
			zap.Int64("stale", res.Stale),
			zap.Int64("purged", res.Purged),
			zap.Int("revocations", res.Revocations))
	}
	return res
}
