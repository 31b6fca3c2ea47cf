package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stampcard/loyalty-api/internal/pkg/metrics"
)

// Sweeper marks long-stale pending sessions as expired. It is housekeeping
// only: confirmation checks expiry on its own.
type Sweeper struct {
	repo    Repository
	grace   time.Duration
	metrics *metrics.ScanMetrics
	now     func() time.Time
}

// NewSweeper creates a sweeper expiring sessions older than expires_at + grace.
func NewSweeper(repo Repository, grace time.Duration, m *metrics.ScanMetrics) *Sweeper {
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{
		repo:    repo,
		grace:   grace,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the sweeper every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scan session sweeper stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire stale scan sessions")
		return
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("Expired stale scan sessions")
	}
}

// RunOnce runs one sweep (for manual trigger or testing)
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveSwept(n)
	return n, nil
}
