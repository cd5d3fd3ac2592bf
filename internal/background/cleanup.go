package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/matchwell/gatekeeper/internal/repositories"
)

// Sweeper periodically retires expired rows: attempt ledger entries past
// retention, lapsed blocks, expired trust windows, and dead sessions.
// Correctness never depends on it running; expiry is enforced lazily on
// every read. The sweeper just keeps the tables from growing forever.
type Sweeper struct {
	attempts *repositories.AttemptRepository
	blocks   *repositories.BlockRepository
	trust    *repositories.DeviceTrustRepository
	sessions *repositories.SessionRepository
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(
	attempts *repositories.AttemptRepository,
	blocks *repositories.BlockRepository,
	trust *repositories.DeviceTrustRepository,
	sessions *repositories.SessionRepository,
	logger *slog.Logger,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		attempts: attempts,
		blocks:   blocks,
		trust:    trust,
		sessions: sessions,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{"attempts", s.attempts.DeleteExpired},
		{"blocks", s.blocks.DeactivateExpired},
		{"device_trust", s.trust.DeleteExpired},
		{"sessions", s.sessions.DeleteExpired},
	}

	for _, step := range results {
		rows, err := step.run(sweepCtx)
		if err != nil {
			s.logger.Error("sweep step failed",
				slog.String("step", step.name),
				slog.Any("error", err))
			continue
		}
		if rows > 0 {
			s.logger.Info("sweep step completed",
				slog.String("step", step.name),
				slog.Int64("rows", rows))
		}
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
