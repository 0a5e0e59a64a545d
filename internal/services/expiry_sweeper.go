package services

import (
	"context"
	"fmt"

	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// ExpirySweeper deletes holds whose expiry has passed.
// It is idempotent and safe to run concurrently with itself.
type ExpirySweeper struct {
	holds  HoldStore
	clock  clock.Clock
	logger *logrus.Logger
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(holds HoldStore, clk clock.Clock, logger *logrus.Logger) *ExpirySweeper {
	return &ExpirySweeper{holds: holds, clock: clk, logger: logger}
}

// Sweep deletes every hold with expires_at < now and returns how many were removed
func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.holds.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	if removed > 0 {
		metrics.AddHoldsSwept(removed)
		s.logger.WithField("count", removed).Debug("Swept expired holds")
	}
	return removed, nil
}
