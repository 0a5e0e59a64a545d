package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// HoldService manages the one-per-session provisional hold on a space
type HoldService struct {
	tx           Transactor
	lots         LotStore
	holds        HoldStore
	availability *AvailabilityService
	sweeper      *ExpirySweeper
	clock        clock.Clock
	logger       *logrus.Logger
	ttl          time.Duration
}

// HoldOption configures a HoldService
type HoldOption func(*HoldService)

// WithHoldTTL overrides the default hold lifetime
func WithHoldTTL(ttl time.Duration) HoldOption {
	return func(s *HoldService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewHoldService creates a new hold service
func NewHoldService(
	tx Transactor,
	lots LotStore,
	holds HoldStore,
	availability *AvailabilityService,
	sweeper *ExpirySweeper,
	clk clock.Clock,
	logger *logrus.Logger,
	opts ...HoldOption,
) *HoldService {
	s := &HoldService{
		tx:           tx,
		lots:         lots,
		holds:        holds,
		availability: availability,
		sweeper:      sweeper,
		clock:        clk,
		logger:       logger,
		ttl:          models.DefaultHoldTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured hold lifetime
func (s *HoldService) TTL() time.Duration {
	return s.ttl
}

// Acquire creates the session's hold or extends the one it already has.
//
// The lot row is locked for the whole check-and-write, so two sessions racing
// for the last space are serialized. An extension that keeps the same lot and
// interval is never re-checked. An extension that moves the hold is checked
// against capacity excluding the session's own hold; if that fails the old hold
// stays as it was. expires_at never moves backwards.
func (s *HoldService) Acquire(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.AcquireHoldRequest) (*models.HoldResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.Validation("session id is required")
	}
	iv := models.Interval{Start: req.StartDate, End: req.EndDate}
	if err := iv.Validate(); err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	var (
		hold     *models.SpotReservation
		extended bool
		now      time.Time
	)

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		lot, err := s.lots.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return apperrors.ErrLotNotFound
		}

		if _, err := s.sweeper.Sweep(ctx); err != nil {
			return err
		}

		now = s.clock.Now()
		existing, err := s.holds.GetBySession(ctx, sessionID)
		if err != nil {
			return err
		}

		if existing != nil {
			moved := existing.LotID != lot.ID || !existing.Interval().Equal(iv)
			if moved {
				if err := s.ensureCapacity(ctx, lot, iv, sessionID); err != nil {
					return err
				}
			}

			expiresAt := now.Add(s.ttl)
			if expiresAt.Before(existing.ExpiresAt) {
				expiresAt = existing.ExpiresAt
			}

			existing.LotID = lot.ID
			existing.StartDate = iv.Start
			existing.EndDate = iv.End
			existing.ExpiresAt = expiresAt
			existing.IsActive = true
			existing.UpdatedAt = now
			if req.BookingData != nil {
				existing.BookingData = req.BookingData
			}
			if userID != nil {
				existing.UserID = userID
			}

			if err := s.holds.Update(ctx, existing); err != nil {
				return err
			}
			hold, extended = existing, true
			return nil
		}

		if err := s.ensureCapacity(ctx, lot, iv, sessionID); err != nil {
			return err
		}

		hold = &models.SpotReservation{
			ID:          uuid.New(),
			SessionID:   sessionID,
			LotID:       lot.ID,
			UserID:      userID,
			StartDate:   iv.Start,
			EndDate:     iv.End,
			ExpiresAt:   now.Add(s.ttl),
			IsActive:    true,
			BookingData: req.BookingData,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.holds.Create(ctx, hold)
	})

	if err != nil {
		if database.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: session already holds a space", apperrors.ErrConflict)
		}
		if errors.Is(err, apperrors.ErrNoSpotsAvailable) {
			metrics.IncHold("rejected")
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"lot_id":     req.LotID,
		}).Info("Hold not acquired")
		return nil, err
	}

	result := "created"
	if extended {
		result = "extended"
	}
	metrics.IncHold(result)
	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"lot_id":     hold.LotID,
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt,
		"result":     result,
	}).Info("Hold acquired")

	return models.NewHoldResponse(hold, now, extended), nil
}

func (s *HoldService) ensureCapacity(ctx context.Context, lot *models.Lot, iv models.Interval, sessionID string) error {
	available, err := s.availability.available(ctx, lot, iv, sessionID)
	if err != nil {
		return err
	}
	if available <= 0 {
		return apperrors.ErrNoSpotsAvailable
	}
	return nil
}

// Get returns the session's live hold, or nil when there is none
func (s *HoldService) Get(ctx context.Context, sessionID string) (*models.HoldResponse, error) {
	if sessionID == "" {
		return nil, nil
	}
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		return nil, err
	}

	hold, err := s.holds.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if hold == nil || !hold.IsLive(now) {
		return nil, nil
	}
	return models.NewHoldResponse(hold, now, false), nil
}

// Release deletes the session's hold. Releasing nothing succeeds.
func (s *HoldService) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		return err
	}

	removed, err := s.holds.DeleteBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.WithField("session_id", sessionID).Info("Hold released")
	}
	return nil
}
