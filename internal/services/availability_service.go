package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
)

// AvailabilityService computes free spaces for a lot and interval
type AvailabilityService struct {
	tx       Transactor
	lots     LotStore
	bookings BookingStore
	holds    HoldStore
	sweeper  *ExpirySweeper
	clock    clock.Clock
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(
	tx Transactor,
	lots LotStore,
	bookings BookingStore,
	holds HoldStore,
	sweeper *ExpirySweeper,
	clk clock.Clock,
) *AvailabilityService {
	return &AvailabilityService{
		tx:       tx,
		lots:     lots,
		bookings: bookings,
		holds:    holds,
		sweeper:  sweeper,
		clock:    clk,
	}
}

// AvailableSpaces returns max(0, totalSpaces - overlapping bookings - overlapping live holds).
// Expired holds are swept first so they never suppress availability.
func (s *AvailabilityService) AvailableSpaces(ctx context.Context, lotID uuid.UUID, iv models.Interval) (*models.AvailabilityResponse, error) {
	if err := iv.Validate(); err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	var resp *models.AvailabilityResponse
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.sweeper.Sweep(ctx); err != nil {
			return err
		}

		lot, err := s.lots.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return apperrors.ErrLotNotFound
		}

		available, err := s.available(ctx, lot, iv, "")
		if err != nil {
			return err
		}

		resp = &models.AvailabilityResponse{
			LotID:           lot.ID,
			Start:           iv.Start,
			End:             iv.End,
			TotalSpaces:     lot.TotalSpaces,
			AvailableSpaces: available,
			IsAvailable:     available > 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// available counts free spaces using the caller's transaction. The hold owned
// by excludeSession is not counted, so a session never competes with itself.
func (s *AvailabilityService) available(ctx context.Context, lot *models.Lot, iv models.Interval, excludeSession string) (int, error) {
	now := s.clock.Now()

	bookings, err := s.bookings.ListOccupying(ctx, lot.ID, iv)
	if err != nil {
		return 0, err
	}
	holds, err := s.holds.ListLive(ctx, lot.ID, iv, now, excludeSession)
	if err != nil {
		return 0, err
	}

	bookingOverlap := models.CountOverlaps(bookings, iv,
		func(b *models.Booking) models.Interval { return b.Interval() },
		func(b *models.Booking) bool { return b.Status.OccupiesSpace() },
	)
	holdOverlap := models.CountOverlaps(holds, iv,
		func(h *models.SpotReservation) models.Interval { return h.Interval() },
		func(h *models.SpotReservation) bool { return h.IsLive(now) && h.SessionID != excludeSession },
	)

	free := lot.TotalSpaces - bookingOverlap - holdOverlap
	if free < 0 {
		return 0, nil
	}
	return free, nil
}

// ListLots returns every lot
func (s *AvailabilityService) ListLots(ctx context.Context) ([]*models.Lot, error) {
	return s.lots.ListLots(ctx)
}

// GetLot returns one lot or ErrLotNotFound
func (s *AvailabilityService) GetLot(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	lot, err := s.lots.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, apperrors.ErrLotNotFound
	}
	return lot, nil
}
