package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/models"
)

// The interfaces below are satisfied by the repositories in internal/database.

// Transactor runs fn inside one database transaction
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LotStore reads lot capacity
type LotStore interface {
	GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	GetLotForUpdate(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	ListLots(ctx context.Context) ([]*models.Lot, error)
	UpsertLot(ctx context.Context, lot *models.Lot) error
}

// BookingStore persists bookings
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) (bool, error)
	UpdateStatus(ctx context.Context, b *models.Booking, from models.BookingStatus) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Booking, error)
	ListOccupying(ctx context.Context, lotID uuid.UUID, iv models.Interval) ([]*models.Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error)
}

// HoldStore persists session holds
type HoldStore interface {
	GetBySession(ctx context.Context, sessionID string) (*models.SpotReservation, error)
	Create(ctx context.Context, hold *models.SpotReservation) error
	Update(ctx context.Context, hold *models.SpotReservation) error
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListLive(ctx context.Context, lotID uuid.UUID, iv models.Interval, now time.Time, excludeSession string) ([]*models.SpotReservation, error)
}

// PaymentStore persists booking payments
type PaymentStore interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	Create(ctx context.Context, p *models.Payment) error
	Update(ctx context.Context, p *models.Payment) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*database.StalePayment, error)
}

// AuditStore appends payment audit rows
type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	HasProcessedEvent(ctx context.Context, provider models.PaymentProvider, eventID string) (bool, error)
	GetByReference(ctx context.Context, reference string) ([]*models.PaymentAudit, error)
}

// RequestMeta carries client details recorded in audits
type RequestMeta struct {
	IP        string
	UserAgent string
}

var (
	_ Transactor   = (*database.TxManager)(nil)
	_ LotStore     = (*database.LotRepository)(nil)
	_ BookingStore = (*database.BookingRepository)(nil)
	_ HoldStore    = (*database.HoldRepository)(nil)
	_ PaymentStore = (*database.PaymentRepository)(nil)
	_ AuditStore   = (*database.PaymentAuditRepository)(nil)
)
