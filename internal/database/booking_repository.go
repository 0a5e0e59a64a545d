package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
)

// BookingRepository handles database operations for the bookings table
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, reference, lot_id, user_id, session_id, status,
	drop_off_time, pick_up_time, license_plate, vehicle_class, add_ons, flight_number,
	contact_name, contact_email, contact_phone, total_amount, currency,
	confirmed_at, checked_in_at, checked_out_at, cancelled_at, created_at, updated_at`

// ============================================================================
// WRITES
// ============================================================================

// Create inserts a booking. It returns false without error when the reference
// is already taken so the caller can pick another one inside the same transaction.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) (bool, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.AddOns == nil {
		b.AddOns = models.StringArray{}
	}

	query := `
		INSERT INTO bookings (
			id, reference, lot_id, user_id, session_id, status,
			drop_off_time, pick_up_time, license_plate, vehicle_class, add_ons, flight_number,
			contact_name, contact_email, contact_phone, total_amount, currency
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (reference) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := Conn(ctx, r.db).QueryRowxContext(ctx, query,
		b.ID, b.Reference, b.LotID, b.UserID, b.SessionID, b.Status,
		b.DropOffTime, b.PickUpTime, b.LicensePlate, b.VehicleClass, b.AddOns, b.FlightNumber,
		b.ContactName, b.ContactEmail, b.ContactPhone, b.TotalAmount, b.Currency,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create booking: %w", err)
	}
	return true, nil
}

// UpdateStatus persists a transition made with Booking.TransitionTo. The update
// only applies while the row is still in status from; otherwise a concurrent
// writer got there first and an illegal-transition error is returned.
func (r *BookingRepository) UpdateStatus(ctx context.Context, b *models.Booking, from models.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $1,
		    confirmed_at = $2,
		    checked_in_at = $3,
		    checked_out_at = $4,
		    cancelled_at = $5,
		    updated_at = $6
		WHERE id = $7 AND status = $8
	`

	result, err := Conn(ctx, r.db).ExecContext(ctx, query,
		b.Status, b.ConfirmedAt, b.CheckedInAt, b.CheckedOutAt, b.CancelledAt, b.UpdatedAt,
		b.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if rows == 0 {
		return apperrors.Transition("booking", string(from), string(b.Status))
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// GetByID retrieves a booking by ID. Returns nil, nil when absent.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByReference retrieves a booking by its business reference
func (r *BookingRepository) GetByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reference = $1`, reference)
}

// GetByReferenceForUpdate retrieves and row-locks a booking for the rest of the transaction
func (r *BookingRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reference = $1 FOR UPDATE`, reference)
}

func (r *BookingRepository) get(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := Conn(ctx, r.db).GetContext(ctx, &b, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// ListOccupying returns the bookings of a lot that overlap iv and still occupy a space.
// Only the columns needed for overlap counting are loaded.
func (r *BookingRepository) ListOccupying(ctx context.Context, lotID uuid.UUID, iv models.Interval) ([]*models.Booking, error) {
	statuses := make([]string, len(models.OccupyingBookingStatuses))
	for i, s := range models.OccupyingBookingStatuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT id, status, drop_off_time, pick_up_time
		FROM bookings
		WHERE lot_id = $1
		  AND status = ANY($2)
		  AND drop_off_time < $3
		  AND pick_up_time > $4
	`

	bookings := []*models.Booking{}
	err := Conn(ctx, r.db).SelectContext(ctx, &bookings, query, lotID, pq.Array(statuses), iv.End, iv.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to list occupying bookings: %w", err)
	}
	return bookings, nil
}

// ListByUser returns a user's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	bookings := []*models.Booking{}
	if err := Conn(ctx, r.db).SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings for user: %w", err)
	}
	return bookings, nil
}
