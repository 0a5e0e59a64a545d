package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/parkflow/parking-booking-backend/internal/models"
)

// HoldRepository handles database operations for the spot_reservations table
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

const holdColumns = `
	id, session_id, lot_id, user_id, start_date, end_date,
	expires_at, is_active, booking_data, created_at, updated_at`

// GetBySession returns the session's hold regardless of expiry. Returns nil, nil when absent.
func (r *HoldRepository) GetBySession(ctx context.Context, sessionID string) (*models.SpotReservation, error) {
	var hold models.SpotReservation
	err := Conn(ctx, r.db).GetContext(ctx, &hold,
		`SELECT `+holdColumns+` FROM spot_reservations WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hold for session: %w", err)
	}
	return &hold, nil
}

// Create inserts a new hold. session_id is unique, so a concurrent create for
// the same session fails with a unique violation.
func (r *HoldRepository) Create(ctx context.Context, hold *models.SpotReservation) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}

	query := `
		INSERT INTO spot_reservations (
			id, session_id, lot_id, user_id, start_date, end_date,
			expires_at, is_active, booking_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err := Conn(ctx, r.db).ExecContext(ctx, query,
		hold.ID, hold.SessionID, hold.LotID, hold.UserID, hold.StartDate, hold.EndDate,
		hold.ExpiresAt, hold.IsActive, hold.BookingData, hold.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}
	hold.UpdatedAt = hold.CreatedAt
	return nil
}

// Update overwrites the mutable fields of an existing hold, keeping its identity
func (r *HoldRepository) Update(ctx context.Context, hold *models.SpotReservation) error {
	query := `
		UPDATE spot_reservations
		SET lot_id = $1,
		    user_id = $2,
		    start_date = $3,
		    end_date = $4,
		    expires_at = $5,
		    is_active = $6,
		    booking_data = $7,
		    updated_at = $8
		WHERE id = $9
	`

	_, err := Conn(ctx, r.db).ExecContext(ctx, query,
		hold.LotID, hold.UserID, hold.StartDate, hold.EndDate,
		hold.ExpiresAt, hold.IsActive, hold.BookingData, hold.UpdatedAt, hold.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update hold: %w", err)
	}
	return nil
}

// DeleteBySession removes the session's hold. Deleting nothing is not an error.
func (r *HoldRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM spot_reservations WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release hold: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes every hold whose expires_at is strictly before now
func (r *HoldRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM spot_reservations WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired holds: %w", err)
	}
	return result.RowsAffected()
}

// ListLive returns active, unexpired holds of a lot overlapping iv.
// The hold of excludeSession, if any, is left out.
func (r *HoldRepository) ListLive(ctx context.Context, lotID uuid.UUID, iv models.Interval, now time.Time, excludeSession string) ([]*models.SpotReservation, error) {
	query := `
		SELECT id, session_id, start_date, end_date, expires_at, is_active
		FROM spot_reservations
		WHERE lot_id = $1
		  AND is_active = TRUE
		  AND expires_at > $2
		  AND start_date < $3
		  AND end_date > $4
		  AND session_id <> $5
	`

	holds := []*models.SpotReservation{}
	err := Conn(ctx, r.db).SelectContext(ctx, &holds, query, lotID, now, iv.End, iv.Start, excludeSession)
	if err != nil {
		return nil, fmt.Errorf("failed to list live holds: %w", err)
	}
	return holds, nil
}
