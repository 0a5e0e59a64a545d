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

// PaymentRepository handles database operations for the payments table
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, booking_id, amount, refunded_amount, currency, status, provider, provider_ref,
	failure_reason, paid_at, refunded_at, created_at, updated_at`

// GetByBookingID returns the booking's payment. Returns nil, nil when absent.
func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID)
}

// GetByBookingIDForUpdate returns and row-locks the booking's payment
func (r *PaymentRepository) GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

func (r *PaymentRepository) get(ctx context.Context, query string, bookingID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := Conn(ctx, r.db).GetContext(ctx, &p, query, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// Create inserts the payment row of a booking
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO payments (
			id, booking_id, amount, refunded_amount, currency, status, provider, provider_ref,
			failure_reason, paid_at, refunded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := Conn(ctx, r.db).QueryRowxContext(ctx, query,
		p.ID, p.BookingID, p.Amount, p.RefundedAmount, p.Currency, p.Status, p.Provider, p.ProviderRef,
		p.FailureReason, p.PaidAt, p.RefundedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// Update writes the full mutable state of a payment
func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments
		SET amount = $1,
		    refunded_amount = $2,
		    currency = $3,
		    status = $4,
		    provider = $5,
		    provider_ref = $6,
		    failure_reason = $7,
		    paid_at = $8,
		    refunded_at = $9,
		    updated_at = $10
		WHERE id = $11
	`

	_, err := Conn(ctx, r.db).ExecContext(ctx, query,
		p.Amount, p.RefundedAmount, p.Currency, p.Status, p.Provider, p.ProviderRef,
		p.FailureReason, p.PaidAt, p.RefundedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// StalePayment is a PENDING payment joined with its booking reference
type StalePayment struct {
	models.Payment
	Reference string `db:"reference"`
}

// ListStalePending returns PENDING payments with a provider reference last touched before cutoff
func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*StalePayment, error) {
	query := `
		SELECT p.id, p.booking_id, p.amount, p.refunded_amount, p.currency, p.status, p.provider,
		       p.provider_ref, p.failure_reason, p.paid_at, p.refunded_at, p.created_at, p.updated_at,
		       b.reference
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = $1
		  AND p.provider_ref IS NOT NULL
		  AND p.updated_at < $2
		ORDER BY p.updated_at
		LIMIT $3
	`

	stale := []*StalePayment{}
	err := Conn(ctx, r.db).SelectContext(ctx, &stale, query, models.PaymentStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending payments: %w", err)
	}
	return stale, nil
}
