package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends an audit entry. Inside a transaction the entry commits or rolls
// back together with the state change it describes.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, booking_reference, provider, provider_event_id, provider_ref,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, raw_body, error_message,
			processing_time_ms, is_duplicate, metadata,
			ip_address, user_agent,
			created_at, processed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20,
			$21, $22
		)`

	_, err := Conn(ctx, r.db).ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.BookingReference, audit.Provider, audit.ProviderEventID, audit.ProviderRef,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.RawBody, audit.ErrorMessage,
		audit.ProcessingTimeMs, audit.IsDuplicate, audit.Metadata,
		audit.IPAddress, audit.UserAgent,
		audit.CreatedAt, audit.ProcessedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":        audit.EventType,
			"provider_event_id": deref(audit.ProviderEventID),
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// HasProcessedEvent reports whether the provider event already produced a
// completed, failed or refund audit row. Other rows (ignored, unresolved,
// errors) do not stop a redelivery from being evaluated again.
func (r *PaymentAuditRepository) HasProcessedEvent(ctx context.Context, provider models.PaymentProvider, eventID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_audits
			WHERE provider = $1
			  AND provider_event_id = $2
			  AND is_duplicate = FALSE
			  AND event_type IN ('payment_completed', 'payment_failed', 'refund_completed')
		)`

	if err := Conn(ctx, r.db).GetContext(ctx, &exists, query, string(provider), eventID); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// GetByReference retrieves all audit entries for a booking reference
func (r *PaymentAuditRepository) GetByReference(ctx context.Context, reference string) ([]*models.PaymentAudit, error) {
	audits := []*models.PaymentAudit{}
	query := `
		SELECT * FROM payment_audits
		WHERE booking_reference = $1
		ORDER BY created_at ASC`

	if err := Conn(ctx, r.db).SelectContext(ctx, &audits, query, reference); err != nil {
		return nil, fmt.Errorf("failed to get audits by reference: %w", err)
	}
	return audits, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
