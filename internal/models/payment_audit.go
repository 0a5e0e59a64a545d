package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated         PaymentEventType = "payment_initiated"
	PaymentEventWebhookReceived   PaymentEventType = "webhook_received"
	PaymentEventReturnVerified    PaymentEventType = "return_verified"
	PaymentEventStatusCheck       PaymentEventType = "status_check"
	PaymentEventCompleted         PaymentEventType = "payment_completed"
	PaymentEventFailed            PaymentEventType = "payment_failed"
	PaymentEventRefunded          PaymentEventType = "refund_completed"
	PaymentEventBookingConfirmed  PaymentEventType = "booking_confirmed"
	PaymentEventBookingCancelled  PaymentEventType = "booking_cancelled"
	PaymentEventIgnored           PaymentEventType = "ignored"
	PaymentEventUnresolved        PaymentEventType = "unresolved_reference"
	PaymentEventInvalidSignature  PaymentEventType = "invalid_signature"
	PaymentEventAmountMismatch    PaymentEventType = "amount_mismatch"
	PaymentEventIllegalTransition PaymentEventType = "illegal_transition"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceWebhook PaymentEventSource = "webhook"
	PaymentSourceReturn  PaymentEventSource = "return"
	PaymentSourceAPI     PaymentEventSource = "provider_api"
)

// AuditEventTypeFor maps a command kind to the audit event it produces
func AuditEventTypeFor(kind CommandKind) PaymentEventType {
	switch kind {
	case CommandPaymentCompleted:
		return PaymentEventCompleted
	case CommandPaymentFailed:
		return PaymentEventFailed
	case CommandRefundCompleted:
		return PaymentEventRefunded
	default:
		return PaymentEventIgnored
	}
}

// PaymentAudit is an immutable audit log entry for a payment event
type PaymentAudit struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	BookingID        *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	BookingReference *string    `json:"booking_reference,omitempty" db:"booking_reference"`
	Provider         *string    `json:"provider,omitempty" db:"provider"`
	ProviderEventID  *string    `json:"provider_event_id,omitempty" db:"provider_event_id"`
	ProviderRef      *string    `json:"provider_ref,omitempty" db:"provider_ref"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *int64  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	RawBody       *string `json:"raw_body,omitempty" db:"raw_body"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int  `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool  `json:"is_duplicate" db:"is_duplicate"`
	Metadata         JSONB `json:"metadata,omitempty" db:"metadata"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now().UTC(),
	}
}

// SetBooking links the audit to a booking
func (pa *PaymentAudit) SetBooking(b *Booking) *PaymentAudit {
	if b == nil {
		return pa
	}
	id := b.ID
	ref := b.Reference
	pa.BookingID = &id
	pa.BookingReference = &ref
	return pa
}

// SetCommand copies the normalized event identity
func (pa *PaymentAudit) SetCommand(cmd ReconciliationCommand) *PaymentAudit {
	provider := string(cmd.Provider)
	pa.Provider = &provider
	if cmd.EventID != "" {
		pa.ProviderEventID = &cmd.EventID
	}
	if cmd.ProviderRef != "" {
		pa.ProviderRef = &cmd.ProviderRef
	}
	if cmd.Reference != "" && pa.BookingReference == nil {
		pa.BookingReference = &cmd.Reference
	}
	if cmd.RawStatus != "" {
		pa.PaymentStatus = &cmd.RawStatus
	}
	return pa
}

// SetProvider sets the provider name only
func (pa *PaymentAudit) SetProvider(p PaymentProvider) *PaymentAudit {
	provider := string(p)
	pa.Provider = &provider
	return pa
}

// SetAmounts records both amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status as reported by the provider
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw request body
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string, extra JSONB) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if len(extra) > 0 {
		pa.Metadata = extra
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	now := time.Now().UTC()
	pa.ProcessedAt = &now
	return pa
}

// MarkAsDuplicate marks this event as a duplicate delivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
