package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
)

// PaymentProvider identifies an external payment gateway
type PaymentProvider string

const (
	PaymentProviderRapyd   PaymentProvider = "rapyd"
	PaymentProviderNetgiro PaymentProvider = "netgiro"
)

// ParsePaymentProvider validates a provider name
func ParsePaymentProvider(s string) (PaymentProvider, error) {
	p := PaymentProvider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PaymentProviderRapyd, PaymentProviderNetgiro:
		return p, nil
	}
	return "", apperrors.Validation("unknown payment provider: %s", s)
}

// PaymentStatus is the settlement state of a booking's payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// paymentTransitions: a COMPLETED payment only moves into a refund state.
// FAILED may be retried (back to PENDING) or completed by a late success event.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:            {PaymentStatusPending, PaymentStatusCompleted},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusRefunded:          {},
}

// CanTransitionTo returns true if moving from s to target is allowed
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsSettled reports whether funds were captured at some point
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

// Payment is the one-to-one payment record of a booking
type Payment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	BookingID      uuid.UUID       `json:"booking_id" db:"booking_id"`
	Amount         int64           `json:"amount" db:"amount"`
	RefundedAmount int64           `json:"refunded_amount" db:"refunded_amount"`
	Currency       string          `json:"currency" db:"currency"`
	Status         PaymentStatus   `json:"status" db:"status"`
	Provider       PaymentProvider `json:"provider" db:"provider"`
	ProviderRef    *string         `json:"provider_ref,omitempty" db:"provider_ref"`
	FailureReason  *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TransitionTo moves the payment to target
func (p *Payment) TransitionTo(target PaymentStatus, at time.Time) error {
	if !p.Status.CanTransitionTo(target) {
		return apperrors.Transition("payment", string(p.Status), string(target))
	}
	p.Status = target
	p.UpdatedAt = at
	return nil
}

// MarkCompleted records a captured payment
func (p *Payment) MarkCompleted(providerRef string, at time.Time) error {
	if err := p.TransitionTo(PaymentStatusCompleted, at); err != nil {
		return err
	}
	if providerRef != "" {
		p.ProviderRef = &providerRef
	}
	p.PaidAt = &at
	p.FailureReason = nil
	return nil
}

// MarkFailed records a failed or cancelled attempt
func (p *Payment) MarkFailed(reason string, at time.Time) error {
	if err := p.TransitionTo(PaymentStatusFailed, at); err != nil {
		return err
	}
	if reason != "" {
		p.FailureReason = &reason
	}
	return nil
}

// ApplyRefund records a refund of amount. The payment is fully refunded once
// the refunds add up to at least the original amount; otherwise it is partial.
func (p *Payment) ApplyRefund(amount int64, at time.Time) (full bool, err error) {
	target := PaymentStatusPartiallyRefunded
	if p.RefundedAmount+amount >= p.Amount {
		target = PaymentStatusRefunded
	}
	if err := p.TransitionTo(target, at); err != nil {
		return false, err
	}
	p.RefundedAmount += amount
	p.RefundedAt = &at
	return target == PaymentStatusRefunded, nil
}

// PaymentInitiation tells the client how to reach the provider's payment page
type PaymentInitiation struct {
	Provider    PaymentProvider   `json:"provider"`
	Method      string            `json:"method"` // "redirect" or "form_post"
	RedirectURL string            `json:"redirect_url,omitempty"`
	FormAction  string            `json:"form_action,omitempty"`
	FormFields  map[string]string `json:"form_fields,omitempty"`
	ProviderRef string            `json:"provider_ref,omitempty"`
}

// InitiatePaymentRequest re-initiates payment for an existing booking
type InitiatePaymentRequest struct {
	Provider string `json:"provider,omitempty"`
}

// PaymentStatusResponse reports the local payment state
type PaymentStatusResponse struct {
	Reference     string        `json:"reference"`
	BookingStatus BookingStatus `json:"booking_status"`
	Payment       *Payment      `json:"payment,omitempty"`
	ProviderState string        `json:"provider_state,omitempty"`
	Stale         bool          `json:"stale"`
}
