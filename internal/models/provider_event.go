package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandKind is the normalized effect an inbound provider event asks for
type CommandKind string

const (
	CommandPaymentCompleted CommandKind = "payment_completed"
	CommandPaymentFailed    CommandKind = "payment_failed"
	CommandRefundCompleted  CommandKind = "refund_completed"
	// CommandIgnored marks structurally valid events that carry no state change
	CommandIgnored CommandKind = "ignored"
)

// ReconciliationCommand is the provider-independent form of a webhook event
type ReconciliationCommand struct {
	Provider    PaymentProvider
	EventID     string
	Kind        CommandKind
	Reference   string
	ProviderRef string
	Amount      int64
	Currency    string
	RawStatus   string
}

// DedupKey identifies the real-world event across duplicate deliveries
func (c ReconciliationCommand) DedupKey() string {
	return fmt.Sprintf("%s:%s", c.Provider, c.EventID)
}

// ProviderEvent is a verified, decoded webhook from one payment provider
type ProviderEvent interface {
	Provider() PaymentProvider
	Command() (ReconciliationCommand, error)
}

// ---------------------------------------------------------------------------
// Rapyd

// Rapyd webhook types handled by reconciliation
const (
	RapydEventPaymentCompleted = "PAYMENT_COMPLETED"
	RapydEventPaymentSucceeded = "PAYMENT_SUCCEEDED"
	RapydEventPaymentFailed    = "PAYMENT_FAILED"
	RapydEventPaymentCanceled  = "PAYMENT_CANCELED"
	RapydEventPaymentExpired   = "PAYMENT_EXPIRED"
	RapydEventRefundCompleted  = "REFUND_COMPLETED"
)

// RapydEvent is the Rapyd webhook envelope
type RapydEvent struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Data               RapydEventData `json:"data"`
	TriggerOperationID string         `json:"trigger_operation_id,omitempty"`
	CreatedAt          int64          `json:"created_at,omitempty"`
}

// RapydEventData is the payment or refund object inside a Rapyd webhook
type RapydEventData struct {
	ID                  string                 `json:"id"`
	MerchantReferenceID string                 `json:"merchant_reference_id"`
	Amount              json.Number            `json:"amount"`
	CurrencyCode        string                 `json:"currency_code,omitempty"`
	Currency            string                 `json:"currency,omitempty"`
	Status              string                 `json:"status,omitempty"`
	Payment             string                 `json:"payment,omitempty"`
	FailureMessage      string                 `json:"failure_message,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// Provider implements ProviderEvent
func (e *RapydEvent) Provider() PaymentProvider {
	return PaymentProviderRapyd
}

// Command normalizes the Rapyd event
func (e *RapydEvent) Command() (ReconciliationCommand, error) {
	cmd := ReconciliationCommand{
		Provider:    PaymentProviderRapyd,
		EventID:     e.ID,
		Reference:   e.reference(),
		ProviderRef: e.Data.ID,
		Currency:    strings.ToUpper(firstNonEmpty(e.Data.CurrencyCode, e.Data.Currency)),
		RawStatus:   e.Type,
	}

	switch strings.ToUpper(e.Type) {
	case RapydEventPaymentCompleted, RapydEventPaymentSucceeded:
		cmd.Kind = CommandPaymentCompleted
	case RapydEventPaymentFailed, RapydEventPaymentCanceled, RapydEventPaymentExpired:
		cmd.Kind = CommandPaymentFailed
	case RapydEventRefundCompleted:
		cmd.Kind = CommandRefundCompleted
		if e.Data.Payment != "" {
			cmd.ProviderRef = e.Data.Payment
		}
	default:
		cmd.Kind = CommandIgnored
	}

	if cmd.EventID == "" {
		cmd.EventID = e.Type + ":" + e.Data.ID
	}
	if cmd.Kind != CommandIgnored && cmd.Reference == "" {
		return ReconciliationCommand{}, fmt.Errorf("rapyd event %s has no merchant_reference_id", e.ID)
	}

	if e.Data.Amount != "" {
		amount, err := ParseWholeAmount(e.Data.Amount.String())
		if err != nil {
			return ReconciliationCommand{}, fmt.Errorf("rapyd event %s: %w", e.ID, err)
		}
		cmd.Amount = amount
	}
	return cmd, nil
}

func (e *RapydEvent) reference() string {
	if e.Data.MerchantReferenceID != "" {
		return e.Data.MerchantReferenceID
	}
	if ref, ok := e.Data.Metadata["booking_reference"].(string); ok {
		return ref
	}
	return ""
}

// ---------------------------------------------------------------------------
// Netgiro

// NetgiroEvent is the Netgiro callback, posted as a form or JSON
type NetgiroEvent struct {
	TransactionID    string `json:"TransactionId" form:"TransactionId"`
	ReferenceNumber  string `json:"ReferenceNumber" form:"ReferenceNumber"`
	InvoiceNumber    string `json:"InvoiceNumber" form:"InvoiceNumber"`
	TotalAmount      string `json:"TotalAmount" form:"TotalAmount"`
	Status           string `json:"Status" form:"Status"`
	NetgiroSignature string `json:"NetgiroSignature" form:"NetgiroSignature"`
}

// Provider implements ProviderEvent
func (e *NetgiroEvent) Provider() PaymentProvider {
	return PaymentProviderNetgiro
}

// Command normalizes the Netgiro callback
func (e *NetgiroEvent) Command() (ReconciliationCommand, error) {
	if e.ReferenceNumber == "" {
		return ReconciliationCommand{}, fmt.Errorf("netgiro callback has no ReferenceNumber")
	}
	amount, err := ParseWholeAmount(e.TotalAmount)
	if err != nil {
		return ReconciliationCommand{}, fmt.Errorf("netgiro callback %s: %w", e.TransactionID, err)
	}
	return ReconciliationCommand{
		Provider:    PaymentProviderNetgiro,
		EventID:     e.TransactionID + ":" + strings.ToLower(e.Status),
		Kind:        NetgiroCommandKind(e.Status),
		Reference:   e.ReferenceNumber,
		ProviderRef: e.TransactionID,
		Amount:      amount,
		Currency:    DefaultCurrency,
		RawStatus:   e.Status,
	}, nil
}

// NetgiroCommandKind maps a Netgiro status (numeric code or name) to a command
func NetgiroCommandKind(status string) CommandKind {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "2", "confirmed", "accepted", "success", "paid":
		return CommandPaymentCompleted
	case "1", "5", "canceled", "cancelled", "rejected", "failed", "timeout":
		return CommandPaymentFailed
	case "6", "refunded":
		return CommandRefundCompleted
	default:
		return CommandIgnored
	}
}

// ParseWholeAmount parses a provider amount in whole currency units. Amounts
// are stored without a minor unit, so a non-zero fraction is an error.
func ParseWholeAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("amount %q has a fractional part", s)
	}
	return int64(f), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
