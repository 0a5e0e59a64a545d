package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
)

// PaymentParams describes a payment to initiate with a provider
type PaymentParams struct {
	Reference     string
	Amount        int64
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	CallbackURL   string
}

// ProviderStatus is the provider's view of a payment when polled
type ProviderStatus struct {
	Kind        models.CommandKind // CommandIgnored while the payment is still open
	RawStatus   string
	ProviderRef string
	Reference   string
	Amount      int64
}

// WebhookRequest is an inbound provider callback, independent of the HTTP framework
type WebhookRequest struct {
	Method      string
	Path        string // request URI as received, including the query string
	Header      http.Header
	ContentType string
	Body        []byte
}

// PaymentGateway is one external payment provider
type PaymentGateway interface {
	Provider() models.PaymentProvider
	InitiatePayment(ctx context.Context, params PaymentParams) (*models.PaymentInitiation, error)
	CheckStatus(ctx context.Context, providerRef string) (*ProviderStatus, error)
	// ParseWebhook verifies the signature and decodes the payload.
	// Errors wrap apperrors.ErrInvalidSignature or apperrors.ErrValidation.
	ParseWebhook(req *WebhookRequest) (models.ProviderEvent, error)
}

// GatewayRegistry resolves providers by name
type GatewayRegistry struct {
	gateways map[models.PaymentProvider]PaymentGateway
	fallback models.PaymentProvider
}

// NewGatewayRegistry registers gateways; fallback is used when a checkout names no provider
func NewGatewayRegistry(fallback models.PaymentProvider, gateways ...PaymentGateway) *GatewayRegistry {
	r := &GatewayRegistry{
		gateways: make(map[models.PaymentProvider]PaymentGateway, len(gateways)),
		fallback: fallback,
	}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

// Get returns the gateway for provider
func (r *GatewayRegistry) Get(provider models.PaymentProvider) (PaymentGateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, apperrors.Validation("payment provider %q is not configured", provider)
	}
	return g, nil
}

// Resolve picks the requested provider, or the default one when name is empty
func (r *GatewayRegistry) Resolve(name string) (PaymentGateway, error) {
	if strings.TrimSpace(name) == "" {
		return r.Get(r.fallback)
	}
	provider, err := models.ParsePaymentProvider(name)
	if err != nil {
		return nil, err
	}
	return r.Get(provider)
}

func invalidSignature(provider models.PaymentProvider, detail string) error {
	return fmt.Errorf("%w: %s: %s", apperrors.ErrInvalidSignature, provider, detail)
}
