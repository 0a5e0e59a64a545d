package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// Rapyd checkout and payment status codes
const (
	rapydPaymentClosed   = "CLO"
	rapydPaymentCanceled = "CAN"
	rapydPaymentError    = "ERR"
	rapydPaymentExpired  = "EXP"
	rapydCheckoutExpired = "EXP"
)

// RapydGateway integrates the Rapyd hosted checkout
type RapydGateway struct {
	config  *config.RapydConfig
	logger  *logrus.Logger
	client  *http.Client
	clock   clock.Clock
	maxSkew time.Duration
}

// NewRapydGateway creates a new Rapyd gateway
func NewRapydGateway(cfg *config.RapydConfig, clk clock.Clock, logger *logrus.Logger) *RapydGateway {
	return &RapydGateway{
		config:  cfg,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		clock:   clk,
		maxSkew: 5 * time.Minute,
	}
}

// Provider implements PaymentGateway
func (g *RapydGateway) Provider() models.PaymentProvider {
	return models.PaymentProviderRapyd
}

// Sign computes the Rapyd request signature:
// base64(hex(HMAC-SHA256(secret, lower(method)+path+salt+timestamp+accessKey+secretKey+body)))
func (g *RapydGateway) Sign(method, path, salt, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.config.SecretKey))
	mac.Write([]byte(strings.ToLower(method) + path + salt + timestamp + g.config.AccessKey + g.config.SecretKey))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}

// ParseWebhook verifies the signature headers and decodes the event
func (g *RapydGateway) ParseWebhook(req *WebhookRequest) (models.ProviderEvent, error) {
	signature := req.Header.Get("signature")
	salt := req.Header.Get("salt")
	timestamp := req.Header.Get("timestamp")
	if signature == "" || salt == "" || timestamp == "" {
		return nil, invalidSignature(g.Provider(), "missing signature, salt or timestamp header")
	}
	if key := req.Header.Get("access_key"); key != "" && key != g.config.AccessKey {
		return nil, invalidSignature(g.Provider(), "unknown access key")
	}

	if g.maxSkew > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return nil, invalidSignature(g.Provider(), "malformed timestamp")
		}
		skew := g.clock.Now().Sub(time.Unix(ts, 0))
		if skew > g.maxSkew || skew < -g.maxSkew {
			return nil, invalidSignature(g.Provider(), "timestamp outside tolerance")
		}
	}

	expected := g.Sign(req.Method, req.Path, salt, timestamp, req.Body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, invalidSignature(g.Provider(), "signature mismatch")
	}

	var event models.RapydEvent
	dec := json.NewDecoder(bytes.NewReader(req.Body))
	dec.UseNumber()
	if err := dec.Decode(&event); err != nil {
		return nil, apperrors.Validation("malformed rapyd payload: %v", err)
	}
	if event.Type == "" {
		return nil, apperrors.Validation("rapyd payload has no type")
	}
	return &event, nil
}

type rapydStatus struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type rapydCheckoutRequest struct {
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	Country             string            `json:"country"`
	MerchantReferenceID string            `json:"merchant_reference_id"`
	CompleteCheckoutURL string            `json:"complete_checkout_url,omitempty"`
	CancelCheckoutURL   string            `json:"cancel_checkout_url,omitempty"`
	Description         string            `json:"description,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

type rapydCheckout struct {
	ID                  string      `json:"id"`
	Status              string      `json:"status"`
	RedirectURL         string      `json:"redirect_url"`
	MerchantReferenceID string      `json:"merchant_reference_id"`
	Amount              json.Number `json:"amount"`
	Payment             struct {
		ID     string      `json:"id"`
		Status string      `json:"status"`
		Amount json.Number `json:"amount"`
	} `json:"payment"`
}

type rapydCheckoutResponse struct {
	Status rapydStatus   `json:"status"`
	Data   rapydCheckout `json:"data"`
}

// InitiatePayment creates a hosted checkout page and returns its redirect URL
func (g *RapydGateway) InitiatePayment(ctx context.Context, params PaymentParams) (*models.PaymentInitiation, error) {
	if g.config.AccessKey == "" || g.config.SecretKey == "" {
		return nil, apperrors.Upstream("rapyd", fmt.Errorf("gateway not configured: missing credentials"))
	}

	request := rapydCheckoutRequest{
		Amount:              params.Amount,
		Currency:            params.Currency,
		Country:             g.config.Country,
		MerchantReferenceID: params.Reference,
		CompleteCheckoutURL: params.SuccessURL,
		CancelCheckoutURL:   params.CancelURL,
		Description:         params.Description,
		Metadata:            map[string]string{"booking_reference": params.Reference},
	}

	g.logger.WithFields(logrus.Fields{
		"booking_reference": params.Reference,
		"amount":            params.Amount,
		"currency":          params.Currency,
	}).Info("Creating Rapyd checkout")

	var resp rapydCheckoutResponse
	if err := g.do(ctx, http.MethodPost, "/v1/checkout", request, &resp); err != nil {
		return nil, err
	}
	if resp.Data.RedirectURL == "" {
		return nil, apperrors.Upstream("rapyd", fmt.Errorf("checkout %s has no redirect_url", resp.Data.ID))
	}

	return &models.PaymentInitiation{
		Provider:    g.Provider(),
		Method:      "redirect",
		RedirectURL: resp.Data.RedirectURL,
		ProviderRef: resp.Data.ID,
	}, nil
}

// CheckStatus polls a checkout by id
func (g *RapydGateway) CheckStatus(ctx context.Context, providerRef string) (*ProviderStatus, error) {
	var resp rapydCheckoutResponse
	if err := g.do(ctx, http.MethodGet, "/v1/checkout/"+url.PathEscape(providerRef), nil, &resp); err != nil {
		return nil, err
	}

	data := resp.Data
	status := &ProviderStatus{
		Kind:        models.CommandIgnored,
		RawStatus:   firstNonEmptyString(data.Payment.Status, data.Status),
		ProviderRef: firstNonEmptyString(data.Payment.ID, data.ID),
		Reference:   data.MerchantReferenceID,
	}
	if amount, err := strconv.ParseFloat(firstNonEmptyString(data.Payment.Amount.String(), data.Amount.String()), 64); err == nil {
		status.Amount = int64(amount + 0.5)
	}

	switch {
	case data.Payment.Status == rapydPaymentClosed:
		status.Kind = models.CommandPaymentCompleted
	case data.Payment.Status == rapydPaymentCanceled,
		data.Payment.Status == rapydPaymentError,
		data.Payment.Status == rapydPaymentExpired,
		data.Status == rapydCheckoutExpired:
		status.Kind = models.CommandPaymentFailed
	}
	return status, nil
}

func (g *RapydGateway) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	salt, err := randomSalt()
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(g.clock.Now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_key", g.config.AccessKey)
	req.Header.Set("salt", salt)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", g.Sign(method, path, salt, timestamp, body))
	req.Header.Set("idempotency", salt+timestamp)

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Upstream("rapyd", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Upstream("rapyd", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		var failure struct {
			Status rapydStatus `json:"status"`
		}
		_ = json.Unmarshal(respBody, &failure)
		g.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"error_code":  failure.Status.ErrorCode,
			"path":        path,
		}).Warn("Rapyd request failed")
		return apperrors.Upstream("rapyd", fmt.Errorf("HTTP %d %s %s", resp.StatusCode, failure.Status.ErrorCode, failure.Status.Message))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Upstream("rapyd", fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func randomSalt() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
