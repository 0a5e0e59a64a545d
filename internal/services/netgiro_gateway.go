package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// NetgiroGateway integrates Netgiro's form-post checkout
type NetgiroGateway struct {
	config *config.NetgiroConfig
	logger *logrus.Logger
	client *http.Client
}

// NewNetgiroGateway creates a new Netgiro gateway
func NewNetgiroGateway(cfg *config.NetgiroConfig, logger *logrus.Logger) *NetgiroGateway {
	return &NetgiroGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Provider implements PaymentGateway
func (g *NetgiroGateway) Provider() models.PaymentProvider {
	return models.PaymentProviderNetgiro
}

func sha256Hex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CallbackSignature is the signature Netgiro attaches to callbacks and returns
func (g *NetgiroGateway) CallbackSignature(e *models.NetgiroEvent) string {
	return sha256Hex(g.config.SecretKey, e.ReferenceNumber, e.TransactionID, e.InvoiceNumber, e.TotalAmount, e.Status)
}

func (g *NetgiroGateway) checkoutSignature(orderID, totalAmount string) string {
	return sha256Hex(g.config.SecretKey, orderID, totalAmount, g.config.ApplicationID)
}

// InitiatePayment builds the signed form the client posts to Netgiro
func (g *NetgiroGateway) InitiatePayment(ctx context.Context, params PaymentParams) (*models.PaymentInitiation, error) {
	if g.config.ApplicationID == "" || g.config.SecretKey == "" {
		return nil, apperrors.Upstream("netgiro", fmt.Errorf("gateway not configured: missing credentials"))
	}

	total := strconv.FormatInt(params.Amount, 10)
	fields := map[string]string{
		"ApplicationID":        g.config.ApplicationID,
		"Iframe":               "false",
		"OrderId":              params.Reference,
		"TotalAmount":          total,
		"Signature":            g.checkoutSignature(params.Reference, total),
		"PaymentSuccessfulURL": params.SuccessURL,
		"PaymentCancelledURL":  params.CancelURL,
		"CallbackURL":          params.CallbackURL,
		"ConfirmationType":     "0",
		"Description":          params.Description,
	}

	g.logger.WithFields(logrus.Fields{
		"booking_reference": params.Reference,
		"amount":            params.Amount,
	}).Info("Prepared Netgiro checkout form")

	// Netgiro assigns the transaction id only after checkout, so the order id
	// stands in as the provider reference until a callback or poll replaces it.
	return &models.PaymentInitiation{
		Provider:    g.Provider(),
		Method:      "form_post",
		FormAction:  strings.TrimRight(g.config.BaseURL, "/") + "/securepay",
		FormFields:  fields,
		ProviderRef: params.Reference,
	}, nil
}

// ParseWebhook decodes a form or JSON callback and checks its signature
func (g *NetgiroGateway) ParseWebhook(req *WebhookRequest) (models.ProviderEvent, error) {
	event, err := decodeNetgiroEvent(req)
	if err != nil {
		return nil, err
	}
	if event.NetgiroSignature == "" {
		return nil, invalidSignature(g.Provider(), "missing NetgiroSignature")
	}
	expected := g.CallbackSignature(event)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(event.NetgiroSignature))) != 1 {
		return nil, invalidSignature(g.Provider(), "signature mismatch")
	}
	if event.ReferenceNumber == "" {
		return nil, apperrors.Validation("netgiro callback has no ReferenceNumber")
	}
	return event, nil
}

func decodeNetgiroEvent(req *WebhookRequest) (*models.NetgiroEvent, error) {
	event := &models.NetgiroEvent{}
	if strings.Contains(strings.ToLower(req.ContentType), "json") {
		if err := json.Unmarshal(req.Body, event); err != nil {
			return nil, apperrors.Validation("malformed netgiro payload: %v", err)
		}
		return event, nil
	}

	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, apperrors.Validation("malformed netgiro payload: %v", err)
	}
	event.TransactionID = values.Get("TransactionId")
	event.ReferenceNumber = values.Get("ReferenceNumber")
	event.InvoiceNumber = values.Get("InvoiceNumber")
	event.TotalAmount = values.Get("TotalAmount")
	event.Status = values.Get("Status")
	event.NetgiroSignature = values.Get("NetgiroSignature")
	return event, nil
}

type netgiroCheckCartResponse struct {
	ResultCode  int    `json:"ResultCode"`
	Success     bool   `json:"Success"`
	Message     string `json:"Message"`
	PaymentInfo struct {
		TransactionID     string  `json:"TransactionId"`
		ReferenceNumber   string  `json:"ReferenceNumber"`
		InvoiceNumber     string  `json:"InvoiceNumber"`
		TotalAmount       json.Number `json:"TotalAmount"`
		Status            string  `json:"Status"`
		PaymentSuccessful bool    `json:"PaymentSuccessful"`
	} `json:"PaymentInfo"`
}

// CheckStatus asks Netgiro for the state of a transaction. providerRef is
// either a Netgiro transaction id or, before one is known, the booking reference.
func (g *NetgiroGateway) CheckStatus(ctx context.Context, providerRef string) (*ProviderStatus, error) {
	endpoint := strings.TrimRight(g.config.BaseURL, "/") + "/v1/checkout/CheckCart"
	lookup := map[string]string{"TransactionId": providerRef}
	if strings.HasPrefix(providerRef, referencePrefix) {
		lookup = map[string]string{"ReferenceNumber": providerRef}
	}
	body, err := json.Marshal(lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	nonce := uuid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("NETGIRO_APPKEY", g.config.ApplicationID)
	req.Header.Set("NETGIRO_NONCE", nonce)
	req.Header.Set("NETGIRO_SIGNATURE", sha256Hex(g.config.SecretKey, nonce, endpoint, string(body)))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperrors.Upstream("netgiro", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Upstream("netgiro", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		g.logger.WithFields(logrus.Fields{
			"status_code":    resp.StatusCode,
			"transaction_id": providerRef,
		}).Warn("Netgiro CheckCart failed")
		return nil, apperrors.Upstream("netgiro", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var result netgiroCheckCartResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apperrors.Upstream("netgiro", fmt.Errorf("failed to parse response: %w", err))
	}
	if !result.Success {
		return nil, apperrors.Upstream("netgiro", fmt.Errorf("CheckCart result %d: %s", result.ResultCode, result.Message))
	}

	info := result.PaymentInfo
	amount, err := models.ParseWholeAmount(info.TotalAmount.String())
	if err != nil {
		return nil, apperrors.Upstream("netgiro", err)
	}
	status := &ProviderStatus{
		Kind:        models.NetgiroCommandKind(info.Status),
		RawStatus:   info.Status,
		ProviderRef: firstNonEmptyString(info.TransactionID, providerRef),
		Reference:   info.ReferenceNumber,
		Amount:      amount,
	}
	if info.PaymentSuccessful {
		status.Kind = models.CommandPaymentCompleted
	}
	return status, nil
}
