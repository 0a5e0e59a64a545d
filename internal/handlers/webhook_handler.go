package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/services"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks and browser returns
type WebhookHandler struct {
	reconciler  Reconciler
	frontendURL string
	logger      *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler. frontendURL may be empty,
// in which case payment returns answer with JSON instead of a redirect.
func NewWebhookHandler(reconciler Reconciler, frontendURL string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, frontendURL: frontendURL, logger: logger}
}

func readWebhookRequest(c *gin.Context) (*services.WebhookRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		return nil, apperrors.Validation("unreadable body: %v", err)
	}
	return &services.WebhookRequest{
		Method:      c.Request.Method,
		Path:        c.Request.URL.RequestURI(),
		Header:      c.Request.Header,
		ContentType: c.ContentType(),
		Body:        body,
	}, nil
}

// Receive handles a provider webhook.
// Duplicate, ignored and unresolved events are acknowledged with 200 so the
// provider stops retrying; storage failures answer 500 so it retries.
// @Summary Payment provider webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "rapyd or netgiro"
// @Success 200 {object} services.WebhookResult
// @Failure 401 {object} map[string]interface{} "invalid_signature"
// @Router /api/v1/webhooks/{provider} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	req, err := readWebhookRequest(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.reconciler.HandleWebhook(c.Request.Context(), provider, req, requestMeta(c))
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"provider": provider,
				"ip":       requestMeta(c).IP,
			}).Warn("Rejected webhook with invalid signature")
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// returnStatus is the outcome hint shown to the customer after a provider return
func returnStatus(cmd *models.ReconciliationCommand) string {
	switch cmd.Kind {
	case models.CommandPaymentCompleted:
		return "success"
	case models.CommandPaymentFailed:
		return "failed"
	default:
		return "pending"
	}
}

// NetgiroReturn verifies the signed browser return from Netgiro and sends the
// customer on to the frontend. It never changes booking state.
// @Summary Netgiro browser return
// @Tags Webhooks
// @Router /api/v1/payments/netgiro/return [get]
// @Router /api/v1/payments/netgiro/return [post]
func (h *WebhookHandler) NetgiroReturn(c *gin.Context) {
	req, err := readWebhookRequest(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// GET returns carry the signed fields in the query string
	if c.Request.Method == http.MethodGet {
		req.Body = []byte(c.Request.URL.RawQuery)
		req.ContentType = "application/x-www-form-urlencoded"
	}

	reference := c.Query("reference")
	fields, _ := url.ParseQuery(string(req.Body))
	// Netgiro sends an abandoned checkout back unsigned. The redirect only tells
	// the frontend to re-show the booking; payment state never changes here.
	// A signed cancel is verified like any other return.
	if fields.Get("NetgiroSignature") == "" && c.Query("status") == "cancelled" {
		h.finishReturn(c, reference, "cancelled")
		return
	}

	cmd, err := h.reconciler.VerifyReturn(c.Request.Context(), string(models.PaymentProviderNetgiro), req, requestMeta(c))
	if err != nil {
		if h.frontendURL != "" && errors.Is(err, apperrors.ErrInvalidSignature) {
			h.finishReturn(c, reference, "error")
			return
		}
		respondError(c, h.logger, err)
		return
	}

	h.finishReturn(c, cmd.Reference, returnStatus(cmd))
}

func (h *WebhookHandler) finishReturn(c *gin.Context, reference, status string) {
	if h.frontendURL == "" {
		c.JSON(http.StatusOK, gin.H{"reference": reference, "status": status})
		return
	}
	target := h.frontendURL + "/booking/" + url.PathEscape(reference) + "?" + url.Values{"status": {status}}.Encode()
	c.Redirect(http.StatusSeeOther, target)
}
