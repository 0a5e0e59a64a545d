package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/services"
	"github.com/parkflow/parking-booking-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// LotService is the lot and availability surface used by handlers
type LotService interface {
	ListLots(ctx context.Context) ([]*models.Lot, error)
	GetLot(ctx context.Context, lotID uuid.UUID) (*models.Lot, error)
	AvailableSpaces(ctx context.Context, lotID uuid.UUID, iv models.Interval) (*models.AvailabilityResponse, error)
}

// HoldManager manages the session's hold
type HoldManager interface {
	Acquire(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.AcquireHoldRequest) (*models.HoldResponse, error)
	Get(ctx context.Context, sessionID string) (*models.HoldResponse, error)
	Release(ctx context.Context, sessionID string) error
}

// BookingManager covers checkout and booking reads and staff transitions
type BookingManager interface {
	CreateBooking(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.CreateBookingRequest) (*models.CheckoutResponse, error)
	InitiatePayment(ctx context.Context, reference string, req *models.InitiatePaymentRequest) (*models.CheckoutResponse, error)
	GetBooking(ctx context.Context, reference string) (*models.BookingResponse, error)
	ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error)
	Transition(ctx context.Context, reference, status string) (*models.Booking, error)
	Audits(ctx context.Context, reference string) ([]*models.PaymentAudit, error)
}

// Reconciler applies provider callbacks and polls payment state
type Reconciler interface {
	HandleWebhook(ctx context.Context, provider string, req *services.WebhookRequest, meta services.RequestMeta) (*services.WebhookResult, error)
	VerifyReturn(ctx context.Context, provider string, req *services.WebhookRequest, meta services.RequestMeta) (*models.ReconciliationCommand, error)
	PaymentStatus(ctx context.Context, reference string) (*models.PaymentStatusResponse, error)
}

var (
	_ LotService     = (*services.AvailabilityService)(nil)
	_ HoldManager    = (*services.HoldService)(nil)
	_ BookingManager = (*services.BookingService)(nil)
	_ Reconciler     = (*services.ReconciliationService)(nil)
)

// respondError writes {"error": code, "message": text} with the status mapped from the error kind.
// Unexpected errors are logged and their detail is not echoed to the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		message = "Internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":   apperrors.Code(err),
		"message": message,
	})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": "Invalid request: " + err.Error(),
	})
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IP:        utils.GetRealIP(c),
		UserAgent: c.Request.UserAgent(),
	}
}
