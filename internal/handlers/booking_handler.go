package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/middleware"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles checkout and customer booking reads
type BookingHandler struct {
	bookings   BookingManager
	reconciler Reconciler
	logger     *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingManager, reconciler Reconciler, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, reconciler: reconciler, logger: logger}
}

// CreateBooking converts the session's hold into a PENDING booking and starts payment
// @Summary Checkout
// @Description Creates a PENDING booking and its payment in one transaction, then initiates payment with the provider.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Checkout details"
// @Success 201 {object} models.CheckoutResponse
// @Failure 400 {object} map[string]interface{} "validation_error"
// @Failure 409 {object} map[string]interface{} "no_spots_available"
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.bookings.CreateBooking(c.Request.Context(), middleware.GetSessionID(c), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// InitiatePayment starts a new payment attempt for an existing booking
// @Summary Retry payment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param reference path string true "Booking reference"
// @Success 200 {object} models.CheckoutResponse
// @Failure 409 {object} map[string]interface{} "payment_already_completed"
// @Router /api/v1/bookings/{reference}/payments [post]
func (h *BookingHandler) InitiatePayment(c *gin.Context) {
	var req models.InitiatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	current, err := h.bookings.GetBooking(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !canManage(c, current.Booking) {
		respondError(c, h.logger, apperrors.ErrBookingNotFound)
		return
	}

	resp, err := h.bookings.InitiatePayment(c.Request.Context(), c.Param("reference"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBooking returns a booking and its payment. Callers other than the
// booking's session, its user or staff get the redacted view.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	resp, err := h.bookings.GetBooking(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !canManage(c, resp.Booking) {
		resp.Booking = resp.Booking.Redacted()
	}
	c.JSON(http.StatusOK, resp)
}

func canManage(c *gin.Context, b *models.Booking) bool {
	if userCtx, ok := middleware.GetUserContext(c); ok && userCtx.HasRole(jwt.RoleStaff, jwt.RoleAdmin) {
		return true
	}
	return b.OwnedBy(middleware.GetSessionID(c), middleware.GetUserID(c))
}

// PaymentStatus returns the payment state, refreshed from the provider when still open
// @Summary Payment status
// @Tags Bookings
// @Produce json
// @Param reference path string true "Booking reference"
// @Success 200 {object} models.PaymentStatusResponse
// @Router /api/v1/bookings/{reference}/payment-status [get]
func (h *BookingHandler) PaymentStatus(c *gin.Context) {
	resp, err := h.reconciler.PaymentStatus(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListMyBookings returns the authenticated customer's bookings
// @Summary My bookings
// @Tags Bookings
// @Produce json
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Security BearerAuth
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.bookings.ListUserBookings(c.Request.Context(), userCtx.UserID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}
