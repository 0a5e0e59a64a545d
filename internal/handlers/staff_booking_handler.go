package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/middleware"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// StaffBookingHandler handles lot staff operations on bookings
type StaffBookingHandler struct {
	bookings BookingManager
	logger   *logrus.Logger
}

// NewStaffBookingHandler creates a new StaffBookingHandler
func NewStaffBookingHandler(bookings BookingManager, logger *logrus.Logger) *StaffBookingHandler {
	return &StaffBookingHandler{bookings: bookings, logger: logger}
}

// UpdateStatus moves a booking through the on-site lifecycle
// @Summary Update booking status
// @Description Staff drive CHECKED_IN, IN_PROGRESS, READY, CHECKED_OUT, NO_SHOW and CANCELLED.
// @Tags Staff Bookings
// @Accept json
// @Produce json
// @Param reference path string true "Booking reference"
// @Param request body models.UpdateBookingStatusRequest true "Target status"
// @Success 200 {object} models.Booking
// @Failure 409 {object} map[string]interface{} "illegal_transition"
// @Security BearerAuth
// @Router /api/v1/staff/bookings/{reference}/status [post]
func (h *StaffBookingHandler) UpdateStatus(c *gin.Context) {
	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.Transition(c.Request.Context(), c.Param("reference"), req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if userCtx, ok := middleware.GetUserContext(c); ok {
		h.logger.WithFields(logrus.Fields{
			"booking_reference": booking.Reference,
			"status":            booking.Status,
			"staff_id":          userCtx.UserID,
		}).Info("Staff updated booking")
	}
	c.JSON(http.StatusOK, booking)
}

// Audits returns the booking's payment audit trail
// @Summary Payment audit trail
// @Tags Staff Bookings
// @Produce json
// @Param reference path string true "Booking reference"
// @Security BearerAuth
// @Router /api/v1/staff/bookings/{reference}/audits [get]
func (h *StaffBookingHandler) Audits(c *gin.Context) {
	audits, err := h.bookings.Audits(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits, "count": len(audits)})
}
