package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/middleware"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// HoldHandler manages the checkout session's temporary hold
type HoldHandler struct {
	holds  HoldManager
	logger *logrus.Logger
}

// NewHoldHandler creates a new HoldHandler
func NewHoldHandler(holds HoldManager, logger *logrus.Logger) *HoldHandler {
	return &HoldHandler{holds: holds, logger: logger}
}

// Acquire places or extends the session's hold
// @Summary Hold a space
// @Description Holds one space for the checkout session. A second call extends the same hold.
// @Tags Holds
// @Accept json
// @Produce json
// @Param request body models.AcquireHoldRequest true "Hold interval"
// @Success 201 {object} models.HoldResponse
// @Failure 409 {object} map[string]interface{} "no_spots_available"
// @Router /api/v1/holds [post]
func (h *HoldHandler) Acquire(c *gin.Context) {
	var req models.AcquireHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	hold, err := h.holds.Acquire(c.Request.Context(), middleware.GetSessionID(c), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, hold)
}

// Current returns the session's live hold, or {"hold": null}
func (h *HoldHandler) Current(c *gin.Context) {
	hold, err := h.holds.Get(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if hold == nil {
		c.JSON(http.StatusOK, gin.H{"hold": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

// Release drops the session's hold; releasing nothing is fine
func (h *HoldHandler) Release(c *gin.Context) {
	if err := h.holds.Release(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}
