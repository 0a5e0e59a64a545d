package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// LotHandler serves lots and their availability
type LotHandler struct {
	lots   LotService
	logger *logrus.Logger
}

// NewLotHandler creates a new LotHandler
func NewLotHandler(lots LotService, logger *logrus.Logger) *LotHandler {
	return &LotHandler{lots: lots, logger: logger}
}

func parseLotID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("lot_id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid lot_id %q", c.Param("lot_id"))
	}
	return id, nil
}

// ListLots returns every lot
// @Summary List parking lots
// @Tags Lots
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/lots [get]
func (h *LotHandler) ListLots(c *gin.Context) {
	lots, err := h.lots.ListLots(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": lots, "count": len(lots)})
}

// GetLot returns one lot
// @Summary Get a parking lot
// @Tags Lots
// @Produce json
// @Param lot_id path string true "Lot ID"
// @Success 200 {object} models.Lot
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/lots/{lot_id} [get]
func (h *LotHandler) GetLot(c *gin.Context) {
	lotID, err := parseLotID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	lot, err := h.lots.GetLot(c.Request.Context(), lotID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// GetAvailability counts free spaces for [start, end)
// @Summary Lot availability
// @Tags Lots
// @Produce json
// @Param lot_id path string true "Lot ID"
// @Param start query string true "RFC3339 start"
// @Param end query string true "RFC3339 end"
// @Success 200 {object} models.AvailabilityResponse
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/lots/{lot_id}/availability [get]
func (h *LotHandler) GetAvailability(c *gin.Context) {
	lotID, err := parseLotID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		respondError(c, h.logger, apperrors.Validation("start must be an RFC3339 timestamp"))
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		respondError(c, h.logger, apperrors.Validation("end must be an RFC3339 timestamp"))
		return
	}

	avail, err := h.lots.AvailableSpaces(c.Request.Context(), lotID, models.Interval{Start: start, End: end})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}
