package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no spots", ErrNoSpotsAvailable, http.StatusConflict, "no_spots_available"},
		{"wrapped no spots", fmt.Errorf("acquire hold: %w", ErrNoSpotsAvailable), http.StatusConflict, "no_spots_available"},
		{"payment completed", ErrPaymentAlreadyCompleted, http.StatusConflict, "payment_already_completed"},
		{"transition", Transition("booking", "CHECKED_OUT", "CONFIRMED"), http.StatusConflict, "illegal_transition"},
		{"lot missing", ErrLotNotFound, http.StatusNotFound, "lot_not_found"},
		{"signature", ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{"validation", Validation("end %s before start", "x"), http.StatusBadRequest, "validation_error"},
		{"upstream", Upstream("rapyd", errors.New("timeout")), http.StatusBadGateway, "upstream_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestConcreteErrorsKeepKind(t *testing.T) {
	assert.True(t, errors.Is(ErrNoSpotsAvailable, ErrConflict))
	assert.True(t, errors.Is(ErrBookingNotFound, ErrNotFound))
	assert.False(t, errors.Is(ErrNoSpotsAvailable, ErrPaymentAlreadyCompleted))
	assert.Contains(t, Validation("bad %d", 1).Error(), "bad 1")
}
