// Package apperrors defines the error kinds shared by services and handlers.
// Concrete errors wrap exactly one kind so callers can branch with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Concrete errors
var (
	ErrLotNotFound     = fmt.Errorf("lot %w", ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)

	ErrNoSpotsAvailable        = fmt.Errorf("%w: no spots available", ErrConflict)
	ErrPaymentAlreadyCompleted = fmt.Errorf("%w: payment already completed", ErrConflict)
	ErrIllegalTransition       = fmt.Errorf("%w: illegal status transition", ErrConflict)
	ErrBookingClosed           = fmt.Errorf("%w: booking is closed", ErrConflict)
)

// Validation builds a validation error with a formatted detail message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Upstream wraps a provider failure
func Upstream(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, provider, err)
}

// Transition reports an illegal from -> to state change
func Transition(entity, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, entity, from, to)
}

// HTTPStatus maps an error to the response status code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for API clients
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSpotsAvailable):
		return "no_spots_available"
	case errors.Is(err, ErrPaymentAlreadyCompleted):
		return "payment_already_completed"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrBookingClosed):
		return "booking_closed"
	case errors.Is(err, ErrLotNotFound):
		return "lot_not_found"
	case errors.Is(err, ErrBookingNotFound):
		return "booking_not_found"
	case errors.Is(err, ErrPaymentNotFound):
		return "payment_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}
