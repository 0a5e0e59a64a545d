package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHoldTTL is how long an unrenewed hold protects its space
const DefaultHoldTTL = 10 * time.Minute

// SpotReservation is a session-scoped, non-billable hold on one space for [StartDate, EndDate)
type SpotReservation struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	SessionID   string     `json:"session_id" db:"session_id"`
	LotID       uuid.UUID  `json:"lot_id" db:"lot_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	StartDate   time.Time  `json:"start_date" db:"start_date"`
	EndDate     time.Time  `json:"end_date" db:"end_date"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	BookingData JSONB      `json:"booking_data,omitempty" db:"booking_data"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Interval returns the held range
func (r *SpotReservation) Interval() Interval {
	return Interval{Start: r.StartDate, End: r.EndDate}
}

// IsLive reports whether the hold still counts against capacity at now
func (r *SpotReservation) IsLive(now time.Time) bool {
	return r.IsActive && r.ExpiresAt.After(now)
}

// IsExpired reports whether the sweeper may delete the hold
func (r *SpotReservation) IsExpired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// AcquireHoldRequest creates or extends the caller's hold
type AcquireHoldRequest struct {
	LotID       uuid.UUID `json:"lot_id" binding:"required"`
	StartDate   time.Time `json:"start_date" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
	BookingData JSONB     `json:"booking_data,omitempty"`
}

// HoldResponse is the public view of a hold
type HoldResponse struct {
	HoldID           uuid.UUID `json:"hold_id"`
	SessionID        string    `json:"session_id"`
	LotID            uuid.UUID `json:"lot_id"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	BookingData      JSONB     `json:"booking_data,omitempty"`
	Extended         bool      `json:"extended"`
}

// NewHoldResponse builds the response for a hold at now
func NewHoldResponse(r *SpotReservation, now time.Time, extended bool) *HoldResponse {
	remaining := int64(r.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &HoldResponse{
		HoldID:           r.ID,
		SessionID:        r.SessionID,
		LotID:            r.LotID,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		ExpiresAt:        r.ExpiresAt,
		ExpiresInSeconds: remaining,
		BookingData:      r.BookingData,
		Extended:         extended,
	}
}
