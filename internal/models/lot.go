package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lot is a physical parking site with a fixed number of spaces
type Lot struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	TotalSpaces int       `json:"total_spaces" db:"total_spaces"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the administrative fields of a lot
func (l *Lot) Validate() error {
	if strings.TrimSpace(l.Code) == "" {
		return fmt.Errorf("lot code is required")
	}
	if l.TotalSpaces <= 0 {
		return fmt.Errorf("lot %s: total_spaces must be positive, got %d", l.Code, l.TotalSpaces)
	}
	return nil
}

// AvailabilityResponse answers "how many spaces are free for [start, end)?"
type AvailabilityResponse struct {
	LotID           uuid.UUID `json:"lot_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	TotalSpaces     int       `json:"total_spaces"`
	AvailableSpaces int       `json:"available_spaces"`
	IsAvailable     bool      `json:"is_available"`
}
