package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "PENDING"
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusCheckedIn  BookingStatus = "CHECKED_IN"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusReady      BookingStatus = "READY"
	BookingStatusCheckedOut BookingStatus = "CHECKED_OUT"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
	BookingStatusNoShow     BookingStatus = "NO_SHOW"
)

// bookingTransitions is the booking state machine.
// CANCELLED and NO_SHOW are reachable from every non-terminal state.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusConfirmed:  {BookingStatusCheckedIn, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusCheckedIn:  {BookingStatusInProgress, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusInProgress: {BookingStatusReady, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusReady:      {BookingStatusCheckedOut, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusCheckedOut: {},
	BookingStatusCancelled:  {},
	BookingStatusNoShow:     {},
}

// OccupyingBookingStatuses are the statuses counted against lot capacity
var OccupyingBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusCheckedIn,
	BookingStatusInProgress,
	BookingStatusReady,
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo returns true if moving from s to target is allowed
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s BookingStatus) IsTerminal() bool {
	allowed, ok := bookingTransitions[s]
	return !ok || len(allowed) == 0
}

// OccupiesSpace reports whether a booking in this status holds a space
func (s BookingStatus) OccupiesSpace() bool {
	return s.IsValid() && !s.IsTerminal()
}

// ParseBookingStatus converts user input into a BookingStatus
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", apperrors.Validation("invalid booking status: %s", s)
	}
	return status, nil
}

// Booking is a durable commitment to occupy one space for [DropOffTime, PickUpTime)
type Booking struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Reference    string        `json:"reference" db:"reference"`
	LotID        uuid.UUID     `json:"lot_id" db:"lot_id"`
	UserID       *uuid.UUID    `json:"user_id,omitempty" db:"user_id"`
	SessionID    *string       `json:"-" db:"session_id"`
	Status       BookingStatus `json:"status" db:"status"`
	DropOffTime  time.Time     `json:"drop_off_time" db:"drop_off_time"`
	PickUpTime   time.Time     `json:"pick_up_time" db:"pick_up_time"`
	LicensePlate string        `json:"license_plate" db:"license_plate"`
	VehicleClass string        `json:"vehicle_class" db:"vehicle_class"`
	AddOns       StringArray   `json:"add_ons" db:"add_ons"`
	FlightNumber *string       `json:"flight_number,omitempty" db:"flight_number"`
	ContactName  string        `json:"contact_name" db:"contact_name"`
	ContactEmail string        `json:"contact_email" db:"contact_email"`
	ContactPhone string        `json:"contact_phone" db:"contact_phone"`
	TotalAmount  int64         `json:"total_amount" db:"total_amount"`
	Currency     string        `json:"currency" db:"currency"`

	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Interval returns the occupied range
func (b *Booking) Interval() Interval {
	return Interval{Start: b.DropOffTime, End: b.PickUpTime}
}

// TransitionTo moves the booking to target, stamping the matching timestamp.
// It is the only way Status changes after creation.
func (b *Booking) TransitionTo(target BookingStatus, at time.Time) error {
	if !b.Status.CanTransitionTo(target) {
		return apperrors.Transition("booking", string(b.Status), string(target))
	}
	b.Status = target
	b.UpdatedAt = at
	switch target {
	case BookingStatusConfirmed:
		b.ConfirmedAt = &at
	case BookingStatusCheckedIn:
		b.CheckedInAt = &at
	case BookingStatusCheckedOut:
		b.CheckedOutAt = &at
	case BookingStatusCancelled, BookingStatusNoShow:
		b.CancelledAt = &at
	}
	return nil
}

// ContactInfo is the customer contact block of a checkout
type ContactInfo struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// CreateBookingRequest carries the finalized checkout fields.
// Pricing is computed upstream and taken as given.
type CreateBookingRequest struct {
	LotID        uuid.UUID   `json:"lot_id" binding:"required"`
	DropOffTime  time.Time   `json:"drop_off_time" binding:"required"`
	PickUpTime   time.Time   `json:"pick_up_time" binding:"required"`
	LicensePlate string      `json:"license_plate" binding:"required"`
	VehicleClass string      `json:"vehicle_class"`
	AddOns       []string    `json:"add_ons"`
	FlightNumber *string     `json:"flight_number,omitempty"`
	TotalAmount  int64       `json:"total_amount" binding:"required"`
	Currency     string      `json:"currency"`
	Contact      ContactInfo `json:"contact" binding:"required"`
	Provider     string      `json:"provider,omitempty"`
}

// Validate validates the create booking request
func (r *CreateBookingRequest) Validate() error {
	if err := (Interval{Start: r.DropOffTime, End: r.PickUpTime}).Validate(); err != nil {
		return apperrors.Validation("%v", err)
	}
	if r.TotalAmount <= 0 {
		return apperrors.Validation("total_amount must be positive")
	}
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if len(r.Currency) != 3 {
		return apperrors.Validation("currency must be an ISO 4217 code")
	}
	r.Currency = strings.ToUpper(r.Currency)
	if r.VehicleClass == "" {
		r.VehicleClass = VehicleClassCar
	}
	if !validVehicleClasses[r.VehicleClass] {
		return apperrors.Validation("unknown vehicle_class: %s", r.VehicleClass)
	}
	return nil
}

// DefaultCurrency is used when a checkout omits the currency
const DefaultCurrency = "ISK"

// Vehicle classes accepted at checkout
const (
	VehicleClassCar        = "car"
	VehicleClassSUV        = "suv"
	VehicleClassVan        = "van"
	VehicleClassMotorcycle = "motorcycle"
)

var validVehicleClasses = map[string]bool{
	VehicleClassCar:        true,
	VehicleClassSUV:        true,
	VehicleClassVan:        true,
	VehicleClassMotorcycle: true,
}

// UpdateBookingStatusRequest is the staff lifecycle request body
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OwnedBy reports whether the booking was made in sessionID or by userID
func (b *Booking) OwnedBy(sessionID string, userID *uuid.UUID) bool {
	if sessionID != "" && b.SessionID != nil && *b.SessionID == sessionID {
		return true
	}
	return userID != nil && b.UserID != nil && *b.UserID == *userID
}

// Redacted returns a copy that is safe to show someone who only knows the reference
func (b *Booking) Redacted() *Booking {
	c := *b
	c.UserID = nil
	c.FlightNumber = nil
	c.ContactName = maskKeep(b.ContactName, 1, 0)
	c.ContactPhone = maskKeep(b.ContactPhone, 0, 2)
	c.LicensePlate = maskKeep(b.LicensePlate, 0, 2)
	if at := strings.LastIndex(b.ContactEmail, "@"); at > 0 {
		c.ContactEmail = maskKeep(b.ContactEmail[:at], 1, 0) + b.ContactEmail[at:]
	} else {
		c.ContactEmail = maskKeep(b.ContactEmail, 0, 0)
	}
	return &c
}

// maskKeep replaces every rune of s with '*' except the first head and last tail
func maskKeep(s string, head, tail int) string {
	r := []rune(s)
	for i := range r {
		if i >= head && i < len(r)-tail {
			r[i] = '*'
		}
	}
	return string(r)
}

// BookingResponse is a booking with its payment, if any
type BookingResponse struct {
	Booking *Booking `json:"booking"`
	Payment *Payment `json:"payment,omitempty"`
}

// CheckoutResponse is returned when checkout creates a booking
type CheckoutResponse struct {
	Booking    *Booking           `json:"booking"`
	Payment    *Payment           `json:"payment"`
	Initiation *PaymentInitiation `json:"payment_initiation"`
	// set when the booking was created but the provider could not be reached
	PaymentInitiationError string `json:"payment_initiation_error,omitempty"`
}

// String implements fmt.Stringer for log fields
func (b *Booking) String() string {
	return fmt.Sprintf("%s[%s]", b.Reference, b.Status)
}
