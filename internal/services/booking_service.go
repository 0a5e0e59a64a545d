package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/parkflow/parking-booking-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

const maxReferenceAttempts = 5

// BookingServiceConfig holds the URLs handed to payment providers
type BookingServiceConfig struct {
	PublicURL   string // base URL of this API, used for callbacks
	FrontendURL string // base URL of the customer frontend
}

// BookingService turns a session's hold into a PENDING booking and drives
// payment initiation and staff lifecycle changes.
type BookingService struct {
	tx           Transactor
	lots         LotStore
	bookings     BookingStore
	holds        HoldStore
	payments     PaymentStore
	audits       AuditStore
	availability *AvailabilityService
	sweeper      *ExpirySweeper
	gateways     *GatewayRegistry
	clock        clock.Clock
	logger       *logrus.Logger
	config       BookingServiceConfig

	phones       *validator.PhoneValidator
	plates       *validator.PlateValidator
	newReference func() (string, error)
}

// BookingOption configures a BookingService
type BookingOption func(*BookingService)

// WithReferenceGenerator replaces the random booking reference source
func WithReferenceGenerator(gen func() (string, error)) BookingOption {
	return func(s *BookingService) {
		s.newReference = gen
	}
}

// NewBookingService creates a new booking service
func NewBookingService(
	tx Transactor,
	lots LotStore,
	bookings BookingStore,
	holds HoldStore,
	payments PaymentStore,
	audits AuditStore,
	availability *AvailabilityService,
	sweeper *ExpirySweeper,
	gateways *GatewayRegistry,
	clk clock.Clock,
	logger *logrus.Logger,
	cfg BookingServiceConfig,
	opts ...BookingOption,
) *BookingService {
	s := &BookingService{
		tx:           tx,
		lots:         lots,
		bookings:     bookings,
		holds:        holds,
		payments:     payments,
		audits:       audits,
		availability: availability,
		sweeper:      sweeper,
		gateways:     gateways,
		clock:        clk,
		logger:       logger,
		config:       cfg,
		phones:       validator.NewPhoneValidator(),
		plates:       validator.NewPlateValidator(),
		newReference: NewBookingReference,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) normalizeContact(req *models.CreateBookingRequest) error {
	plate, err := s.plates.Validate(req.LicensePlate)
	if err != nil {
		return apperrors.Validation("license_plate: %v", err)
	}
	req.LicensePlate = plate

	req.Contact.Name = strings.TrimSpace(req.Contact.Name)
	req.Contact.Email = strings.ToLower(strings.TrimSpace(req.Contact.Email))
	if req.Contact.Name == "" || req.Contact.Email == "" {
		return apperrors.Validation("contact name and email are required")
	}
	if req.Contact.Phone != "" {
		phone, err := s.phones.Validate(req.Contact.Phone)
		if err != nil {
			return apperrors.Validation("contact.phone: %v", err)
		}
		req.Contact.Phone = phone
	}
	return nil
}

// CreateBooking creates a PENDING booking and its PENDING payment.
//
// Capacity is re-checked under the lot lock, excluding the session's own hold,
// and the hold is deleted in the same transaction that inserts the booking, so
// the space is bounded by one or the other at every instant. Payment initiation
// runs after commit; if the provider cannot be reached the booking is kept and
// the response carries the error so the client can retry payment.
func (s *BookingService) CreateBooking(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.CreateBookingRequest) (*models.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.normalizeContact(req); err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	iv := models.Interval{Start: req.DropOffTime, End: req.PickUpTime}
	var (
		booking *models.Booking
		payment *models.Payment
	)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		lot, err := s.lots.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return apperrors.ErrLotNotFound
		}

		if _, err := s.sweeper.Sweep(ctx); err != nil {
			return err
		}

		available, err := s.availability.available(ctx, lot, iv, sessionID)
		if err != nil {
			return err
		}
		if available <= 0 {
			return apperrors.ErrNoSpotsAvailable
		}

		if sessionID != "" {
			if _, err := s.holds.DeleteBySession(ctx, sessionID); err != nil {
				return err
			}
		}

		booking = s.newBooking(lot, sessionID, userID, req)
		if err := s.insertWithUniqueReference(ctx, booking); err != nil {
			return err
		}

		now := s.clock.Now()
		payment = &models.Payment{
			ID:        uuid.New(),
			BookingID: booking.ID,
			Amount:    booking.TotalAmount,
			Currency:  booking.Currency,
			Status:    models.PaymentStatusPending,
			Provider:  gateway.Provider(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.payments.Create(ctx, payment)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"lot_id":     req.LotID,
		}).Info("Booking not created")
		return nil, err
	}

	metrics.IncBookingCreated()
	s.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"lot_id":            booking.LotID,
		"session_id":        sessionID,
		"provider":          payment.Provider,
	}).Info("Booking created")

	resp := &models.CheckoutResponse{Booking: booking, Payment: payment}
	initiation, err := s.initiate(ctx, gateway, booking, payment)
	if err != nil {
		resp.PaymentInitiationError = err.Error()
		return resp, nil
	}
	resp.Initiation = initiation
	return resp, nil
}

func (s *BookingService) newBooking(lot *models.Lot, sessionID string, userID *uuid.UUID, req *models.CreateBookingRequest) *models.Booking {
	b := &models.Booking{
		ID:           uuid.New(),
		LotID:        lot.ID,
		UserID:       userID,
		Status:       models.BookingStatusPending,
		DropOffTime:  req.DropOffTime,
		PickUpTime:   req.PickUpTime,
		LicensePlate: req.LicensePlate,
		VehicleClass: req.VehicleClass,
		AddOns:       models.StringArray(req.AddOns),
		FlightNumber: req.FlightNumber,
		ContactName:  req.Contact.Name,
		ContactEmail: req.Contact.Email,
		ContactPhone: req.Contact.Phone,
		TotalAmount:  req.TotalAmount,
		Currency:     req.Currency,
	}
	if sessionID != "" {
		b.SessionID = &sessionID
	}
	return b
}

// insertWithUniqueReference retries on reference collisions without leaving the transaction
func (s *BookingService) insertWithUniqueReference(ctx context.Context, b *models.Booking) error {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := s.newReference()
		if err != nil {
			return err
		}
		b.Reference = ref

		created, err := s.bookings.Create(ctx, b)
		if err != nil {
			return err
		}
		if created {
			return nil
		}
		s.logger.WithField("booking_reference", ref).Warn("Booking reference collision, retrying")
	}
	return fmt.Errorf("could not allocate a unique booking reference after %d attempts", maxReferenceAttempts)
}

// InitiatePayment starts (or restarts) payment for an existing booking.
// A completed payment is a conflict, never a silent success.
func (s *BookingService) InitiatePayment(ctx context.Context, reference string, req *models.InitiatePaymentRequest) (*models.CheckoutResponse, error) {
	var (
		booking *models.Booking
		payment *models.Payment
		gateway PaymentGateway
	)

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if booking == nil {
			return apperrors.ErrBookingNotFound
		}

		payment, err = s.payments.GetByBookingIDForUpdate(ctx, booking.ID)
		if err != nil {
			return err
		}
		if payment != nil && payment.Status.IsSettled() {
			return apperrors.ErrPaymentAlreadyCompleted
		}
		if booking.Status != models.BookingStatusPending {
			return fmt.Errorf("%w: booking %s is %s", apperrors.ErrBookingClosed, booking.Reference, booking.Status)
		}

		name := ""
		if req != nil {
			name = req.Provider
		}
		if name == "" && payment != nil {
			name = string(payment.Provider)
		}
		if gateway, err = s.gateways.Resolve(name); err != nil {
			return err
		}

		now := s.clock.Now()
		if payment == nil {
			payment = &models.Payment{
				ID:        uuid.New(),
				BookingID: booking.ID,
				Amount:    booking.TotalAmount,
				Currency:  booking.Currency,
				Status:    models.PaymentStatusPending,
				Provider:  gateway.Provider(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			return s.payments.Create(ctx, payment)
		}

		if payment.Status == models.PaymentStatusFailed {
			if err := payment.TransitionTo(models.PaymentStatusPending, now); err != nil {
				return err
			}
		}
		payment.Provider = gateway.Provider()
		payment.ProviderRef = nil
		payment.FailureReason = nil
		payment.UpdatedAt = now
		return s.payments.Update(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	initiation, err := s.initiate(ctx, gateway, booking, payment)
	if err != nil {
		return nil, err
	}
	return &models.CheckoutResponse{Booking: booking, Payment: payment, Initiation: initiation}, nil
}

func (s *BookingService) initiate(ctx context.Context, gateway PaymentGateway, booking *models.Booking, payment *models.Payment) (*models.PaymentInitiation, error) {
	start := time.Now()
	provider := gateway.Provider()
	params := PaymentParams{
		Reference:     booking.Reference,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Description:   fmt.Sprintf("Parking %s to %s, %s", booking.DropOffTime.Format("2 Jan 15:04"), booking.PickUpTime.Format("2 Jan 15:04"), booking.LicensePlate),
		CustomerName:  booking.ContactName,
		CustomerEmail: booking.ContactEmail,
		SuccessURL:    s.returnURL(provider, booking.Reference, "success"),
		CancelURL:     s.returnURL(provider, booking.Reference, "cancelled"),
		CallbackURL:   s.config.PublicURL + "/api/v1/webhooks/" + string(provider),
	}

	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		SetBooking(booking).
		SetProvider(provider)
	audit.SetAmounts(payment.Amount, payment.Amount, payment.Currency)

	initiation, err := gateway.InitiatePayment(ctx, params)
	if err != nil {
		audit.SetError(err.Error()).SetProcessingTime(start)
		s.logAudit(ctx, audit)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_reference": booking.Reference,
			"provider":          provider,
		}).Error("Payment initiation failed")
		return nil, err
	}

	if initiation.ProviderRef != "" {
		ref := initiation.ProviderRef
		payment.ProviderRef = &ref
		payment.UpdatedAt = s.clock.Now()
		if err := s.payments.Update(ctx, payment); err != nil {
			s.logger.WithError(err).WithField("booking_reference", booking.Reference).Error("Failed to store provider reference")
		}
		audit.ProviderRef = &ref
	}
	audit.SetProcessingTime(start)
	s.logAudit(ctx, audit)
	return initiation, nil
}

func (s *BookingService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).Error("Failed to write payment audit")
	}
}

// returnURL is where the customer's browser lands after the provider page.
// Netgiro returns through the API so the signature can be verified first.
func (s *BookingService) returnURL(provider models.PaymentProvider, reference, outcome string) string {
	q := url.Values{"reference": {reference}, "status": {outcome}}
	if provider == models.PaymentProviderNetgiro {
		return s.config.PublicURL + "/api/v1/payments/netgiro/return?" + q.Encode()
	}
	base := s.config.FrontendURL
	if base == "" {
		base = s.config.PublicURL
	}
	return base + "/booking/" + url.PathEscape(reference) + "?" + url.Values{"status": {outcome}}.Encode()
}

// GetBooking returns a booking and its payment
func (s *BookingService) GetBooking(ctx context.Context, reference string) (*models.BookingResponse, error) {
	booking, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, apperrors.ErrBookingNotFound
	}
	payment, err := s.payments.GetByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	return &models.BookingResponse{Booking: booking, Payment: payment}, nil
}

// ListUserBookings returns a signed-in customer's bookings, newest first
func (s *BookingService) ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.bookings.ListByUser(ctx, userID, limit, offset)
}

// Transition applies a staff lifecycle change. CONFIRMED is reserved for
// payment reconciliation and cannot be set here.
func (s *BookingService) Transition(ctx context.Context, reference, status string) (*models.Booking, error) {
	target, err := models.ParseBookingStatus(status)
	if err != nil {
		return nil, err
	}
	if target == models.BookingStatusConfirmed || target == models.BookingStatusPending {
		return nil, apperrors.Validation("status %s is set by payment processing", target)
	}

	var (
		booking *models.Booking
		from    models.BookingStatus
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if booking == nil {
			return apperrors.ErrBookingNotFound
		}

		from = booking.Status
		if err := booking.TransitionTo(target, s.clock.Now()); err != nil {
			return err
		}
		return s.bookings.UpdateStatus(ctx, booking, from)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(string(from), string(target))
	s.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"from":              from,
		"to":                target,
	}).Info("Booking status changed by staff")
	return booking, nil
}

// Audits returns the payment audit trail of a booking
func (s *BookingService) Audits(ctx context.Context, reference string) ([]*models.PaymentAudit, error) {
	booking, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, apperrors.ErrBookingNotFound
	}
	return s.audits.GetByReference(ctx, booking.Reference)
}
