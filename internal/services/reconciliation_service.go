package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/utils"
	"github.com/parkflow/parking-booking-backend/pkg/cache"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// WebhookOutcome describes what a provider event did
type WebhookOutcome string

const (
	OutcomeApplied    WebhookOutcome = "applied"
	OutcomeNoop       WebhookOutcome = "noop"
	OutcomeDuplicate  WebhookOutcome = "duplicate"
	OutcomeIgnored    WebhookOutcome = "ignored"
	OutcomeUnresolved WebhookOutcome = "unresolved"
)

// WebhookResult is reported back to the provider handler
type WebhookResult struct {
	Outcome       WebhookOutcome       `json:"outcome"`
	Reference     string               `json:"reference,omitempty"`
	BookingStatus models.BookingStatus `json:"booking_status,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
}

// ReconciliationConfig tunes timeouts and batch sizes
type ReconciliationConfig struct {
	DedupTTL              time.Duration
	StatusTimeout         time.Duration
	PendingReconcileAfter time.Duration
	PendingBatchSize      int
	NotifyTimeout         time.Duration
}

func (c *ReconciliationConfig) setDefaults() {
	if c.DedupTTL <= 0 {
		c.DedupTTL = 24 * time.Hour
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = 10 * time.Second
	}
	if c.PendingReconcileAfter <= 0 {
		c.PendingReconcileAfter = 15 * time.Minute
	}
	if c.PendingBatchSize <= 0 {
		c.PendingBatchSize = 50
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
}

// ReconciliationService maps provider payment events onto booking and payment state,
// exactly once per real-world event.
type ReconciliationService struct {
	tx       Transactor
	bookings BookingStore
	payments PaymentStore
	audits   AuditStore
	gateways *GatewayRegistry
	notifier Notifier
	cache    cache.Cache
	clock    clock.Clock
	logger   *logrus.Logger
	config   ReconciliationConfig

	notifications sync.WaitGroup
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	tx Transactor,
	bookings BookingStore,
	payments PaymentStore,
	audits AuditStore,
	gateways *GatewayRegistry,
	notifier Notifier,
	dedup cache.Cache,
	clk clock.Clock,
	logger *logrus.Logger,
	cfg ReconciliationConfig,
) *ReconciliationService {
	cfg.setDefaults()
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if dedup == nil {
		dedup = cache.NewMemoryCache(clk)
	}
	return &ReconciliationService{
		tx:       tx,
		bookings: bookings,
		payments: payments,
		audits:   audits,
		gateways: gateways,
		notifier: notifier,
		cache:    dedup,
		clock:    clk,
		logger:   logger,
		config:   cfg,
	}
}

// auditTrace carries the request details copied onto every audit row of one event
type auditTrace struct {
	rawBody string
	meta    RequestMeta
	start   time.Time
}

func (t auditTrace) newAudit(eventType models.PaymentEventType, source models.PaymentEventSource) *models.PaymentAudit {
	audit := models.NewPaymentAudit(eventType, source)
	if t.rawBody != "" {
		audit.SetRawBody(t.rawBody)
	}
	var extra models.JSONB
	if t.meta.UserAgent != "" {
		device := utils.ParseUserAgent(t.meta.UserAgent)
		extra = models.JSONB{
			"device_type": device.DeviceType,
			"browser":     device.Browser,
			"os":          device.OS,
			"is_bot":      device.IsBot,
		}
	}
	audit.SetMetadata(t.meta.IP, t.meta.UserAgent, extra)
	if !t.start.IsZero() {
		audit.SetProcessingTime(t.start)
	}
	return audit
}

// logOutside writes an audit row that must survive a rolled back transaction
func (s *ReconciliationService) logOutside(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to write payment audit")
	}
}

func dedupCacheKey(cmd models.ReconciliationCommand) string {
	return "webhook:" + cmd.DedupKey()
}

// HandleWebhook verifies, normalizes and applies one provider callback.
//
// Structurally valid events always succeed, even when they change nothing, so
// the provider stops redelivering. A bad signature returns an error wrapping
// apperrors.ErrInvalidSignature and changes nothing. Storage failures are
// returned so the provider retries.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, provider string, req *WebhookRequest, meta RequestMeta) (*WebhookResult, error) {
	trace := auditTrace{rawBody: string(req.Body), meta: meta, start: time.Now()}
	log := s.logger.WithField("provider", provider)

	p, err := models.ParsePaymentProvider(provider)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(p)
	if err != nil {
		return nil, err
	}

	event, err := gateway.ParseWebhook(req)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			audit := trace.newAudit(models.PaymentEventInvalidSignature, models.PaymentSourceWebhook).SetProvider(p)
			audit.SetError(err.Error())
			s.logOutside(ctx, audit)
			metrics.IncWebhookEvent(string(p), "invalid_signature")
			log.WithError(err).Warn("Rejected webhook with invalid signature")
			return nil, err
		}
		metrics.IncWebhookEvent(string(p), "malformed")
		log.WithError(err).Warn("Rejected malformed webhook")
		return nil, err
	}

	cmd, err := event.Command()
	if err != nil {
		metrics.IncWebhookEvent(string(p), "malformed")
		return nil, apperrors.Validation("%v", err)
	}
	log = log.WithFields(logrus.Fields{
		"event_id":          cmd.EventID,
		"booking_reference": cmd.Reference,
		"command":           cmd.Kind,
	})

	if cmd.Kind == models.CommandIgnored {
		s.logOutside(ctx, trace.newAudit(models.PaymentEventIgnored, models.PaymentSourceWebhook).SetCommand(cmd))
		metrics.IncWebhookEvent(string(p), string(OutcomeIgnored))
		log.Info("Ignoring webhook with no state effect")
		return &WebhookResult{Outcome: OutcomeIgnored, Reference: cmd.Reference}, nil
	}

	if _, hit, err := s.cache.Get(ctx, dedupCacheKey(cmd)); err != nil {
		log.WithError(err).Warn("Webhook dedup cache unavailable")
	} else if hit {
		audit := trace.newAudit(models.AuditEventTypeFor(cmd.Kind), models.PaymentSourceWebhook).SetCommand(cmd).MarkAsDuplicate()
		s.logOutside(ctx, audit)
		metrics.IncWebhookEvent(string(p), string(OutcomeDuplicate))
		log.Info("Duplicate webhook delivery")
		return &WebhookResult{Outcome: OutcomeDuplicate, Reference: cmd.Reference}, nil
	}

	result, err := s.apply(ctx, cmd, models.PaymentSourceWebhook, trace)
	if err != nil {
		audit := trace.newAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).SetCommand(cmd)
		audit.SetError(err.Error())
		s.logOutside(ctx, audit)
		metrics.IncWebhookEvent(string(p), "error")
		log.WithError(err).Error("Failed to apply webhook")
		return nil, err
	}

	metrics.IncWebhookEvent(string(p), string(result.Outcome))
	log.WithField("outcome", result.Outcome).Info("Webhook processed")
	return result, nil
}

// apply runs one command against the booking it names, inside a transaction.
// The booking row lock serializes concurrent deliveries of the same event.
func (s *ReconciliationService) apply(ctx context.Context, cmd models.ReconciliationCommand, source models.PaymentEventSource, trace auditTrace) (*WebhookResult, error) {
	result := &WebhookResult{Reference: cmd.Reference}
	var confirmed *models.Booking

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		confirmed = nil

		booking, err := s.bookings.GetByReferenceForUpdate(ctx, cmd.Reference)
		if err != nil {
			return err
		}
		if booking == nil {
			result.Outcome = OutcomeUnresolved
			audit := trace.newAudit(models.PaymentEventUnresolved, source).SetCommand(cmd)
			audit.SetError("no booking with this reference")
			s.logger.WithFields(logrus.Fields{
				"provider":          cmd.Provider,
				"booking_reference": cmd.Reference,
			}).Warn("Payment event for unknown booking reference, discarding")
			return s.audits.Log(ctx, audit)
		}

		processed, err := s.audits.HasProcessedEvent(ctx, cmd.Provider, cmd.EventID)
		if err != nil {
			return err
		}

		audit := trace.newAudit(models.AuditEventTypeFor(cmd.Kind), source).SetBooking(booking).SetCommand(cmd)
		if processed {
			result.Outcome = OutcomeDuplicate
			result.BookingStatus = booking.Status
			return s.audits.Log(ctx, audit.MarkAsDuplicate())
		}

		payment, err := s.payments.GetByBookingIDForUpdate(ctx, booking.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch cmd.Kind {
		case models.CommandPaymentCompleted:
			result.Outcome, payment, err = s.applyCompleted(ctx, booking, payment, cmd, audit, now)
			if err == nil && result.Outcome == OutcomeApplied && booking.Status == models.BookingStatusConfirmed {
				b := *booking
				confirmed = &b
			}
		case models.CommandPaymentFailed:
			result.Outcome, payment, err = s.applyFailed(ctx, booking, payment, cmd, audit, now)
		case models.CommandRefundCompleted:
			result.Outcome, payment, err = s.applyRefund(ctx, booking, payment, cmd, audit, now)
		default:
			return fmt.Errorf("unhandled command kind %q", cmd.Kind)
		}
		if err != nil {
			return err
		}

		result.BookingStatus = booking.Status
		if payment != nil {
			result.PaymentStatus = payment.Status
			audit.SetPaymentStatus(string(payment.Status))
		}
		if result.Outcome == OutcomeNoop {
			audit.Metadata = withOutcome(audit.Metadata, OutcomeNoop)
		}
		return s.audits.Log(ctx, audit)
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome != OutcomeUnresolved {
		if err := s.cache.Set(ctx, dedupCacheKey(cmd), string(result.Outcome), s.config.DedupTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to record webhook in dedup cache")
		}
	}
	if confirmed != nil {
		s.notifyAsync(confirmed)
	}
	return result, nil
}

func withOutcome(meta models.JSONB, outcome WebhookOutcome) models.JSONB {
	if meta == nil {
		meta = models.JSONB{}
	}
	meta["outcome"] = string(outcome)
	return meta
}

func (s *ReconciliationService) applyCompleted(
	ctx context.Context,
	booking *models.Booking,
	payment *models.Payment,
	cmd models.ReconciliationCommand,
	audit *models.PaymentAudit,
	now time.Time,
) (WebhookOutcome, *models.Payment, error) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"provider":          cmd.Provider,
		"event_id":          cmd.EventID,
	})

	isNew := payment == nil
	if isNew {
		payment = &models.Payment{
			BookingID: booking.ID,
			Amount:    booking.TotalAmount,
			Currency:  booking.Currency,
			Status:    models.PaymentStatusPending,
			Provider:  cmd.Provider,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if payment.Status.IsSettled() {
		log.WithField("payment_status", payment.Status).Info("Payment already settled, completion is a no-op")
		return OutcomeNoop, payment, nil
	}

	if cmd.Amount > 0 {
		currency := cmd.Currency
		if currency == "" {
			currency = payment.Currency
		}
		if !audit.SetAmounts(payment.Amount, cmd.Amount, currency) {
			audit.Metadata = withFlag(audit.Metadata, string(models.PaymentEventAmountMismatch))
			log.WithFields(logrus.Fields{
				"expected_amount": payment.Amount,
				"received_amount": cmd.Amount,
			}).Warn("Payment amount mismatch, completing with provider amount on record")
		}
	}

	payment.Provider = cmd.Provider
	if err := payment.MarkCompleted(cmd.ProviderRef, now); err != nil {
		return "", nil, err
	}
	if isNew {
		if err := s.payments.Create(ctx, payment); err != nil {
			return "", nil, err
		}
	} else if err := s.payments.Update(ctx, payment); err != nil {
		return "", nil, err
	}

	if booking.Status != models.BookingStatusPending {
		log.WithField("booking_status", booking.Status).Warn("Payment completed for booking that is no longer pending")
		return OutcomeApplied, payment, nil
	}

	from := booking.Status
	if err := booking.TransitionTo(models.BookingStatusConfirmed, now); err != nil {
		return "", nil, err
	}
	if err := s.bookings.UpdateStatus(ctx, booking, from); err != nil {
		return "", nil, err
	}
	metrics.IncBookingTransition(string(from), string(booking.Status))
	log.Info("Booking confirmed")
	return OutcomeApplied, payment, nil
}

func withFlag(meta models.JSONB, flag string) models.JSONB {
	if meta == nil {
		meta = models.JSONB{}
	}
	meta[flag] = true
	return meta
}

func (s *ReconciliationService) applyFailed(
	ctx context.Context,
	booking *models.Booking,
	payment *models.Payment,
	cmd models.ReconciliationCommand,
	audit *models.PaymentAudit,
	now time.Time,
) (WebhookOutcome, *models.Payment, error) {
	reason := cmd.RawStatus
	if payment == nil {
		payment = &models.Payment{
			BookingID: booking.ID,
			Amount:    booking.TotalAmount,
			Currency:  booking.Currency,
			Status:    models.PaymentStatusPending,
			Provider:  cmd.Provider,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := payment.MarkFailed(reason, now); err != nil {
			return "", nil, err
		}
		return OutcomeApplied, payment, s.payments.Create(ctx, payment)
	}

	if payment.Status != models.PaymentStatusPending {
		if payment.Status.IsSettled() {
			audit.EventType = models.PaymentEventIllegalTransition
			audit.SetError(fmt.Sprintf("failure event for %s payment", payment.Status))
		}
		return OutcomeNoop, payment, nil
	}

	if err := payment.MarkFailed(reason, now); err != nil {
		return "", nil, err
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return "", nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"provider":          cmd.Provider,
		"reason":            reason,
	}).Info("Payment failed, booking stays pending")
	return OutcomeApplied, payment, nil
}

func (s *ReconciliationService) applyRefund(
	ctx context.Context,
	booking *models.Booking,
	payment *models.Payment,
	cmd models.ReconciliationCommand,
	audit *models.PaymentAudit,
	now time.Time,
) (WebhookOutcome, *models.Payment, error) {
	if payment == nil || !payment.Status.IsSettled() || payment.Status == models.PaymentStatusRefunded {
		audit.EventType = models.PaymentEventIllegalTransition
		audit.SetError("refund event for a payment that is not refundable")
		return OutcomeNoop, payment, nil
	}

	amount := cmd.Amount
	if amount <= 0 {
		amount = payment.Amount - payment.RefundedAmount
	}
	audit.SetAmounts(payment.Amount, amount, payment.Currency)

	full, err := payment.ApplyRefund(amount, now)
	if err != nil {
		return "", nil, err
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return "", nil, err
	}

	if full && !booking.Status.IsTerminal() {
		from := booking.Status
		if err := booking.TransitionTo(models.BookingStatusCancelled, now); err != nil {
			return "", nil, err
		}
		if err := s.bookings.UpdateStatus(ctx, booking, from); err != nil {
			return "", nil, err
		}
		metrics.IncBookingTransition(string(from), string(booking.Status))
		audit.Metadata = withFlag(audit.Metadata, string(models.PaymentEventBookingCancelled))
	}

	s.logger.WithFields(logrus.Fields{
		"booking_reference": booking.Reference,
		"refund_amount":     amount,
		"full":              full,
	}).Info("Refund applied")
	return OutcomeApplied, payment, nil
}

func (s *ReconciliationService) notifyAsync(booking *models.Booking) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.NotifyTimeout)
		defer cancel()

		if err := s.notifier.BookingConfirmed(ctx, booking); err != nil {
			s.logger.WithError(err).WithField("booking_reference", booking.Reference).
				Warn("Booking confirmation notification failed")
		}
	}()
}

// Drain waits for in-flight confirmation notifications
func (s *ReconciliationService) Drain() {
	s.notifications.Wait()
}

// VerifyReturn checks the signature of a browser redirect-return from the
// provider and records it. It never changes state; the webhook does that.
func (s *ReconciliationService) VerifyReturn(ctx context.Context, provider string, req *WebhookRequest, meta RequestMeta) (*models.ReconciliationCommand, error) {
	trace := auditTrace{rawBody: string(req.Body), meta: meta, start: time.Now()}

	p, err := models.ParsePaymentProvider(provider)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(p)
	if err != nil {
		return nil, err
	}

	event, err := gateway.ParseWebhook(req)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			audit := trace.newAudit(models.PaymentEventInvalidSignature, models.PaymentSourceReturn).SetProvider(p)
			audit.SetError(err.Error())
			s.logOutside(ctx, audit)
		}
		return nil, err
	}
	cmd, err := event.Command()
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	// the event id is left off so the row never counts as a processed event
	audit := trace.newAudit(models.PaymentEventReturnVerified, models.PaymentSourceReturn).SetCommand(cmd)
	audit.ProviderEventID = nil
	s.logOutside(ctx, audit)
	return &cmd, nil
}

// PaymentStatus returns the local payment state of a booking, refreshed from
// the provider first when the payment is still open. A provider failure is
// swallowed and the local state is returned marked stale.
func (s *ReconciliationService) PaymentStatus(ctx context.Context, reference string) (*models.PaymentStatusResponse, error) {
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

	resp := &models.PaymentStatusResponse{
		Reference:     booking.Reference,
		BookingStatus: booking.Status,
		Payment:       payment,
	}
	if payment == nil || payment.Status != models.PaymentStatusPending || payment.ProviderRef == nil {
		return resp, nil
	}

	status, err := s.checkStatus(ctx, payment.Provider, *payment.ProviderRef)
	if err != nil {
		s.logger.WithError(err).WithField("booking_reference", reference).Warn("Provider status check failed, returning local state")
		resp.Stale = true
		return resp, nil
	}
	resp.ProviderState = status.RawStatus

	if status.Kind == models.CommandIgnored {
		return resp, nil
	}
	if _, err := s.apply(ctx, pollCommand(booking.Reference, payment, status), models.PaymentSourceAPI, auditTrace{start: time.Now()}); err != nil {
		s.logger.WithError(err).WithField("booking_reference", reference).Warn("Failed to apply provider status")
		resp.Stale = true
		return resp, nil
	}

	if refreshed, err := s.bookings.GetByReference(ctx, reference); err == nil && refreshed != nil {
		resp.BookingStatus = refreshed.Status
	}
	if refreshed, err := s.payments.GetByBookingID(ctx, booking.ID); err == nil && refreshed != nil {
		resp.Payment = refreshed
	}
	return resp, nil
}

func (s *ReconciliationService) checkStatus(ctx context.Context, provider models.PaymentProvider, providerRef string) (*ProviderStatus, error) {
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.StatusTimeout)
	defer cancel()

	status, err := gateway.CheckStatus(ctx, providerRef)
	if err != nil {
		if errors.Is(err, apperrors.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, apperrors.Upstream(string(provider), err)
	}
	return status, nil
}

// pollCommand turns a polled provider status into a reconciliation command.
// The event id is stable per payment attempt and status, so repeated polls of
// one attempt deduplicate while a retried attempt gets fresh ids.
func pollCommand(reference string, payment *models.Payment, status *ProviderStatus) models.ReconciliationCommand {
	providerRef := ""
	if payment.ProviderRef != nil {
		providerRef = *payment.ProviderRef
	}
	attempt := strconv.FormatInt(payment.UpdatedAt.UnixMicro(), 36)
	return models.ReconciliationCommand{
		Provider:    payment.Provider,
		EventID:     "poll:" + reference + ":" + attempt + ":" + status.RawStatus,
		Kind:        status.Kind,
		Reference:   reference,
		ProviderRef: firstNonEmptyString(status.ProviderRef, providerRef),
		Amount:      status.Amount,
		RawStatus:   status.RawStatus,
	}
}

// ReconcileSummary counts the results of a pending-payment pass
type ReconcileSummary struct {
	Checked int `json:"checked"`
	Applied int `json:"applied"`
	Open    int `json:"open"`
	Failed  int `json:"failed"`
}

// ReconcilePendingPayments polls the provider for PENDING payments older than
// the configured age and applies any final result. It recovers lost webhooks.
func (s *ReconciliationService) ReconcilePendingPayments(ctx context.Context) (*ReconcileSummary, error) {
	cutoff := s.clock.Now().Add(-s.config.PendingReconcileAfter)
	stale, err := s.payments.ListStalePending(ctx, cutoff, s.config.PendingBatchSize)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, p := range stale {
		if p.ProviderRef == nil || *p.ProviderRef == "" {
			continue
		}
		summary.Checked++
		log := s.logger.WithFields(logrus.Fields{
			"booking_reference": p.Reference,
			"provider":          p.Provider,
		})

		status, err := s.checkStatus(ctx, p.Provider, *p.ProviderRef)
		if err != nil {
			summary.Failed++
			log.WithError(err).Warn("Pending payment status check failed")
			continue
		}
		if status.Kind == models.CommandIgnored {
			summary.Open++
			continue
		}

		result, err := s.apply(ctx, pollCommand(p.Reference, &p.Payment, status), models.PaymentSourceAPI, auditTrace{start: time.Now()})
		if err != nil {
			summary.Failed++
			log.WithError(err).Error("Failed to apply polled payment status")
			continue
		}
		if result.Outcome == OutcomeApplied {
			summary.Applied++
		}
	}

	if summary.Checked > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked": summary.Checked,
			"applied": summary.Applied,
			"open":    summary.Open,
			"failed":  summary.Failed,
		}).Info("Pending payment reconciliation finished")
	}
	return summary, nil
}
