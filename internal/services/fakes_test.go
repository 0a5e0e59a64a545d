package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/pkg/cache"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// memStore is an in-memory stand-in for Postgres. Transactions are fully
// serialized and roll back to a snapshot on error.
type memStore struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	state  memState

	bookingUpdates int
	failAuditLog   error
}

type memState struct {
	lots     map[uuid.UUID]models.Lot
	bookings map[uuid.UUID]models.Booking
	holds    map[string]models.SpotReservation
	payments map[uuid.UUID]models.Payment
	audits   []models.PaymentAudit
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		lots:     map[uuid.UUID]models.Lot{},
		bookings: map[uuid.UUID]models.Booking{},
		holds:    map[string]models.SpotReservation{},
		payments: map[uuid.UUID]models.Payment{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		lots:     make(map[uuid.UUID]models.Lot, len(s.lots)),
		bookings: make(map[uuid.UUID]models.Booking, len(s.bookings)),
		holds:    make(map[string]models.SpotReservation, len(s.holds)),
		payments: make(map[uuid.UUID]models.Payment, len(s.payments)),
		audits:   append([]models.PaymentAudit(nil), s.audits...),
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

type memTxKey struct{}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.dataMu.Lock()
	snapshot := m.state.clone()
	m.dataMu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.dataMu.Lock()
		m.state = snapshot
		m.dataMu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) lock() func() {
	m.dataMu.Lock()
	return m.dataMu.Unlock
}

func (m *memStore) addLot(total int) *models.Lot {
	defer m.lock()()
	lot := models.Lot{ID: uuid.New(), Code: "KEF-" + strconv.Itoa(len(m.state.lots)+1), Name: "Keflavik", TotalSpaces: total}
	m.state.lots[lot.ID] = lot
	return &lot
}

func (m *memStore) booking(reference string) *models.Booking {
	defer m.lock()()
	for _, b := range m.state.bookings {
		if b.Reference == reference {
			return &b
		}
	}
	return nil
}

func (m *memStore) payment(bookingID uuid.UUID) *models.Payment {
	defer m.lock()()
	p, ok := m.state.payments[bookingID]
	if !ok {
		return nil
	}
	return &p
}

func (m *memStore) hold(sessionID string) *models.SpotReservation {
	defer m.lock()()
	h, ok := m.state.holds[sessionID]
	if !ok {
		return nil
	}
	return &h
}

func (m *memStore) auditRows() []models.PaymentAudit {
	defer m.lock()()
	return append([]models.PaymentAudit(nil), m.state.audits...)
}

func (m *memStore) putBooking(b models.Booking) {
	defer m.lock()()
	m.state.bookings[b.ID] = b
}

func (m *memStore) putPayment(p models.Payment) {
	defer m.lock()()
	m.state.payments[p.BookingID] = p
}

func (m *memStore) putHold(h models.SpotReservation) {
	defer m.lock()()
	m.state.holds[h.SessionID] = h
}

// ---------------------------------------------------------------------------

type memLots struct{ *memStore }

func (r memLots) GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	defer r.lock()()
	lot, ok := r.state.lots[id]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (r memLots) GetLotForUpdate(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	return r.GetLot(ctx, id)
}

func (r memLots) ListLots(ctx context.Context) ([]*models.Lot, error) {
	defer r.lock()()
	lots := []*models.Lot{}
	for _, l := range r.state.lots {
		l := l
		lots = append(lots, &l)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].Code < lots[j].Code })
	return lots, nil
}

func (r memLots) UpsertLot(ctx context.Context, lot *models.Lot) error {
	defer r.lock()()
	for id, l := range r.state.lots {
		if l.Code == lot.Code {
			lot.ID = id
		}
	}
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	r.state.lots[lot.ID] = *lot
	return nil
}

type memBookings struct{ *memStore }

func (r memBookings) Create(ctx context.Context, b *models.Booking) (bool, error) {
	defer r.lock()()
	for _, existing := range r.state.bookings {
		if existing.Reference == b.Reference {
			return false, nil
		}
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	r.state.bookings[b.ID] = *b
	return true, nil
}

func (r memBookings) UpdateStatus(ctx context.Context, b *models.Booking, from models.BookingStatus) error {
	defer r.lock()()
	existing, ok := r.state.bookings[b.ID]
	if !ok || existing.Status != from {
		return errors.New("booking status changed concurrently")
	}
	r.bookingUpdates++
	r.state.bookings[b.ID] = *b
	return nil
}

func (r memBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	defer r.lock()()
	b, ok := r.state.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r memBookings) GetByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return r.booking(reference), nil
}

func (r memBookings) GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Booking, error) {
	return r.booking(reference), nil
}

func (r memBookings) ListOccupying(ctx context.Context, lotID uuid.UUID, iv models.Interval) ([]*models.Booking, error) {
	defer r.lock()()
	out := []*models.Booking{}
	for _, b := range r.state.bookings {
		b := b
		if b.LotID == lotID && b.Status.OccupiesSpace() && b.Interval().Overlaps(iv) {
			out = append(out, &b)
		}
	}
	return out, nil
}

func (r memBookings) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	defer r.lock()()
	out := []*models.Booking{}
	for _, b := range r.state.bookings {
		b := b
		if b.UserID != nil && *b.UserID == userID {
			out = append(out, &b)
		}
	}
	if offset >= len(out) {
		return []*models.Booking{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memHolds struct{ *memStore }

func (r memHolds) GetBySession(ctx context.Context, sessionID string) (*models.SpotReservation, error) {
	return r.hold(sessionID), nil
}

func (r memHolds) Create(ctx context.Context, hold *models.SpotReservation) error {
	defer r.lock()()
	if _, ok := r.state.holds[hold.SessionID]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	r.state.holds[hold.SessionID] = *hold
	return nil
}

func (r memHolds) Update(ctx context.Context, hold *models.SpotReservation) error {
	defer r.lock()()
	r.state.holds[hold.SessionID] = *hold
	return nil
}

func (r memHolds) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	defer r.lock()()
	if _, ok := r.state.holds[sessionID]; !ok {
		return 0, nil
	}
	delete(r.state.holds, sessionID)
	return 1, nil
}

func (r memHolds) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for session, h := range r.state.holds {
		if h.ExpiresAt.Before(now) {
			delete(r.state.holds, session)
			n++
		}
	}
	return n, nil
}

func (r memHolds) ListLive(ctx context.Context, lotID uuid.UUID, iv models.Interval, now time.Time, excludeSession string) ([]*models.SpotReservation, error) {
	defer r.lock()()
	out := []*models.SpotReservation{}
	for _, h := range r.state.holds {
		h := h
		if h.LotID == lotID && h.IsLive(now) && h.Interval().Overlaps(iv) && h.SessionID != excludeSession {
			out = append(out, &h)
		}
	}
	return out, nil
}

type memPayments struct{ *memStore }

func (r memPayments) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.payment(bookingID), nil
}

func (r memPayments) GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.payment(bookingID), nil
}

func (r memPayments) Create(ctx context.Context, p *models.Payment) error {
	defer r.lock()()
	if _, ok := r.state.payments[p.BookingID]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.state.payments[p.BookingID] = *p
	return nil
}

func (r memPayments) Update(ctx context.Context, p *models.Payment) error {
	defer r.lock()()
	r.state.payments[p.BookingID] = *p
	return nil
}

func (r memPayments) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*database.StalePayment, error) {
	defer r.lock()()
	out := []*database.StalePayment{}
	for _, p := range r.state.payments {
		if p.Status != models.PaymentStatusPending || p.ProviderRef == nil || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		b := r.state.bookings[p.BookingID]
		out = append(out, &database.StalePayment{Payment: p, Reference: b.Reference})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAudits struct{ *memStore }

func (r memAudits) Log(ctx context.Context, audit *models.PaymentAudit) error {
	defer r.lock()()
	if r.failAuditLog != nil {
		return r.failAuditLog
	}
	r.state.audits = append(r.state.audits, *audit)
	return nil
}

func (r memAudits) HasProcessedEvent(ctx context.Context, provider models.PaymentProvider, eventID string) (bool, error) {
	defer r.lock()()
	for _, a := range r.state.audits {
		if a.Provider == nil || *a.Provider != string(provider) || a.ProviderEventID == nil || *a.ProviderEventID != eventID || a.IsDuplicate {
			continue
		}
		switch a.EventType {
		case models.PaymentEventCompleted, models.PaymentEventFailed, models.PaymentEventRefunded:
			return true, nil
		}
	}
	return false, nil
}

func (r memAudits) GetByReference(ctx context.Context, reference string) ([]*models.PaymentAudit, error) {
	defer r.lock()()
	out := []*models.PaymentAudit{}
	for _, a := range r.state.audits {
		a := a
		if a.BookingReference != nil && *a.BookingReference == reference {
			out = append(out, &a)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------

// stubGateway keeps the real Rapyd signature handling but never calls the network
type stubGateway struct {
	*RapydGateway

	mu        sync.Mutex
	initErr   error
	status    *ProviderStatus
	statusErr error
	initiated []PaymentParams
	checked   []string
}

func (g *stubGateway) InitiatePayment(ctx context.Context, params PaymentParams) (*models.PaymentInitiation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, params)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &models.PaymentInitiation{
		Provider:    models.PaymentProviderRapyd,
		Method:      "redirect",
		RedirectURL: "https://sandboxcheckout.rapyd.net/?token=" + params.Reference,
		ProviderRef: "checkout_" + params.Reference,
	}, nil
}

func (g *stubGateway) CheckStatus(ctx context.Context, providerRef string) (*ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checked = append(g.checked, providerRef)
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	err       error
}

func (n *recordingNotifier) BookingConfirmed(ctx context.Context, b *models.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.Reference)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testEpoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// testEnv wires every service over one memStore and a fake clock
type testEnv struct {
	store        *memStore
	clock        *clock.Fake
	lot          *models.Lot
	sweeper      *ExpirySweeper
	availability *AvailabilityService
	holds        *HoldService
	bookings     *BookingService
	recon        *ReconciliationService
	gateway      *stubGateway
	netgiro      *NetgiroGateway
	notifier     *recordingNotifier
}

func newTestEnv(t *testing.T, totalSpaces int) *testEnv {
	t.Helper()
	store := newMemStore()
	clk := clock.NewFake(testEpoch)
	logger := quietLogger()

	rapyd := NewRapydGateway(&config.RapydConfig{
		BaseURL:   "http://rapyd.invalid",
		AccessKey: "access",
		SecretKey: "secret",
		Country:   "IS",
	}, clk, logger)
	gateway := &stubGateway{RapydGateway: rapyd}
	netgiro := NewNetgiroGateway(&config.NetgiroConfig{
		BaseURL:       "http://netgiro.invalid",
		ApplicationID: "app-1",
		SecretKey:     "netgiro-secret",
	}, logger)
	registry := NewGatewayRegistry(models.PaymentProviderRapyd, gateway, netgiro)

	lots, bookings, holds := memLots{store}, memBookings{store}, memHolds{store}
	payments, audits := memPayments{store}, memAudits{store}

	sweeper := NewExpirySweeper(holds, clk, logger)
	availability := NewAvailabilityService(store, lots, bookings, holds, sweeper, clk)
	notifier := &recordingNotifier{}

	env := &testEnv{
		store:        store,
		clock:        clk,
		lot:          store.addLot(totalSpaces),
		sweeper:      sweeper,
		availability: availability,
		holds:        NewHoldService(store, lots, holds, availability, sweeper, clk, logger),
		bookings: NewBookingService(store, lots, bookings, holds, payments, audits, availability, sweeper, registry, clk, logger,
			BookingServiceConfig{PublicURL: "https://api.parking.test", FrontendURL: "https://parking.test"}),
		recon: NewReconciliationService(store, bookings, payments, audits, registry, notifier,
			cache.NewMemoryCache(clk), clk, logger, ReconciliationConfig{}),
		gateway:  gateway,
		netgiro:  netgiro,
		notifier: notifier,
	}
	return env
}

func (e *testEnv) interval(startHours, endHours int) models.Interval {
	return models.Interval{
		Start: testEpoch.Add(time.Duration(startHours) * time.Hour),
		End:   testEpoch.Add(time.Duration(endHours) * time.Hour),
	}
}

func (e *testEnv) holdRequest(iv models.Interval) *models.AcquireHoldRequest {
	return &models.AcquireHoldRequest{LotID: e.lot.ID, StartDate: iv.Start, EndDate: iv.End}
}

func (e *testEnv) checkoutRequest(iv models.Interval) *models.CreateBookingRequest {
	return &models.CreateBookingRequest{
		LotID:        e.lot.ID,
		DropOffTime:  iv.Start,
		PickUpTime:   iv.End,
		LicensePlate: "ab-123",
		TotalAmount:  35700,
		Contact: models.ContactInfo{
			Name:  "Anna Jónsdóttir",
			Email: "anna@example.is",
			Phone: "612 3456",
		},
	}
}

// rapydRequest signs payload the way Rapyd does for a webhook delivery
func (e *testEnv) rapydRequest(payload string) *WebhookRequest {
	salt := "f1e2d3c4"
	ts := strconv.FormatInt(e.clock.Now().Unix(), 10)
	path := "/api/v1/webhooks/rapyd"

	h := http.Header{}
	h.Set("signature", e.gateway.Sign(http.MethodPost, path, salt, ts, []byte(payload)))
	h.Set("salt", salt)
	h.Set("timestamp", ts)
	h.Set("access_key", "access")
	return &WebhookRequest{
		Method:      http.MethodPost,
		Path:        path,
		Header:      h,
		ContentType: "application/json",
		Body:        []byte(payload),
	}
}

// netgiroRequest builds a form callback signed with the test Netgiro secret
func (e *testEnv) netgiroRequest(transactionID, reference, status, amount string) *WebhookRequest {
	event := &models.NetgiroEvent{
		TransactionID:   transactionID,
		ReferenceNumber: reference,
		InvoiceNumber:   "inv-" + transactionID,
		TotalAmount:     amount,
		Status:          status,
	}
	form := url.Values{
		"TransactionId":    {event.TransactionID},
		"ReferenceNumber":  {event.ReferenceNumber},
		"InvoiceNumber":    {event.InvoiceNumber},
		"TotalAmount":      {event.TotalAmount},
		"Status":           {event.Status},
		"NetgiroSignature": {e.netgiro.CallbackSignature(event)},
	}
	return &WebhookRequest{
		Method:      http.MethodPost,
		Path:        "/api/v1/webhooks/netgiro",
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(form.Encode()),
	}
}
