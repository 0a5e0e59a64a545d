package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/apperrors"
	"github.com/parkflow/parking-booking-backend/internal/middleware"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/services"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLots struct {
	lot   *models.Lot
	avail *models.AvailabilityResponse
	err   error
	iv    models.Interval
}

func (s *stubLots) ListLots(ctx context.Context) ([]*models.Lot, error) {
	if s.lot == nil {
		return []*models.Lot{}, s.err
	}
	return []*models.Lot{s.lot}, s.err
}

func (s *stubLots) GetLot(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	return s.lot, s.err
}

func (s *stubLots) AvailableSpaces(ctx context.Context, lotID uuid.UUID, iv models.Interval) (*models.AvailabilityResponse, error) {
	s.iv = iv
	return s.avail, s.err
}

type stubHolds struct {
	hold      *models.HoldResponse
	err       error
	sessionID string
	userID    *uuid.UUID
}

func (s *stubHolds) Acquire(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.AcquireHoldRequest) (*models.HoldResponse, error) {
	s.sessionID, s.userID = sessionID, userID
	return s.hold, s.err
}

func (s *stubHolds) Get(ctx context.Context, sessionID string) (*models.HoldResponse, error) {
	s.sessionID = sessionID
	return s.hold, s.err
}

func (s *stubHolds) Release(ctx context.Context, sessionID string) error {
	s.sessionID = sessionID
	return s.err
}

type stubBookings struct {
	checkout  *models.CheckoutResponse
	booking   *models.Booking
	audits    []*models.PaymentAudit
	err       error
	sessionID string
	status    string
	limit     int
}

func (s *stubBookings) CreateBooking(ctx context.Context, sessionID string, userID *uuid.UUID, req *models.CreateBookingRequest) (*models.CheckoutResponse, error) {
	s.sessionID = sessionID
	return s.checkout, s.err
}

func (s *stubBookings) InitiatePayment(ctx context.Context, reference string, req *models.InitiatePaymentRequest) (*models.CheckoutResponse, error) {
	return s.checkout, s.err
}

func (s *stubBookings) GetBooking(ctx context.Context, reference string) (*models.BookingResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.BookingResponse{Booking: s.booking}, nil
}

func (s *stubBookings) ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	s.limit = limit
	return []*models.Booking{s.booking}, s.err
}

func (s *stubBookings) Transition(ctx context.Context, reference, status string) (*models.Booking, error) {
	s.status = status
	return s.booking, s.err
}

func (s *stubBookings) Audits(ctx context.Context, reference string) ([]*models.PaymentAudit, error) {
	return s.audits, s.err
}

type stubReconciler struct {
	result   *services.WebhookResult
	cmd      *models.ReconciliationCommand
	status   *models.PaymentStatusResponse
	err      error
	provider string
	req      *services.WebhookRequest
	meta     services.RequestMeta
}

func (s *stubReconciler) HandleWebhook(ctx context.Context, provider string, req *services.WebhookRequest, meta services.RequestMeta) (*services.WebhookResult, error) {
	s.provider, s.req, s.meta = provider, req, meta
	return s.result, s.err
}

func (s *stubReconciler) VerifyReturn(ctx context.Context, provider string, req *services.WebhookRequest, meta services.RequestMeta) (*models.ReconciliationCommand, error) {
	s.provider, s.req = provider, req
	return s.cmd, s.err
}

func (s *stubReconciler) PaymentStatus(ctx context.Context, reference string) (*models.PaymentStatusResponse, error) {
	return s.status, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.SessionContextKey, "session-x")
		c.Next()
	})
	return router
}

func serve(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLotHandler_GetAvailability(t *testing.T) {
	lotID := uuid.New()
	lots := &stubLots{avail: &models.AvailabilityResponse{LotID: lotID, TotalSpaces: 10, AvailableSpaces: 4, IsAvailable: true}}
	h := NewLotHandler(lots, quietLogger())

	router := newTestRouter()
	router.GET("/lots/:lot_id/availability", h.GetAvailability)

	t.Run("Success", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/lots/"+lotID.String()+"/availability?start=2026-06-02T09:00:00Z&end=2026-06-04T09:00:00Z", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 4, decodeBody(t, w)["available_spaces"])
		assert.Equal(t, time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC), lots.iv.Start.UTC())
	})

	t.Run("Bad lot id", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/lots/not-a-uuid/availability?start=2026-06-02T09:00:00Z&end=2026-06-04T09:00:00Z", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", decodeBody(t, w)["error"])
	})

	t.Run("Unparsable time", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/lots/"+lotID.String()+"/availability?start=tomorrow&end=2026-06-04T09:00:00Z", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown lot", func(t *testing.T) {
		lots.err = apperrors.ErrLotNotFound
		defer func() { lots.err = nil }()

		w := serve(router, http.MethodGet, "/lots/"+lotID.String()+"/availability?start=2026-06-02T09:00:00Z&end=2026-06-04T09:00:00Z", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "lot_not_found", decodeBody(t, w)["error"])
	})
}

func TestLotHandler_ListAndGet(t *testing.T) {
	lot := &models.Lot{ID: uuid.New(), Code: "KEF-P1", Name: "Keflavik P1", TotalSpaces: 120}
	h := NewLotHandler(&stubLots{lot: lot}, quietLogger())

	router := newTestRouter()
	router.GET("/lots", h.ListLots)
	router.GET("/lots/:lot_id", h.GetLot)

	w := serve(router, http.MethodGet, "/lots", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = serve(router, http.MethodGet, "/lots/"+lot.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "KEF-P1")
}

func TestHoldHandler(t *testing.T) {
	lotID := uuid.New()
	holds := &stubHolds{hold: &models.HoldResponse{HoldID: uuid.New(), SessionID: "session-x", LotID: lotID}}
	h := NewHoldHandler(holds, quietLogger())

	router := newTestRouter()
	router.POST("/holds", h.Acquire)
	router.GET("/holds/current", h.Current)
	router.DELETE("/holds/current", h.Release)

	body := `{"lot_id":"` + lotID.String() + `","start_date":"2026-06-02T09:00:00Z","end_date":"2026-06-04T09:00:00Z"}`

	t.Run("Acquire uses the session", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/holds", body)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "session-x", holds.sessionID)
		assert.Nil(t, holds.userID)
	})

	t.Run("No spots", func(t *testing.T) {
		holds.err = apperrors.ErrNoSpotsAvailable
		defer func() { holds.err = nil }()

		w := serve(router, http.MethodPost, "/holds", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "no_spots_available", decodeBody(t, w)["error"])
	})

	t.Run("Missing fields", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/holds", `{"lot_id":"`+lotID.String()+`"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Current", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/holds/current", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotNil(t, decodeBody(t, w)["hold"])
	})

	t.Run("No current hold", func(t *testing.T) {
		saved := holds.hold
		holds.hold = nil
		defer func() { holds.hold = saved }()

		w := serve(router, http.MethodGet, "/holds/current", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"hold":null}`, w.Body.String())
	})

	t.Run("Release", func(t *testing.T) {
		w := serve(router, http.MethodDelete, "/holds/current", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestBookingHandler(t *testing.T) {
	session := "session-x"
	booking := &models.Booking{
		ID:           uuid.New(),
		Reference:    "PK-ABCDEFGH",
		SessionID:    &session,
		Status:       models.BookingStatusPending,
		ContactEmail: "anna@example.is",
	}
	bookings := &stubBookings{
		booking:  booking,
		checkout: &models.CheckoutResponse{Booking: booking},
	}
	recon := &stubReconciler{status: &models.PaymentStatusResponse{Reference: "PK-ABCDEFGH", Stale: true}}
	h := NewBookingHandler(bookings, recon, quietLogger())

	router := newTestRouter()
	router.POST("/bookings", h.CreateBooking)
	router.GET("/bookings/:reference", h.GetBooking)
	router.POST("/bookings/:reference/payments", h.InitiatePayment)
	router.GET("/bookings/:reference/payment-status", h.PaymentStatus)
	router.GET("/bookings", h.ListMyBookings)

	t.Run("Checkout", func(t *testing.T) {
		body := `{"lot_id":"` + uuid.NewString() + `","drop_off_time":"2026-06-02T09:00:00Z","pick_up_time":"2026-06-04T09:00:00Z",` +
			`"license_plate":"AB123","total_amount":35700,"contact":{"name":"Anna","email":"anna@example.is"}}`
		w := serve(router, http.MethodPost, "/bookings", body)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "session-x", bookings.sessionID)
		assert.Contains(t, w.Body.String(), "PK-ABCDEFGH")
	})

	t.Run("Checkout with malformed JSON", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/bookings", `{"lot_id":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", decodeBody(t, w)["error"])
	})

	t.Run("Get", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "anna@example.is")
	})

	t.Run("Retry payment with empty body", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/bookings/PK-ABCDEFGH/payments", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Retry after completion", func(t *testing.T) {
		bookings.err = apperrors.ErrPaymentAlreadyCompleted
		defer func() { bookings.err = nil }()

		w := serve(router, http.MethodPost, "/bookings/PK-ABCDEFGH/payments", `{"provider":"netgiro"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "payment_already_completed", decodeBody(t, w)["error"])
	})

	t.Run("Payment status", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH/payment-status", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeBody(t, w)["stale"])
	})

	t.Run("List requires a user", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/bookings", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Unexpected errors are not echoed", func(t *testing.T) {
		bookings.err = errors.New("pq: connection reset by peer")
		defer func() { bookings.err = nil }()

		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
		assert.Equal(t, "internal_error", decodeBody(t, w)["error"])
	})
}

func TestBookingHandler_ListMyBookings(t *testing.T) {
	userID := uuid.New()
	bookings := &stubBookings{booking: &models.Booking{Reference: "PK-ABCDEFGH"}}
	h := NewBookingHandler(bookings, &stubReconciler{}, quietLogger())

	router := newTestRouter()
	router.GET("/bookings", func(c *gin.Context) {
		c.Set(middleware.UserContextKey, middleware.UserContext{UserID: userID})
		c.Next()
	}, h.ListMyBookings)

	w := serve(router, http.MethodGet, "/bookings?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, bookings.limit)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestStaffBookingHandler(t *testing.T) {
	bookings := &stubBookings{booking: &models.Booking{Reference: "PK-ABCDEFGH", Status: models.BookingStatusCheckedIn}}
	h := NewStaffBookingHandler(bookings, quietLogger())

	router := newTestRouter()
	router.POST("/staff/bookings/:reference/status", h.UpdateStatus)
	router.GET("/staff/bookings/:reference/audits", h.Audits)

	w := serve(router, http.MethodPost, "/staff/bookings/PK-ABCDEFGH/status", `{"status":"CHECKED_IN"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CHECKED_IN", bookings.status)

	bookings.err = apperrors.Transition("booking", "PENDING", "CHECKED_IN")
	w = serve(router, http.MethodPost, "/staff/bookings/PK-ABCDEFGH/status", `{"status":"CHECKED_IN"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decodeBody(t, w)["error"])

	w = serve(router, http.MethodPost, "/staff/bookings/PK-ABCDEFGH/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bookings.err = nil
	bookings.audits = []*models.PaymentAudit{models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceAPI)}
	w = serve(router, http.MethodGet, "/staff/bookings/PK-ABCDEFGH/audits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestWebhookHandler_Receive(t *testing.T) {
	recon := &stubReconciler{result: &services.WebhookResult{Outcome: services.OutcomeApplied, Reference: "PK-ABCDEFGH"}}
	h := NewWebhookHandler(recon, "", quietLogger())

	router := newTestRouter()
	router.POST("/api/v1/webhooks/:provider", h.Receive)

	t.Run("Raw request is handed over", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/rapyd?attempt=2", strings.NewReader(`{"id":"wh_1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("signature", "abc")
		req.Header.Set("User-Agent", "Rapyd-Webhooks/1.0")
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "rapyd", recon.provider)
		assert.Equal(t, "/api/v1/webhooks/rapyd?attempt=2", recon.req.Path)
		assert.Equal(t, `{"id":"wh_1"}`, string(recon.req.Body))
		assert.Equal(t, "abc", recon.req.Header.Get("signature"))
		assert.Equal(t, "application/json", recon.req.ContentType)
		assert.Equal(t, "203.0.113.50", recon.meta.IP)
		assert.Equal(t, "Rapyd-Webhooks/1.0", recon.meta.UserAgent)
		assert.Equal(t, "applied", decodeBody(t, w)["outcome"])
	})

	t.Run("Invalid signature", func(t *testing.T) {
		recon.err = fmt.Errorf("%w: rapyd: signature mismatch", apperrors.ErrInvalidSignature)
		defer func() { recon.err = nil }()

		w := serve(router, http.MethodPost, "/api/v1/webhooks/rapyd", `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_signature", decodeBody(t, w)["error"])
	})

	t.Run("Storage failure asks for a retry", func(t *testing.T) {
		recon.err = errors.New("tx aborted")
		defer func() { recon.err = nil }()

		w := serve(router, http.MethodPost, "/api/v1/webhooks/rapyd", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestWebhookHandler_NetgiroReturn(t *testing.T) {
	query := url.Values{
		"reference":        {"PK-ABCDEFGH"},
		"status":           {"success"},
		"ReferenceNumber":  {"PK-ABCDEFGH"},
		"TransactionId":    {"tx-42"},
		"Status":           {"2"},
		"NetgiroSignature": {"sig"},
	}

	t.Run("Redirects to the frontend", func(t *testing.T) {
		recon := &stubReconciler{cmd: &models.ReconciliationCommand{Reference: "PK-ABCDEFGH", Kind: models.CommandPaymentCompleted}}
		h := NewWebhookHandler(recon, "https://parking.test", quietLogger())
		router := newTestRouter()
		router.GET("/return", h.NetgiroReturn)

		w := serve(router, http.MethodGet, "/return?"+query.Encode(), "")
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "https://parking.test/booking/PK-ABCDEFGH?status=success", w.Header().Get("Location"))
		assert.Equal(t, "netgiro", recon.provider)
		assert.Contains(t, string(recon.req.Body), "NetgiroSignature=sig")
	})

	t.Run("JSON without a frontend", func(t *testing.T) {
		recon := &stubReconciler{cmd: &models.ReconciliationCommand{Reference: "PK-ABCDEFGH", Kind: models.CommandPaymentFailed}}
		h := NewWebhookHandler(recon, "", quietLogger())
		router := newTestRouter()
		router.POST("/return", h.NetgiroReturn)

		req := httptest.NewRequest(http.MethodPost, "/return", strings.NewReader(query.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"reference":"PK-ABCDEFGH","status":"failed"}`, w.Body.String())
	})

	t.Run("Forged return", func(t *testing.T) {
		recon := &stubReconciler{err: fmt.Errorf("%w: netgiro: signature mismatch", apperrors.ErrInvalidSignature)}
		h := NewWebhookHandler(recon, "https://parking.test", quietLogger())
		router := newTestRouter()
		router.GET("/return", h.NetgiroReturn)

		w := serve(router, http.MethodGet, "/return?"+query.Encode(), "")
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "status=error")
	})

	t.Run("Cancelled without signature", func(t *testing.T) {
		recon := &stubReconciler{}
		h := NewWebhookHandler(recon, "https://parking.test", quietLogger())
		router := newTestRouter()
		router.GET("/return", h.NetgiroReturn)

		w := serve(router, http.MethodGet, "/return?reference=PK-ABCDEFGH&status=cancelled", "")
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "https://parking.test/booking/PK-ABCDEFGH?status=cancelled", w.Header().Get("Location"))
		assert.Nil(t, recon.req, "nothing to verify")
	})

	t.Run("Signed cancel is verified", func(t *testing.T) {
		recon := &stubReconciler{err: fmt.Errorf("%w: netgiro: signature mismatch", apperrors.ErrInvalidSignature)}
		h := NewWebhookHandler(recon, "https://parking.test", quietLogger())
		router := newTestRouter()
		router.GET("/return", h.NetgiroReturn)

		signed := url.Values{
			"reference":        {"PK-ABCDEFGH"},
			"status":           {"cancelled"},
			"NetgiroSignature": {"forged"},
		}
		w := serve(router, http.MethodGet, "/return?"+signed.Encode(), "")
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "https://parking.test/booking/PK-ABCDEFGH?status=error", w.Header().Get("Location"))
		require.NotNil(t, recon.req)
	})
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	router := newTestRouter()
	router.GET("/health", NewHealthHandler(stubPinger{}, "1.0.0").Health)
	router.GET("/unhealthy", NewHealthHandler(stubPinger{err: errors.New("dial tcp: refused")}, "1.0.0").Health)

	w := serve(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, http.MethodGet, "/unhealthy", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBookingHandler_Ownership(t *testing.T) {
	session := "session-owner"
	owner := uuid.New()
	booking := &models.Booking{
		Reference:    "PK-ABCDEFGH",
		SessionID:    &session,
		UserID:       &owner,
		Status:       models.BookingStatusPending,
		ContactEmail: "anna@example.is",
		ContactPhone: "6123456",
	}
	bookings := &stubBookings{booking: booking, checkout: &models.CheckoutResponse{Booking: booking}}
	h := NewBookingHandler(bookings, &stubReconciler{}, quietLogger())

	asUser := func(id uuid.UUID, roles ...string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(middleware.UserContextKey, middleware.UserContext{UserID: id, Roles: roles})
			c.Next()
		}
	}

	t.Run("Another session sees the redacted booking", func(t *testing.T) {
		router := newTestRouter()
		router.GET("/bookings/:reference", h.GetBooking)

		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "anna@example.is")
		assert.Contains(t, w.Body.String(), "a***@example.is")
		assert.Contains(t, w.Body.String(), "PK-ABCDEFGH")
	})

	t.Run("Another session cannot start a payment", func(t *testing.T) {
		router := newTestRouter()
		router.POST("/bookings/:reference/payments", h.InitiatePayment)

		w := serve(router, http.MethodPost, "/bookings/PK-ABCDEFGH/payments", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "booking_not_found", decodeBody(t, w)["error"])
	})

	t.Run("The signed-in owner sees everything", func(t *testing.T) {
		router := newTestRouter()
		router.GET("/bookings/:reference", asUser(owner), h.GetBooking)
		router.POST("/bookings/:reference/payments", asUser(owner), h.InitiatePayment)

		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "anna@example.is")

		w = serve(router, http.MethodPost, "/bookings/PK-ABCDEFGH/payments", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Staff see everything", func(t *testing.T) {
		router := newTestRouter()
		router.GET("/bookings/:reference", asUser(uuid.New(), jwt.RoleStaff), h.GetBooking)

		w := serve(router, http.MethodGet, "/bookings/PK-ABCDEFGH", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "6123456")
	})
}
