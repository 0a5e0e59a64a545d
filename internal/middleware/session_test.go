package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T, secret string) *SessionManager {
	m, err := NewSessionManager(config.SessionConfig{Secret: secret, CookieName: "pk_session"})
	require.NoError(t, err)
	return m
}

func sessionRouter(m *SessionManager) *gin.Engine {
	router := setupTestRouter()
	router.Use(m.Middleware())
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetSessionID(c))
	})
	return router
}

func TestSessionManager_Middleware(t *testing.T) {
	m := newTestSessionManager(t, "session-secret")
	router := sessionRouter(m)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)

	first := w.Body.String()
	require.NotEmpty(t, first)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "pk_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	t.Run("Cookie is reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.AddCookie(cookies[0])
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, first, w.Body.String())
		assert.Empty(t, w.Result().Cookies(), "a valid cookie is not reissued")
	})

	t.Run("Tampered cookie starts a new session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.AddCookie(&http.Cookie{Name: "pk_session", Value: cookies[0].Value + "x"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.NotEqual(t, first, w.Body.String())
		assert.Len(t, w.Result().Cookies(), 1)
	})

	t.Run("Cookie from another secret is rejected", func(t *testing.T) {
		other := newTestSessionManager(t, "different-secret")
		encoded, err := other.Encode("session-from-elsewhere")
		require.NoError(t, err)

		_, ok := m.Decode(encoded)
		assert.False(t, ok)
	})
}

func TestNewSessionManager_RequiresSecret(t *testing.T) {
	_, err := NewSessionManager(config.SessionConfig{})
	assert.Error(t, err)
}
