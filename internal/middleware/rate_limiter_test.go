package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	store, err := NewLimiterStore(nil)
	require.NoError(t, err)

	router := setupTestRouter()
	router.POST("/holds", NewRateLimiter(store, "2-M", "holds", testLogger()), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/holds", nil)
		req.Header.Set("X-Real-IP", ip)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, send("203.0.113.10"))
	assert.Equal(t, http.StatusCreated, send("203.0.113.10"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.10"))
	assert.Equal(t, http.StatusCreated, send("203.0.113.11"), "limits are per caller")
}

func TestNewRateLimiter_InvalidRateDisablesLimiting(t *testing.T) {
	store, err := NewLimiterStore(nil)
	require.NoError(t, err)

	router := setupTestRouter()
	router.GET("/lots", NewRateLimiter(store, "lots-of-requests", "lots", testLogger()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lots", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	router := setupTestRouter()
	router.Use(RequestLogger(testLogger()))
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
