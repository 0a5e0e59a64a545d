package middleware

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"golang.org/x/crypto/hkdf"
)

// SessionContextKey holds the checkout session id in the Gin context
const SessionContextKey = "session_id"

// SessionManager issues and verifies the signed, encrypted checkout-session cookie.
// Holds are keyed by the session id it carries.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	name   string
	maxAge time.Duration
	secure bool
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// NewSessionManager derives the cookie hash and block keys from the session secret
func NewSessionManager(cfg config.SessionConfig) (*SessionManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}
	hashKey, err := deriveKey(cfg.Secret, "pk_session hash", 32)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(cfg.Secret, "pk_session block", 32)
	if err != nil {
		return nil, err
	}

	name := cfg.CookieName
	if name == "" {
		name = "pk_session"
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge.Seconds()))

	return &SessionManager{codec: codec, name: name, maxAge: maxAge, secure: cfg.Secure}, nil
}

// Decode returns the session id carried by an encoded cookie value
func (m *SessionManager) Decode(value string) (string, bool) {
	payload := map[string]string{}
	if err := m.codec.Decode(m.name, value, &payload); err != nil {
		return "", false
	}
	sid := payload["sid"]
	return sid, sid != ""
}

// Encode produces a cookie value for sessionID
func (m *SessionManager) Encode(sessionID string) (string, error) {
	return m.codec.Encode(m.name, map[string]string{"sid": sessionID})
}

// Middleware makes sure every request carries a session id, issuing a cookie when needed
func (m *SessionManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cookie, err := c.Request.Cookie(m.name); err == nil {
			if sid, ok := m.Decode(cookie.Value); ok {
				c.Set(SessionContextKey, sid)
				c.Next()
				return
			}
		}

		sid := uuid.New().String()
		encoded, err := m.Encode(sid)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to start session",
			})
			return
		}

		http.SetCookie(c.Writer, &http.Cookie{
			Name:     m.name,
			Value:    encoded,
			Path:     "/",
			MaxAge:   int(m.maxAge.Seconds()),
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set(SessionContextKey, sid)
		c.Next()
	}
}

// GetSessionID returns the checkout session id set by SessionManager.Middleware
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionContextKey)
}
