package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated user's information
type UserContext struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
}

// HasRole reports whether the user has any of roles
func (u UserContext) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}

// bearerToken returns the token from the Authorization header; ok is false when
// the header is present but malformed
func bearerToken(c *gin.Context) (token string, present bool, ok bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false, true
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", true, false
	}
	return strings.TrimSpace(parts[1]), true, true
}

func authenticate(c *gin.Context, jwtService *jwt.Service, logger *logrus.Logger, tokenString string) bool {
	claims, err := jwtService.ValidateAccessToken(tokenString)
	if err != nil {
		fields := logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}
		if jwt.IsExpired(err) {
			logger.WithFields(fields).Info("Auth failed: token expired")
			abortUnauthorized(c, "token_expired", "Access token has expired")
		} else {
			logger.WithError(err).WithFields(fields).Warn("Auth failed: invalid token")
			abortUnauthorized(c, "invalid_token", "Invalid access token")
		}
		return false
	}

	c.Set(UserContextKey, UserContext{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	})
	return true
}

// AuthMiddleware requires a valid bearer token
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present {
			abortUnauthorized(c, "unauthorized", "Authorization header is required")
			return
		}
		if !ok {
			abortUnauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>")
			return
		}
		if authenticate(c, jwtService, logger, token) {
			c.Next()
		}
	}
}

// OptionalAuth attaches the user when a token is sent; anonymous requests pass through.
// A token that is sent but invalid is still rejected.
func OptionalAuth(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present {
			c.Next()
			return
		}
		if !ok {
			abortUnauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>")
			return
		}
		if authenticate(c, jwtService, logger, token) {
			c.Next()
		}
	}
}

// RequireRole creates a middleware that checks if user has required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "unauthorized", "Authentication required")
			return
		}

		if !userCtx.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have permission to access this resource",
			})
			return
		}

		c.Next()
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}

// GetUserID returns the authenticated user id, or nil for anonymous requests
func GetUserID(c *gin.Context) *uuid.UUID {
	userCtx, ok := GetUserContext(c)
	if !ok {
		return nil
	}
	id := userCtx.UserID
	return &id
}
