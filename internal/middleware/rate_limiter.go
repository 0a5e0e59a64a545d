package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	ginmiddleware "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewLimiterStore returns a Redis-backed store when a client is given, otherwise an in-process one
func NewLimiterStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memorystore.NewStoreWithOptions(limiter.StoreOptions{
			Prefix: "rate_limiter",
		}), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   "rate_limiter",
		MaxRetry: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// rateLimitKey identifies the caller by checkout session, falling back to client IP
func rateLimitKey(routeID string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if sid := GetSessionID(c); sid != "" {
			return routeID + ":session:" + sid
		}
		return routeID + ":ip:" + utils.GetRealIP(c)
	}
}

// NewRateLimiter limits a route group with a ulule formatted rate such as "30-M".
// An unparsable rate disables limiting for the route.
func NewRateLimiter(store limiter.Store, rate, routeID string, logger *logrus.Logger) gin.HandlerFunc {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"route": routeID,
			"rate":  rate,
		}).Error("Invalid rate limit; limiting disabled for route")
		return func(c *gin.Context) { c.Next() }
	}

	return ginmiddleware.NewMiddleware(limiter.New(store, parsed),
		ginmiddleware.WithKeyGetter(rateLimitKey(routeID)),
		ginmiddleware.WithLimitReachedHandler(func(c *gin.Context) {
			logger.WithFields(logrus.Fields{
				"route": routeID,
				"ip":    utils.GetRealIP(c),
			}).Warn("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, please retry later",
			})
		}),
		ginmiddleware.WithErrorHandler(func(c *gin.Context, err error) {
			// fail open
			logger.WithError(err).WithField("route", routeID).Error("Rate limiter store failed")
			c.Next()
		}),
	)
}
