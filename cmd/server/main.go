package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/handlers"
	"github.com/parkflow/parking-booking-backend/internal/logging"
	"github.com/parkflow/parking-booking-backend/internal/metrics"
	"github.com/parkflow/parking-booking-backend/internal/middleware"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/services"
	"github.com/parkflow/parking-booking-backend/pkg/cache"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Server.LogLevel, cfg.Logging)
	logger.Info("Starting parking booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	if err := database.Migrate(migrateCtx, db.DB, logger); err != nil {
		cancelMigrate()
		logger.Fatalf("Failed to apply migrations: %v", err)
	}
	cancelMigrate()

	// Optional Redis for shared rate limits and webhook dedup
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis is unreachable, continuing with it configured")
		}
		cancelPing()
	}

	metrics.Register()
	clk := clock.New()

	// Initialize repositories
	logger.Info("Initializing services...")
	txManager := database.NewTxManager(db.DB, logger)
	lotRepository := database.NewLotRepository(db.DB)
	bookingRepository := database.NewBookingRepository(db.DB)
	holdRepository := database.NewHoldRepository(db.DB)
	paymentRepository := database.NewPaymentRepository(db.DB)
	auditRepository := database.NewPaymentAuditRepository(db.DB, logger)

	// Initialize services
	sweeper := services.NewExpirySweeper(holdRepository, clk, logger)
	availabilityService := services.NewAvailabilityService(txManager, lotRepository, bookingRepository, holdRepository, sweeper, clk)
	holdService := services.NewHoldService(
		txManager,
		lotRepository,
		holdRepository,
		availabilityService,
		sweeper,
		clk,
		logger,
		services.WithHoldTTL(cfg.Hold.TTL),
	)

	gateways := services.NewGatewayRegistry(
		models.PaymentProvider(cfg.Payment.DefaultProvider),
		services.NewRapydGateway(&cfg.Payment.Rapyd, clk, logger),
		services.NewNetgiroGateway(&cfg.Payment.Netgiro, logger),
	)

	notifier := services.NewConfiguredNotifier(cfg, logger)
	logger.WithField("channels", notifier.Len()).Info("Booking confirmation notifier configured")

	var dedup cache.Cache = cache.NewMemoryCache(clk)
	if redisClient != nil {
		dedup = cache.NewRedisCache(redisClient, "parkflow")
	}

	reconciliationService := services.NewReconciliationService(
		txManager,
		bookingRepository,
		paymentRepository,
		auditRepository,
		gateways,
		notifier,
		dedup,
		clk,
		logger,
		services.ReconciliationConfig{
			DedupTTL:              cfg.Payment.WebhookDedupTTL,
			StatusTimeout:         cfg.Payment.StatusTimeout,
			PendingReconcileAfter: cfg.Payment.PendingReconcileAfter,
		},
	)

	bookingService := services.NewBookingService(
		txManager,
		lotRepository,
		bookingRepository,
		holdRepository,
		paymentRepository,
		auditRepository,
		availabilityService,
		sweeper,
		gateways,
		clk,
		logger,
		services.BookingServiceConfig{
			PublicURL:   cfg.Server.PublicURL,
			FrontendURL: cfg.Server.FrontendURL,
		},
	)

	cronService := services.NewCronService(sweeper, reconciliationService, logger)
	if err := cronService.Start(cfg.Hold.SweepSchedule, cfg.Payment.PendingSchedule); err != nil {
		logger.Fatalf("Failed to start background jobs: %v", err)
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	sessions, err := middleware.NewSessionManager(cfg.Session)
	if err != nil {
		logger.Fatalf("Failed to initialize session cookies: %v", err)
	}
	limiterStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatalf("Failed to initialize rate limiter: %v", err)
	}
	logger.Info("All services initialized")

	router := setupRouter(cfg, logger, routerDeps{
		db:             db,
		jwtService:     jwtService,
		sessions:       sessions,
		limiterStore:   limiterStore,
		lots:           availabilityService,
		holds:          holdService,
		bookings:       bookingService,
		reconciliation: reconciliationService,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	cronService.Stop()
	reconciliationService.Drain()

	logger.Info("Server exited")
}

type routerDeps struct {
	db             handlers.Pinger
	jwtService     *jwt.Service
	sessions       *middleware.SessionManager
	limiterStore   limiter.Store
	lots           handlers.LotService
	holds          handlers.HoldManager
	bookings       handlers.BookingManager
	reconciliation handlers.Reconciler
}

func setupRouter(cfg *config.Config, logger *logrus.Logger, deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := handlers.NewHealthHandler(deps.db, version)
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimit := func(rate, routeID string) gin.HandlerFunc {
		if !cfg.RateLimit.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.NewRateLimiter(deps.limiterStore, rate, routeID, logger)
	}

	lotHandler := handlers.NewLotHandler(deps.lots, logger)
	holdHandler := handlers.NewHoldHandler(deps.holds, logger)
	bookingHandler := handlers.NewBookingHandler(deps.bookings, deps.reconciliation, logger)
	staffHandler := handlers.NewStaffBookingHandler(deps.bookings, logger)
	webhookHandler := handlers.NewWebhookHandler(deps.reconciliation, cfg.Server.FrontendURL, logger)

	session := deps.sessions.Middleware()
	optionalAuth := middleware.OptionalAuth(deps.jwtService, logger)
	requireAuth := middleware.AuthMiddleware(deps.jwtService, logger)

	v1 := router.Group("/api/v1")
	{
		lots := v1.Group("/lots")
		{
			lots.GET("", lotHandler.ListLots)
			lots.GET("/:lot_id", lotHandler.GetLot)
			lots.GET("/:lot_id/availability", lotHandler.GetAvailability)
		}

		holds := v1.Group("/holds")
		holds.Use(session, optionalAuth)
		{
			holds.POST("", rateLimit(cfg.RateLimit.Holds, "holds"), holdHandler.Acquire)
			holds.GET("/current", holdHandler.Current)
			holds.DELETE("/current", holdHandler.Release)
		}

		bookings := v1.Group("/bookings")
		{
			bookings.POST("", session, optionalAuth, rateLimit(cfg.RateLimit.Checkout, "checkout"), bookingHandler.CreateBooking)
			bookings.GET("", requireAuth, bookingHandler.ListMyBookings)
			bookings.GET("/:reference", session, optionalAuth, bookingHandler.GetBooking)
			bookings.POST("/:reference/payments", session, optionalAuth, rateLimit(cfg.RateLimit.Checkout, "payments"), bookingHandler.InitiatePayment)
			bookings.GET("/:reference/payment-status", bookingHandler.PaymentStatus)
		}

		staff := v1.Group("/staff/bookings")
		staff.Use(requireAuth, middleware.RequireRole(jwt.RoleStaff, jwt.RoleAdmin))
		{
			staff.POST("/:reference/status", staffHandler.UpdateStatus)
			staff.GET("/:reference/audits", staffHandler.Audits)
		}

		v1.POST("/webhooks/:provider", rateLimit(cfg.RateLimit.Webhooks, "webhooks"), webhookHandler.Receive)

		netgiroReturn := v1.Group("/payments/netgiro")
		{
			netgiroReturn.GET("/return", webhookHandler.NetgiroReturn)
			netgiroReturn.POST("/return", webhookHandler.NetgiroReturn)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": fmt.Sprintf("No route for %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})

	return router
}
