package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/handlers"
	"github.com/aloy/roommate-booking/internal/middleware"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/aloy/roommate-booking/pkg/jwt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting roommate booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Optional infrastructure
	redisClient, err := services.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		logger.Fatalf("Failed to configure redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Join rate limiting enabled (redis)")
	} else {
		logger.Warn("REDIS_URL not set, join rate limiting disabled")
	}

	publisher, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	// Initialize repositories
	logger.Info("Initializing services...")
	userRepository := database.NewUserRepository(db.DB)
	apartmentRepository := database.NewApartmentRepository(db.DB)
	groupRepository := database.NewRoommateGroupRepository(db.DB)
	paymentRepository := database.NewPaymentRepository(db.DB)

	// Initialize services
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	rateLimitService := services.NewRateLimitService(redisClient, cfg.Redis, logger)
	auditService := services.NewAuditService(db.DB, cfg.Security.EnableAuditLog, logger)
	gatewayService := services.NewGatewayService(&cfg.Payment, logger)
	if !gatewayService.IsConfigured() {
		logger.Warn("PAYMENT_GATEWAY_URL not set, payments redirect straight to the success page")
	}

	coordinator := services.NewBookingCoordinatorService(groupRepository, apartmentRepository, publisher, logger)
	groupService := services.NewRoommateGroupService(
		groupRepository,
		apartmentRepository,
		userRepository,
		rateLimitService,
		publisher,
		cfg.Booking,
		logger,
	)
	paymentService := services.NewPaymentService(paymentRepository, apartmentRepository, gatewayService, cfg.Booking, logger)
	reconciler := services.NewPaymentReconcilerService(paymentRepository, coordinator, publisher, logger)
	vacateService := services.NewVacateService(paymentRepository, apartmentRepository, publisher, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(paymentRepository, coordinator, cfg.Booking, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - payment expiry and group cleanup enabled")

	logger.Info("Services initialized")

	// Initialize handlers
	groupHandler := handlers.NewRoommateGroupHandler(groupService, coordinator, auditService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, reconciler, gatewayService, auditService, logger)
	vacateHandler := handlers.NewVacateHandler(vacateService, auditService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db, cronService))

	authMiddleware := middleware.AuthMiddleware(jwtService, logger)
	tenantOnly := middleware.RequireRole(models.RoleTenant)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Gateway confirmations and browser redirects (public)
		payments := v1.Group("/payments")
		{
			payments.POST("/callback", paymentHandler.GatewayCallback)
			payments.GET("/success", paymentHandler.PaymentSuccess)
			payments.POST("/success", paymentHandler.PaymentSuccess)
			payments.GET("/fail", paymentHandler.PaymentFailed)
			payments.POST("/fail", paymentHandler.PaymentFailed)
			payments.GET("/cancel", paymentHandler.PaymentFailed)
			payments.POST("/cancel", paymentHandler.PaymentFailed)

			tenantPayments := payments.Group("")
			tenantPayments.Use(authMiddleware, tenantOnly)
			{
				tenantPayments.POST("/initiate", paymentHandler.InitiatePayment)
				tenantPayments.GET("/transactions/:transaction_id", paymentHandler.GetPayment)
			}
		}

		// Roommate groups (tenant only)
		groups := v1.Group("/groups")
		groups.Use(authMiddleware, tenantOnly)
		{
			groups.POST("", groupHandler.CreateGroup)
			groups.POST("/join", groupHandler.JoinGroup)
			groups.GET("/invite/:code", groupHandler.GetGroupByInviteCode)
			groups.GET("/:id", groupHandler.GetGroup)
			groups.POST("/:id/leave", groupHandler.LeaveGroup)
			groups.POST("/:id/cancel", groupHandler.CancelGroup)
			groups.POST("/:id/book", groupHandler.BookApartment)
		}

		// Apartment views (any authenticated user)
		apartments := v1.Group("/apartments")
		apartments.Use(authMiddleware)
		{
			apartments.GET("/:id/groups", groupHandler.ListApartmentGroups)
		}

		// Tenant self-service
		tenants := v1.Group("/tenants/me")
		tenants.Use(authMiddleware, tenantOnly)
		{
			tenants.GET("/group-status", groupHandler.GetMyGroupStatus)
			tenants.GET("/booking-status", paymentHandler.GetMyBookingStatus)
		}

		v1.POST("/vacate", authMiddleware, tenantOnly, vacateHandler.Vacate)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping cron service...")
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"status":     c.Writer.Status(),
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler reports database reachability and the cron schedule
func healthCheckHandler(db database.DB, cronService *services.CronService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"cron":      cronService.GetJobStatus(),
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
