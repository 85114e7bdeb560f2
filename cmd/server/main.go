package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/careline/careline-api/internal/config"
	"github.com/careline/careline-api/internal/handler"
	"github.com/careline/careline-api/internal/middleware"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/repository"
	"github.com/careline/careline-api/internal/security"
	"github.com/careline/careline-api/internal/service"
	"github.com/careline/careline-api/internal/ws"
	"github.com/careline/careline-api/migrations"
	"github.com/careline/careline-api/pkg/auth"
	"github.com/careline/careline-api/pkg/convai"
	"github.com/careline/careline-api/pkg/mailer"
	"github.com/careline/careline-api/pkg/push"
)

// @title           CareLine API
// @version         1.0
// @description     Device pairing and call-session orchestration for the CareLine elder-care platform.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.email  support@careline.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	rollback := flag.Bool("rollback", false, "revert the last database migration and exit")
	flag.Parse()

	// ==================== Load Config ====================
	cfg := config.Load()

	if *rollback {
		if err := migrations.Rollback(cfg.DB.URL()); err != nil {
			log.Fatalf("❌ Rollback failed: %v", err)
		}
		return
	}

	log.Printf("🚀 Starting CareLine API Server [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		if err := db.AutoMigrate(
			&model.Household{},
			&model.HouseholdMember{},
			&model.Relative{},
			&model.PairingCredential{},
			&model.RelativeDevice{},
			&model.CallSession{},
		); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Email (SMTP / Mailpit) ====================
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	log.Printf("📧 SMTP configured: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)

	// ==================== Initialize Layers ====================
	// JWT Manager
	familyExpiry, err := time.ParseDuration(cfg.JWT.FamilyExpiry)
	if err != nil {
		log.Fatalf("❌ Invalid JWT_FAMILY_EXPIRY: %v", err)
	}
	deviceExpiry, err := time.ParseDuration(cfg.JWT.DeviceExpiry)
	if err != nil {
		log.Fatalf("❌ Invalid JWT_DEVICE_EXPIRY: %v", err)
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, familyExpiry, deviceExpiry)

	// Repositories
	householdRepo := repository.NewHouseholdRepository(db)
	pairingRepo := repository.NewPairingRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	// Security gate (Redis-backed sliding window rate limiter)
	rateWindow := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	gate := security.NewGate(
		cfg.CORS.AllowedOrigins,
		security.NewRedisLimiter(rdb, rateWindow),
		cfg.RateLimit.PerWindow,
		householdRepo,
	)

	// Push backends
	var fcmBackend, apnsBackend push.Backend
	if b, err := push.NewFCMBackend(cfg.FCM); err != nil {
		log.Fatalf("❌ Failed to initialize FCM backend: %v", err)
	} else if b != nil {
		fcmBackend = b
	}
	if b, err := push.NewAPNsBackend(cfg.APNs); err != nil {
		log.Fatalf("❌ Failed to initialize APNs backend: %v", err)
	} else if b != nil {
		apnsBackend = b
	}
	dispatcher := push.NewDispatcher(fcmBackend, apnsBackend)

	// Conversation token broker
	voiceClient := convai.NewClient(cfg.Voice)

	// WebSocket Hub (with Redis Pub/Sub for horizontal scaling)
	hub := ws.NewHub(rdb)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Services
	pairingService := service.NewPairingService(
		pairingRepo, deviceRepo, householdRepo,
		gate, jwtManager, mailClient, hub,
		time.Duration(cfg.Pairing.TTLSeconds)*time.Second,
	)
	callService := service.NewCallService(
		sessionRepo, deviceRepo, householdRepo,
		voiceClient, dispatcher, gate, hub,
		time.Duration(cfg.Call.SessionTimeoutSeconds)*time.Second,
	)

	// Background reconciler for stuck sessions
	reconcilerCtx, reconcilerCancel := context.WithCancel(context.Background())
	defer reconcilerCancel()
	go callService.RunReconciler(reconcilerCtx, time.Duration(cfg.Call.ReconcileIntervalSeconds)*time.Second)

	// Handlers
	pairingHandler := handler.NewPairingHandler(pairingService)
	callHandler := handler.NewCallHandler(callService)
	wsHandler := handler.NewWSHandler(hub, jwtManager, gate)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Swagger configuration
	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "careline-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	{
		// Claim is public: the device has no token yet, so the gate
		// keys its rate limit off the request fingerprint
		api.POST("/pairing/claim", middleware.GateMiddleware(gate), pairingHandler.Claim)

		// Protected routes (family JWT or device JWT). The gate runs
		// after auth so rate limits key off the caller identity.
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(jwtManager), middleware.GateMiddleware(gate))
		{
			// Pairing
			protected.POST("/pairing/issue", pairingHandler.Issue)
			protected.PUT("/devices/push-tokens", pairingHandler.RegisterPushTokens)

			// Calls
			protected.POST("/calls", callHandler.StartCall)
			protected.POST("/calls/:id/ringing", callHandler.MarkRinging)
			protected.POST("/calls/:id/conversation", callHandler.AttachConversation)
			protected.POST("/calls/:id/active", callHandler.MarkActive)
			protected.POST("/calls/:id/outcome", callHandler.ReportOutcome)
			protected.PUT("/calls/:id/summary", callHandler.AttachSummary)
			protected.GET("/households/:household_id/calls", callHandler.ListSessions)
		}
	}

	// WebSocket endpoint (auth via query parameter)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 CareLine API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("🔌 WebSocket: ws://0.0.0.0:%s/ws?token=<jwt>&household_id=<uuid>", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	reconcilerCancel()
	hubCancel()
	log.Println("✅ Server exited gracefully")
}
