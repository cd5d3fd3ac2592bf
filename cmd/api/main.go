package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/background"
	"github.com/matchwell/gatekeeper/internal/config"
	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/handlers"
	middlewareCustom "github.com/matchwell/gatekeeper/internal/middleware"
	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/matchwell/gatekeeper/internal/repositories"
	"github.com/matchwell/gatekeeper/internal/routes"
	"github.com/matchwell/gatekeeper/internal/services"
	pkgauth "github.com/matchwell/gatekeeper/pkg/auth"
	pkghttp "github.com/matchwell/gatekeeper/pkg/http"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	subjectRepo := repositories.NewSubjectRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	blockRepo := repositories.NewBlockRepository(db)
	trustRepo := repositories.NewDeviceTrustRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Audit dual-write: slog plus the audit_logs table
	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)

	// Lockout policy and the services enforcing it
	lockoutConfig := services.LockoutConfig{
		ShortTermThreshold: cfg.Policy.ShortTermThreshold,
		ShortTermWindow:    cfg.Policy.ShortTermWindow,
		ShortTermBlock:     cfg.Policy.ShortTermBlock,
		DailyThreshold:     cfg.Policy.DailyThreshold,
		DailyWindow:        cfg.Policy.DailyWindow,
		DailyBlock:         cfg.Policy.DailyBlock,
	}
	lockoutPolicy := services.NewLockoutPolicy(lockoutConfig)
	ledgerService := services.NewLedgerService(attemptRepo, lockoutConfig, cfg.Policy.AttemptRetention, logger)
	blockService := services.NewBlockService(blockRepo, auditService, logger)
	trustService := services.NewDeviceTrustService(trustRepo, auditService, cfg.Trust.Duration, logger)

	sessionService := services.NewSessionService(sessionRepo, subjectRepo, services.SessionConfig{
		TTL:      cfg.Session.TTL,
		CacheTTL: cfg.Session.ValidationCacheTTL,
		CacheMax: cfg.Session.ValidationCacheMax,
	}, logger)

	// Second-factor machinery
	challengeManager := auth.NewChallengeManager(cfg.Session.ChallengeSecret, cfg.Session.ChallengeTTL)
	secondFactorManager, err := auth.NewSecondFactorManager([]byte(cfg.Trust.SecondFactorKey), cfg.Trust.SecondFactorIssuer)
	if err != nil {
		logger.Error("failed to initialize second factor manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Policy.TimingDelayBaseMs,
		RandomDelayMs: cfg.Policy.TimingDelayRandomMs,
	})

	// Security notifications (optional)
	var notify services.NotificationSink = services.NoopSink{}
	if cfg.Email.Enabled {
		sink, err := services.NewEmailSink(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email sink", slog.Any("error", err))
			os.Exit(1)
		}
		notify = sink
	}

	gate := services.NewAuthGate(services.AuthGateDeps{
		Ledger:       ledgerService,
		Policy:       lockoutPolicy,
		Blocks:       blockService,
		Trust:        trustService,
		Sessions:     sessionService,
		Verifier:     services.NewPasswordVerifier(subjectRepo, logger),
		Challenge:    challengeManager,
		SecondFactor: secondFactorManager,
		Subjects:     subjectRepo,
		Audit:        auditService,
		Notify:       notify,
		Timing:       timingDelay,
		Logger:       logger,
	})

	adminService := services.NewAdminService(blockService, trustService, auditService, subjectRepo, sessionService, secondFactorManager, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(gate, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)

	// Bootstrap first admin subject if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminSubject(ctx, subjectRepo, logger); err != nil {
		logger.Error("failed to ensure admin subject", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, sessionService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the retention sweeper
	sweeper := background.NewSweeper(attemptRepo, blockRepo, trustRepo, sessionRepo, logger, cfg.Policy.SweepInterval)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminSubject creates the first administrative subject if
// ADMIN_EMAIL and ADMIN_PASSWORD are set.
func ensureAdminSubject(ctx context.Context, subjectRepo *repositories.SubjectRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin bootstrap")
		return nil
	}

	_, err := subjectRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin subject already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check for existing admin: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.Subject{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Active:       true,
		Admin:        true,
	}

	if _, err := subjectRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin subject: %w", err)
	}

	logger.Info("admin subject created")
	return nil
}
