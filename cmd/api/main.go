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
	"github.com/mabini-abc/portal/internal/auth"
	"github.com/mabini-abc/portal/internal/background"
	"github.com/mabini-abc/portal/internal/config"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/handlers"
	middlewareCustom "github.com/mabini-abc/portal/internal/middleware"
	"github.com/mabini-abc/portal/internal/models"
	"github.com/mabini-abc/portal/internal/repositories"
	"github.com/mabini-abc/portal/internal/routes"
	"github.com/mabini-abc/portal/internal/services"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
	pkglogger "github.com/mabini-abc/portal/pkg/logger"
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	resetRepo := repositories.NewResetRequestRepository(db)
	changeLogRepo := repositories.NewPasswordChangeLogRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	tracker := services.NewAttemptTracker(attemptRepo, services.AttemptPolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		BaseLockout:       cfg.Auth.BaseLockout,
	}, logger)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email notifications", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	authService := services.NewAuthService(accountRepo, tracker, logger, auditLogger)
	resetService := services.NewResetService(accountRepo, resetRepo, notifier, logger, auditLogger)
	auditService := services.NewAuditService(changeLogRepo, logger)

	sessions := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.SessionExpiry)
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "lax",
	}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, sessions, cookieConfig, logger),
		Reset:  handlers.NewResetHandler(resetService, ipConfig, logger),
		Audit:  handlers.NewAuditHandler(auditService, logger),
		Health: db,
	}, routes.Deps{
		Sessions:  sessions,
		Usability: authService,
		RateLimit: middlewareCustom.DefaultAuthRateLimit(cfg.Auth.LoginRequestsPerMin),
		IPConfig:  ipConfig,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start attempt cleanup task
	cleanupManager := background.NewCleanupManager(tracker, logger, cfg.Auth.CleanupInterval, cfg.Auth.AttemptRetention)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newNotifier returns the SES notifier when email is enabled, otherwise a no-op.
func newNotifier(cfg *config.Config, logger *slog.Logger) (services.ResetNotifier, error) {
	if !cfg.Email.Enabled {
		logger.Info("email notifications disabled")
		return services.NopNotifier{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifier, err := services.NewSESNotifier(ctx,
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.AdminAddress,
		cfg.Email.PortalURL,
		logger,
	)
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

// ensureAdminAccount creates the first administrator if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, accountRepo *repositories.AccountRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	_, err := accountRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	_, err = accountRepo.Create(ctx, &models.Account{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Role:              models.RoleAdmin,
		PasswordChangedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created successfully")
	return nil
}
