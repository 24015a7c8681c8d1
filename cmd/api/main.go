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
	"github.com/go-redis/redis/v8"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/config"
	"github.com/oursfolio/oursfolio/internal/database"
	"github.com/oursfolio/oursfolio/internal/handlers"
	middlewareCustom "github.com/oursfolio/oursfolio/internal/middleware"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/repositories"
	"github.com/oursfolio/oursfolio/internal/routes"
	"github.com/oursfolio/oursfolio/internal/services"
	"github.com/oursfolio/oursfolio/internal/tasks"
	pkgauth "github.com/oursfolio/oursfolio/pkg/auth"
	pkghttp "github.com/oursfolio/oursfolio/pkg/http"
	pkglogger "github.com/oursfolio/oursfolio/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	historyRepo := repositories.NewLoginHistoryRepository(db)

	// Token and TOTP managers
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Redis task queue (security alerts, daily report)
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis URL", slog.Any("error", err))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	taskQueue := tasks.NewQueue(redisClient, cfg.Redis.QueueName)

	lockoutPolicy := auth.LockoutPolicy{
		Threshold: cfg.Security.LockoutThreshold,
		Duration:  cfg.Security.LockoutDuration,
	}

	// Services
	authService := services.NewAuthService(
		accountRepo,
		historyRepo,
		lockoutPolicy,
		tokenManager,
		totpManager,
		taskQueue,
		cfg.Security.OpDeadline,
		logger,
		auditLogger,
	)
	twoFactorService := services.NewTwoFactorService(accountRepo, historyRepo, totpManager, logger, auditLogger)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService)

	// Bootstrap first account if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureBootstrapAccount(bootCtx, accountRepo, taskQueue, logger); err != nil {
		logger.Error("failed to ensure bootstrap account", slog.Any("error", err))
	}
	bootCancel()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, twoFactorHandler, tokenManager)

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

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureBootstrapAccount creates the first account if BOOTSTRAP_EMAIL and
// BOOTSTRAP_PASSWORD are set. There is no public registration endpoint.
func ensureBootstrapAccount(ctx context.Context, accountRepo *repositories.AccountRepository, queue *tasks.Queue, logger *slog.Logger) error {
	email := os.Getenv("BOOTSTRAP_EMAIL")
	password := os.Getenv("BOOTSTRAP_PASSWORD")

	if email == "" || password == "" {
		logger.Info("no BOOTSTRAP_EMAIL or BOOTSTRAP_PASSWORD set, skipping account bootstrap")
		return nil
	}

	_, err := accountRepo.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("bootstrap account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check for bootstrap account: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	created, err := accountRepo.Create(ctx, &models.Account{
		Email:        email,
		PasswordHash: hashedPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap account: %w", err)
	}

	// Greeting is secondary; the account stands either way
	if err := queue.Enqueue(ctx, tasks.TypeWelcomeEmail, tasks.WelcomeEmailPayload{
		AccountID: created.ID,
		Email:     created.Email,
	}); err != nil {
		logger.Error("failed to enqueue welcome email", slog.Any("error", err))
	}

	logger.Info("bootstrap account created")
	return nil
}
