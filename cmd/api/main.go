package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/background"
	"github.com/BradenHooton/sessioncore/internal/config"
	"github.com/BradenHooton/sessioncore/internal/database"
	"github.com/BradenHooton/sessioncore/internal/geo"
	"github.com/BradenHooton/sessioncore/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sessioncore/internal/middleware"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	"github.com/BradenHooton/sessioncore/internal/repositories"
	"github.com/BradenHooton/sessioncore/internal/routes"
	"github.com/BradenHooton/sessioncore/internal/services"
	pkgauth "github.com/BradenHooton/sessioncore/pkg/auth"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// storage is what the services and the sweep need from either backend.
type storage struct {
	accounts services.AccountRepository
	ledger   interface {
		auth.CSRFLedger
		background.ExpiredTokenStore
	}
	health func(ctx context.Context) error
	close  func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env), slog.String("storage", cfg.Storage))

	ctx := context.Background()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.close()

	// Realtime directory and metrics
	directory := realtime.NewDirectory(logger)
	registry := prometheus.NewRegistry()
	metrics, err := middlewareCustom.NewMetrics(middlewareCustom.MetricsOptions{
		Registerer:  registry,
		Connections: directory.Connections,
	})
	if err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Tokens, CSRF and the session guard
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTRefreshSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	csrfGenerator := auth.NewCSRFGenerator(cfg.Auth.JWTSecret, cfg.Auth.CSRFTokenTTL)
	cookies := auth.NewCookieConfig(cfg.Auth.CookieDomain, cfg.Server.IsProduction())
	issuer := auth.NewSessionIssuer(tokenManager, csrfGenerator, store.accounts, store.ledger, cookies, cfg.Auth.CookieMaxAge)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	guard := auth.NewSessionGuard(issuer, store.accounts, store.ledger, auth.GuardConfig{
		RotateThreshold: cfg.Auth.CSRFRotateThreshold,
		IPConfig:        ipConfig,
	}, metrics, logger)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("failed to initialize totp", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	auditLogger := pkglogger.NewAuditLogger(logger)

	authService := services.NewAuthService(services.AuthDeps{
		Accounts: store.accounts,
		Issuer:   issuer,
		TOTP:     totpManager,
		Locator:  newLocator(cfg.Geo, logger),
		Mailer:   newMailer(ctx, cfg.Email, logger),
		Events:   directory,
		Observer: metrics,
		Delay:    auth.NewFailureDelay(250*time.Millisecond, 100*time.Millisecond),
	}, services.AuthConfig{
		MaxDevices:      cfg.Auth.MaxDevices,
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		LockoutDuration: cfg.Auth.LockoutDuration,
	}, logger, auditLogger)
	sessionService := services.NewSessionService(store.accounts, store.ledger, directory, logger, auditLogger)

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureAdminAccount(bootCtx, store.accounts, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(metrics.Handler)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)

	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:           handlers.NewAuthHandler(authService, issuer, guard, ipConfig, logger),
		Sessions:       handlers.NewSessionHandler(sessionService, issuer),
		Guard:          guard,
		Gateway:        realtime.NewGateway(logger, directory, realtime.DefaultGatewayConfig(cfg.Server.AllowedOrigins)),
		LoginRateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.LoginRateLimit},
		UserRateLimit:  middlewareCustom.RateLimitConfig{RequestsPerMinute: 120},
		RequestTimeout: 60 * time.Second,
	})

	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.health(r.Context()); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "storage": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"storage":     cfg.Storage,
			"connections": directory.Connections(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// CSRF sweep
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	cleanupManager := background.NewCleanupManager(store.ledger, metrics, logger, cfg.Auth.CleanupInterval)
	go cleanupManager.Start(sweepCtx)

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
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			accounts: repositories.NewMemoryAccountRepository(),
			ledger:   repositories.NewMemoryCSRFLedger(),
			health:   func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db.Pool, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &storage{
		accounts: repositories.NewAccountRepository(db),
		ledger:   repositories.NewCSRFTokenRepository(db),
		health:   db.Ping,
		close:    db.Close,
	}, nil
}

func newLocator(cfg config.GeoConfig, logger *slog.Logger) geo.Locator {
	if cfg.LookupURL == "" {
		return geo.StaticLocator{}
	}
	return geo.NewHTTPLocator(cfg.LookupURL, cfg.Timeout, logger)
}

func newMailer(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) services.Mailer {
	if !cfg.Enabled {
		return services.NewLogMailer(logger)
	}
	mailer, err := services.NewSESMailer(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize SES mailer, alerts will only be logged", slog.Any("error", err))
		return services.NewLogMailer(logger)
	}
	return mailer
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ensureAdminAccount creates the first admin when ADMIN_USERNAME, ADMIN_EMAIL
// and ADMIN_PASSWORD are set.
func ensureAdminAccount(ctx context.Context, accounts services.AccountRepository, logger *slog.Logger) error {
	username := strings.ToLower(os.Getenv("ADMIN_USERNAME"))
	email := strings.ToLower(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || email == "" || password == "" {
		logger.Info("admin bootstrap not configured, skipping")
		return nil
	}

	_, err := accounts.GetByIdentifier(ctx, email)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &models.Account{
		ID:           uuid.NewString(),
		Name:         "Admin",
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := accounts.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created", pkglogger.EmailAttr(email))
	return nil
}
