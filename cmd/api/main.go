package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campussite/campussite-go/internal/config"
	"github.com/campussite/campussite-go/internal/crypto"
	"github.com/campussite/campussite-go/internal/handler"
	"github.com/campussite/campussite-go/internal/repository"
	"github.com/campussite/campussite-go/internal/service"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open user store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	hasher, err := crypto.NewHasher(cfg.PasswordHash, cfg.BcryptCost)
	if err != nil {
		logger.Error("password hasher", "error", err)
		os.Exit(1)
	}
	tokens := crypto.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry, cfg.JWTIssuer, cfg.JWTAudience)
	authService, err := service.NewAuthService(users, hasher, tokens, logger)
	if err != nil {
		logger.Error("auth service", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handler.NewRouter(ctx, handler.RouterOptions{
			Auth:           authService,
			Tokens:         tokens,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
			RateRPS:        cfg.RateRPS,
			RateBurst:      cfg.RateBurst,
			TrustProxy:     cfg.TrustProxy,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.UserStore, func(), error) {
	if cfg.DatabaseDriver == repository.DriverMemory {
		logger.Warn("using in-memory user store, data is lost on restart")
		return repository.NewMemoryUserRepository(), func() {}, nil
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database migrated", "driver", cfg.DatabaseDriver)
	}

	return repository.NewUserRepository(db, cfg.DatabaseDriver), func() { db.Close() }, nil
}
