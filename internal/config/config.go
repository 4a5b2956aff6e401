package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/campussite/campussite-go/internal/repository"
)

const devSecret = "dev-secret-change-in-production"

// Config holds the API server settings.
type Config struct {
	Port           string
	Env            string
	LogLevel       slog.Level
	DatabaseDriver string
	DatabaseDSN    string
	AutoMigrate    bool
	JWTSecret      string
	JWTExpiry      time.Duration
	JWTIssuer      string
	JWTAudience    string
	PasswordHash   string
	BcryptCost     int
	AllowedOrigins []string
	RateRPS        float64
	RateBurst      int
	TrustProxy     bool
}

// Load reads the server configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", repository.DriverMySQL),
		DatabaseDSN:    getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/campussite?parseTime=true"),
		JWTSecret:      getEnv("JWT_SECRET", devSecret),
		JWTIssuer:      getEnv("JWT_ISSUER", "campussite"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "campussite-api"),
		PasswordHash:   getEnv("PASSWORD_HASH", "bcrypt"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var errs []error
	var err error

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.AutoMigrate, err = strconv.ParseBool(getEnv("AUTO_MIGRATE", "true")); err != nil {
		errs = append(errs, fmt.Errorf("AUTO_MIGRATE: %w", err))
	}
	if cfg.JWTExpiry, err = time.ParseDuration(getEnv("JWT_EXPIRY", "1h")); err != nil {
		errs = append(errs, fmt.Errorf("JWT_EXPIRY: %w", err))
	}
	if cfg.BcryptCost, err = strconv.Atoi(getEnv("BCRYPT_COST", "10")); err != nil {
		errs = append(errs, fmt.Errorf("BCRYPT_COST: %w", err))
	}
	if cfg.RateRPS, err = strconv.ParseFloat(getEnv("AUTH_RATE_RPS", "5"), 64); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_RATE_RPS: %w", err))
	}
	if cfg.RateBurst, err = strconv.Atoi(getEnv("AUTH_RATE_BURST", "10")); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_RATE_BURST: %w", err))
	}

	if cfg.TrustProxy, err = strconv.ParseBool(getEnv("TRUST_PROXY", "false")); err != nil {
		errs = append(errs, fmt.Errorf("TRUST_PROXY: %w", err))
	}

	if cfg.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	}
	switch cfg.DatabaseDriver {
	case repository.DriverMySQL, repository.DriverPostgres, repository.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not one of %s, %s, %s", cfg.DatabaseDriver,
			repository.DriverMySQL, repository.DriverPostgres, repository.DriverMemory))
	}
	if !cfg.IsDevelopment() {
		if cfg.JWTSecret == devSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set outside development"))
		}
		if cfg.DatabaseDriver == repository.DriverMemory {
			errs = append(errs, errors.New("memory database driver is development only"))
		}
	}

	return cfg, errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ClientConfig holds the authctl settings.
type ClientConfig struct {
	BaseURL     string
	TokenFile   string
	HTTPTimeout time.Duration
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:   strings.TrimRight(getEnv("AUTH_API_BASE_URL", "http://localhost:8080"), "/"),
		TokenFile: os.Getenv("AUTH_TOKEN_FILE"),
	}

	timeout, err := time.ParseDuration(getEnv("AUTH_HTTP_TIMEOUT", "10s"))
	if err != nil {
		return cfg, fmt.Errorf("AUTH_HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	if cfg.TokenFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return cfg, fmt.Errorf("locate config dir: %w", err)
		}
		cfg.TokenFile = filepath.Join(dir, "campussite", "token")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
