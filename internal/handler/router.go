package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/campussite/campussite-go/internal/middleware"
	"github.com/campussite/campussite-go/internal/model"
	"github.com/campussite/campussite-go/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions wires the HTTP surface.
type RouterOptions struct {
	Auth           *service.AuthService
	Tokens         middleware.TokenValidator
	Logger         *slog.Logger
	AllowedOrigins []string
	RateRPS        float64
	RateBurst      int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers; the rate
	// limiter keys on that address.
	TrustProxy bool
}

// NewRouter builds the HTTP handler. ctx bounds background work started by
// middleware, such as the rate limiter janitor.
func NewRouter(ctx context.Context, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	authHandler := NewAuthHandler(opts.Auth, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.RateRPS > 0 {
				r.Use(middleware.RateLimit(ctx, opts.RateRPS, opts.RateBurst))
			}
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/login", authHandler.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(opts.Tokens, logger))
			r.Get("/auth/me", authHandler.HandleMe)

			r.With(middleware.RequireRole(model.RoleAdmin)).Get("/admin/users", authHandler.HandleListUsers)
		})
	})

	return r
}
