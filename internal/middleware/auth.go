package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campussite/campussite-go/internal/crypto"
	"github.com/campussite/campussite-go/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the acting user resolved from a validated access token.
type Identity struct {
	UserID string
	Role   model.Role
}

// TokenValidator validates an access token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*crypto.Claims, error)
}

// JWTAuth returns middleware that validates a Bearer token from the
// Authorization header. Missing and invalid tokens are logged apart but
// answered with the same 401 body.
func JWTAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r.Header.Get("Authorization"))
			if !present {
				logger.InfoContext(r.Context(), "request rejected", "reason", "missing_token", "path", r.URL.Path)
				writeUnauthorized(w)
				return
			}
			if token == "" {
				logger.InfoContext(r.Context(), "request rejected", "reason", "invalid_token", "path", r.URL.Path, "error", "malformed authorization header")
				writeUnauthorized(w)
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.InfoContext(r.Context(), "request rejected", "reason", "invalid_token", "path", r.URL.Path, "error", err)
				writeUnauthorized(w)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{UserID: claims.Subject, Role: claims.UserRole()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose role differs from role.
// It must run after JWTAuth.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}
			if id.Role != role {
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization header value.
// present is false when no token was sent (no header, or an empty Bearer
// value). An empty token with present true means another scheme was used.
func bearerToken(header string) (token string, present bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	scheme, value, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// WithIdentity stores the acting identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity from the request context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", "not authorized")
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
