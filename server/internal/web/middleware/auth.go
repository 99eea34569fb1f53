package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

// TokenValidator validates session tokens issued at sign-in
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// AuthMiddleware resolves the session cookie into a signed-in user
type AuthMiddleware struct {
	sessionManager *session.Manager
	validator      TokenValidator
	log            *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(sessionManager *session.Manager, validator TokenValidator, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessionManager: sessionManager,
		validator:      validator,
		log:            logger.With(slog.String("component", "web_auth")),
	}
}

// LoadSession attaches the signed-in user to the request context when the
// session carries a valid token. Anonymous requests pass through unchanged.
func (m *AuthMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.sessionManager.GetToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			if !errors.Is(err, auth.ErrExpiredToken) {
				m.log.Warn("discarding invalid session token", slog.String("error", err.Error()))
			}
			if err := m.sessionManager.ClearToken(r, w); err != nil {
				m.log.Error("error clearing session", slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.SetUserInContext(r.Context(), auth.FromClaims(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests that have no signed-in user
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.GetUserFromContext(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
