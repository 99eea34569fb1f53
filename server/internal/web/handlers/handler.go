package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/internal/auth/handoff"
	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/domain/services"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

// LoginCompleter resolves a finished provider login into an outcome
type LoginCompleter interface {
	Complete(ctx context.Context, req services.LoginRequest) identity.Outcome
}

// TokenIssuer issues the session token for a signed-in user
type TokenIssuer interface {
	GenerateToken(user *entities.User, provider string) (*auth.IssuedToken, error)
}

// Handler holds dependencies for all web handlers
type Handler struct {
	login          LoginCompleter
	users          *services.UserService
	tokens         TokenIssuer
	verifier       *handoff.Verifier
	brokerURL      string
	sessionManager *session.Manager
	health         repositories.HealthChecker
	trustedProxies []netip.Prefix
	log            *slog.Logger
}

// Deps groups the collaborators of Handler
type Deps struct {
	Login    LoginCompleter
	Users    *services.UserService
	Tokens   TokenIssuer
	Verifier *handoff.Verifier
	Sessions *session.Manager
	Health   repositories.HealthChecker // optional

	// BrokerURL is where /auth/login sends the browser to start a provider login
	BrokerURL string
	// TrustedProxies may set the client address through X-Forwarded-For
	TrustedProxies []netip.Prefix
}

// New creates a new handler with dependencies
func New(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		login:          deps.Login,
		users:          deps.Users,
		tokens:         deps.Tokens,
		verifier:       deps.Verifier,
		brokerURL:      deps.BrokerURL,
		sessionManager: deps.Sessions,
		health:         deps.Health,
		trustedProxies: deps.TrustedProxies,
		log:            logger.With(slog.String("component", "web_handler")),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
