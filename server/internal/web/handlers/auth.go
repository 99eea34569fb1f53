package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/internal/domain/services"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/server/internal/web/middleware"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

// homePath is where every login attempt lands, successful or not
const homePath = "/"

var providerName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Login starts a provider login. It binds a fresh nonce to this browser's session
// and sends the browser to the broker, which must echo the nonce in its handoff.
//
//	GET /auth/login?provider=github
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if !providerName.MatchString(provider) {
		h.alertAndRedirect(w, r, "Unknown login provider.")
		return
	}

	target, err := url.Parse(h.brokerURL)
	if err != nil || h.brokerURL == "" {
		h.log.Error("login broker not configured", slog.String("broker_url", h.brokerURL))
		h.alertAndRedirect(w, r, "Sign-in is not available right now.")
		return
	}

	nonce, err := h.sessionManager.StartLogin(r, w)
	if err != nil {
		h.log.Error("failed to start login", slog.String("error", err.Error()))
		h.alertAndRedirect(w, r, "We couldn't start your login. Please try again.")
		return
	}

	q := target.Query()
	q.Set("provider", provider)
	q.Set("nonce", nonce)
	q.Set("redirect_uri", callbackURL(r))
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func callbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: r.Host, Path: "/auth/callback"}).String()
}

// AuthCallback completes a login handed over by the authentication broker.
// The broker redirects here with either ?token=<handoff> or ?error=<message>&provider=<name>.
// The handoff is only accepted by the browser that started the login, once.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := query.Get("token")
	brokerErr := query.Get("error")

	if brokerErr != "" {
		h.log.Warn("broker reported login failure",
			slog.String("provider", query.Get("provider")),
			slog.String("error", brokerErr))
	}

	nonce, err := h.sessionManager.TakeLoginNonce(r, w)
	if err != nil {
		h.log.Warn("failed to clear login nonce", slog.String("error", err.Error()))
	}

	result := h.verifier.Result(token, brokerErr, nonce)
	if result.Err != nil && brokerErr == "" && token != "" {
		h.log.Warn("rejected login handoff",
			slog.Bool("login_in_progress", nonce != ""),
			slog.String("client_ip", middleware.ClientIP(r)))
	}

	out := h.login.Complete(r.Context(), services.LoginRequest{
		Result:        result,
		SessionUserID: auth.SessionUserID(r.Context()),
		IPAddress:     middleware.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})

	if !out.Kind.SignsIn() {
		h.alertAndRedirect(w, r, out.Message)
		return
	}

	if err := h.signIn(w, r, out); err != nil {
		h.log.Error("failed to issue session",
			slog.String("user_id", out.User.ID),
			slog.String("error", err.Error()))
		h.alertAndRedirect(w, r, "We couldn't complete your login right now. Please try again.")
		return
	}

	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// signIn issues a session token for the outcome's user and stores it in the cookie
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, out identity.Outcome) error {
	issued, err := h.tokens.GenerateToken(out.User, out.Provider)
	if err != nil {
		return err
	}
	return h.sessionManager.SetToken(r, w, issued.Token, issued.TokenID)
}

func (h *Handler) alertAndRedirect(w http.ResponseWriter, r *http.Request, message string) {
	if err := h.sessionManager.AddAlert(r, w, session.AlertError, message); err != nil {
		h.log.Error("failed to save alert", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// Logout handles user logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if user, err := auth.GetUserFromContext(r.Context()); err == nil {
		if err := h.users.RecordLogout(r.Context(), user.UserID, middleware.ClientIP(r), r.UserAgent()); err != nil {
			h.log.Warn("failed to audit logout", slog.String("error", err.Error()))
		}
	}

	if err := h.sessionManager.ClearToken(r, w); err != nil {
		h.log.Error("error clearing session", slog.String("error", err.Error()))
	}

	http.Redirect(w, r, homePath, http.StatusSeeOther)
}
