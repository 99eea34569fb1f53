package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/internal/auth/handoff"
	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/domain/services"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/infrastructure/database/memory"
	"github.com/devilmonastery/parley/server/internal/web/middleware"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

const (
	brokerSecret = "broker-secret"
	brokerIssuer = "test-broker"
	brokerURL    = "https://broker.test/start?app=parley"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type app struct {
	store  *memory.Store
	router *mux.Router
}

type deps func(*Deps)

func newApp(opts ...deps) *app {
	store := memory.NewStore()
	repos := store.Repositories()
	jwt := auth.NewJWTManager("signing-key", time.Hour)
	sessions := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), false)

	d := Deps{
		Login:    services.NewLoginService(identity.NewResolver(store), repos.Users, repos.Audit, discard),
		Users:    services.NewUserService(repos),
		Tokens:   jwt,
		Verifier: handoff.NewVerifier(brokerSecret, brokerIssuer),
		Sessions: sessions,
		Health:   store,

		BrokerURL: brokerURL,
	}
	for _, o := range opts {
		o(&d)
	}

	h := New(d, discard)
	mw := middleware.NewAuthMiddleware(sessions, jwt, discard)
	return &app{store: store, router: NewRouter(h, mw, discard)}
}

// browser replays cookies between requests the way a user agent would
type browser struct {
	t       *testing.T
	app     *app
	cookies map[string]*http.Cookie
}

func (a *app) browser(t *testing.T) *browser {
	return &browser{t: t, app: a, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	for _, c := range b.cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.app.router.ServeHTTP(rec, r)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

// clone copies the cookie jar, like a session cookie lifted from this browser
func (b *browser) clone() *browser {
	c := b.app.browser(b.t)
	for name, cookie := range b.cookies {
		c.cookies[name] = cookie
	}
	return c
}

// startLogin follows /auth/login and returns the nonce handed to the broker
func (b *browser) startLogin(provider string) string {
	rec := b.do(http.MethodGet, "/auth/login?provider="+url.QueryEscape(provider))
	require.Equal(b.t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(b.t, err)
	nonce := loc.Query().Get("nonce")
	require.NotEmpty(b.t, nonce)
	return nonce
}

// brokerHandoff is the callback URL the broker would send for a login started with nonce
func brokerHandoff(t *testing.T, a identity.Assertion, nonce string) string {
	token, err := handoff.Sign(brokerSecret, brokerIssuer, a, nonce, time.Now(), time.Minute)
	require.NoError(t, err)
	return "/auth/callback?token=" + url.QueryEscape(token)
}

func (b *browser) login(a identity.Assertion) *httptest.ResponseRecorder {
	nonce := b.startLogin(a.Provider)
	return b.do(http.MethodGet, brokerHandoff(b.t, a, nonce))
}

type home struct {
	User   *auth.UserContext `json:"user"`
	Alerts []session.Alert   `json:"alerts"`
}

func (b *browser) home() home {
	rec := b.do(http.MethodGet, "/")
	require.Equal(b.t, http.StatusOK, rec.Code)
	var h home
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &h))
	return h
}

func github(id string) identity.Assertion {
	return identity.Assertion{Provider: "github", ExternalID: id, DisplayName: "Grace Hopper", Email: "grace@example.com"}
}

func TestCallbackCreatesAccountAndSignsIn(t *testing.T) {
	a := newApp()
	b := a.browser(t)

	rec := b.login(github("100"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	h := b.home()
	require.NotNil(t, h.User)
	assert.Equal(t, "grace-hopper", h.User.Username)
	assert.Equal(t, "github", h.User.Provider)
	assert.Empty(t, h.Alerts)
	assert.Equal(t, 1, a.store.UserCount())
}

func TestLoginRedirectsToBroker(t *testing.T) {
	b := newApp().browser(t)

	rec := b.do(http.MethodGet, "/auth/login?provider=github")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "broker.test", loc.Host)
	assert.Equal(t, "/start", loc.Path)
	assert.Equal(t, "parley", loc.Query().Get("app"))
	assert.Equal(t, "github", loc.Query().Get("provider"))
	assert.Equal(t, "http://example.com/auth/callback", loc.Query().Get("redirect_uri"))
	first := loc.Query().Get("nonce")
	assert.NotEmpty(t, first)

	assert.NotEqual(t, first, b.startLogin("github"), "every login gets a new nonce")
}

func TestLoginRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		app     *app
		target  string
		message string
	}{
		{"no provider", newApp(), "/auth/login", "Unknown login provider."},
		{"odd provider", newApp(), "/auth/login?provider=" + url.QueryEscape("git hub/../x"), "Unknown login provider."},
		{
			"broker not configured",
			newApp(func(d *Deps) { d.BrokerURL = "" }),
			"/auth/login?provider=github",
			"Sign-in is not available right now.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.app.browser(t)
			rec := b.do(http.MethodGet, tt.target)
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/", rec.Header().Get("Location"))
			assert.Equal(t, []session.Alert{{Kind: session.AlertError, Message: tt.message}}, b.home().Alerts)
		})
	}
}

func TestCallbackRejectsHandoffStartedInAnotherBrowser(t *testing.T) {
	a := newApp()

	victim := a.browser(t)
	victim.login(github("victim"))
	victimID := victim.home().User.UserID

	// The attacker starts a login of their own and lures the victim to the callback link.
	attacker := a.browser(t)
	link := brokerHandoff(t, github("attacker"), attacker.startLogin("github"))

	for _, withPendingLogin := range []bool{false, true} {
		if withPendingLogin {
			victim.startLogin("github")
		}
		rec := victim.do(http.MethodGet, link)
		assert.Equal(t, http.StatusSeeOther, rec.Code)

		h := victim.home()
		require.NotNil(t, h.User)
		assert.Equal(t, victimID, h.User.UserID, "victim stays signed in as themselves")
		assert.Equal(t, []session.Alert{{
			Kind:    session.AlertError,
			Message: "We couldn't verify your login. Please try again.",
		}}, h.Alerts)
	}
	assert.Equal(t, 1, a.store.IdentityCount(), "attacker identity was not linked to the victim")

	// Redeemed from the browser that started it, the handoff yields the attacker's own account.
	attacker.do(http.MethodGet, link)
	h := attacker.home()
	require.NotNil(t, h.User)
	assert.NotEqual(t, victimID, h.User.UserID)
	assert.Equal(t, 2, a.store.UserCount())
}

func TestCallbackRejectsReplayedHandoff(t *testing.T) {
	a := newApp()
	b := a.browser(t)

	nonce := b.startLogin("github")
	lifted := b.clone()
	link := brokerHandoff(t, github("100"), nonce)

	b.do(http.MethodGet, link)
	h := b.home()
	require.NotNil(t, h.User)
	id := h.User.UserID

	// Same browser: the nonce was spent on the first use.
	b.do(http.MethodGet, link)
	h = b.home()
	require.Len(t, h.Alerts, 1)
	assert.Equal(t, "We couldn't verify your login. Please try again.", h.Alerts[0].Message)
	assert.Equal(t, id, h.User.UserID)

	// A copy of the session taken before the callback still carries the nonce,
	// but the token id has been redeemed.
	lifted.do(http.MethodGet, link)
	h = lifted.home()
	assert.Nil(t, h.User)
	require.Len(t, h.Alerts, 1)
	assert.Equal(t, "We couldn't verify your login. Please try again.", h.Alerts[0].Message)

	// A fresh browser never started a login.
	fresh := a.browser(t)
	fresh.do(http.MethodGet, link)
	h = fresh.home()
	assert.Nil(t, h.User)
	require.Len(t, h.Alerts, 1)

	assert.Equal(t, 1, a.store.UserCount())
	assert.Equal(t, id, b.home().User.UserID)
}

func TestCallbackReturningUserKeepsAccount(t *testing.T) {
	a := newApp()
	first := a.browser(t)
	first.login(github("100"))
	id := first.home().User.UserID

	second := a.browser(t)
	second.login(github("100"))
	assert.Equal(t, id, second.home().User.UserID)
	assert.Equal(t, 1, a.store.UserCount())
}

func TestCallbackLinksToSignedInUser(t *testing.T) {
	a := newApp()
	b := a.browser(t)
	b.login(github("100"))
	id := b.home().User.UserID

	b.login(identity.Assertion{Provider: "google", ExternalID: "g-7"})
	h := b.home()
	assert.Equal(t, id, h.User.UserID)
	assert.Equal(t, "google", h.User.Provider)
	assert.Equal(t, 1, a.store.UserCount())
	assert.Equal(t, 2, a.store.IdentityCount())
}

func TestCallbackRejectsIdentityOwnedByAnotherUser(t *testing.T) {
	a := newApp()
	other := a.browser(t)
	other.login(github("100"))

	b := a.browser(t)
	b.login(identity.Assertion{Provider: "twitter", ExternalID: "55"})
	id := b.home().User.UserID

	rec := b.login(github("100"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	h := b.home()
	require.NotNil(t, h.User)
	assert.Equal(t, id, h.User.UserID, "session unchanged")
	assert.Equal(t, []session.Alert{{
		Kind:    session.AlertError,
		Message: "This github account has already been linked to another user.",
	}}, h.Alerts)
	assert.Equal(t, 2, a.store.IdentityCount())

	assert.Empty(t, b.home().Alerts, "alerts are shown once")
}

func TestCallbackProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		message string
	}{
		{
			name:    "broker error",
			target:  "/auth/callback?error=" + url.QueryEscape("You denied access.") + "&provider=github",
			message: "You denied access.",
		},
		{
			name:    "forged token",
			target:  "/auth/callback?token=not-a-jwt",
			message: "We couldn't verify your login. Please try again.",
		},
		{
			name:    "missing token",
			target:  "/auth/callback",
			message: "The login provider did not return an identity.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp()
			b := a.browser(t)

			rec := b.do(http.MethodGet, tt.target)
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/", rec.Header().Get("Location"))

			h := b.home()
			assert.Nil(t, h.User)
			assert.Equal(t, []session.Alert{{Kind: session.AlertError, Message: tt.message}}, h.Alerts)
			assert.Zero(t, a.store.UserCount())
		})
	}
}

type failingLogin struct{}

func (failingLogin) Complete(context.Context, services.LoginRequest) identity.Outcome {
	return identity.Outcome{
		Kind:    identity.StoreFailure,
		Message: "We couldn't complete your login right now. Please try again.",
		Err:     errors.New("connection refused"),
	}
}

func TestCallbackStoreFailureAlerts(t *testing.T) {
	a := newApp(func(d *Deps) { d.Login = failingLogin{} })
	b := a.browser(t)

	b.login(github("100"))
	h := b.home()
	assert.Nil(t, h.User)
	require.Len(t, h.Alerts, 1)
	assert.Equal(t, "We couldn't complete your login right now. Please try again.", h.Alerts[0].Message)
}

func TestLogout(t *testing.T) {
	a := newApp()
	b := a.browser(t)
	b.login(github("100"))
	id := b.home().User.UserID

	rec := b.do(http.MethodPost, "/logout")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Nil(t, b.home().User)

	logs, _, err := a.store.Repositories().Audit.ListByUser(context.Background(), id, repositories.ListAuditLogsOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.ActionUserLogout, logs[0].Action)
}

func TestAccount(t *testing.T) {
	a := newApp()
	b := a.browser(t)

	rec := b.do(http.MethodGet, "/account")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	b.login(github("100"))
	b.login(identity.Assertion{Provider: "facebook", ExternalID: "fb-1"})

	rec = b.do(http.MethodGet, "/account")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		User           entities.User       `json:"user"`
		RecentActivity []entities.AuditLog `json:"recent_activity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.User.HasIdentity("github", "100"))
	assert.True(t, resp.User.HasIdentity("facebook", "fb-1"))
	assert.NotEmpty(t, resp.RecentActivity)
}

type downChecker struct{}

func (downChecker) HealthCheck(context.Context) error { return errors.New("db down") }

func TestHealth(t *testing.T) {
	rec := newApp().browser(t).do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = newApp(func(d *Deps) { d.Health = downChecker{} }).browser(t).do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newApp()
	b := a.browser(t)
	b.login(github("100"))

	rec := b.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parley_identity_resolutions_total")
	assert.Contains(t, rec.Body.String(), "parley_http_requests_total")
}
