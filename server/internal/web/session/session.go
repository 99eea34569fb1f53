package session

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "parley_session"

	// TokenKey is the session key for storing the session JWT
	TokenKey = "token"

	// TokenIDKey is the session key for storing the token ID
	TokenIDKey = "token_id"

	// LoginNonceKey is the session key for the nonce of the login in progress
	LoginNonceKey = "login_nonce"

	// AlertError is the flash key for failed sign-in messages
	AlertError = "error"
)

var errNoEntropy = errors.New("session: could not generate login nonce")

// Alert is a one-shot message shown on the next page render
type Alert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Manager wraps gorilla/sessions for our use case
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a new session manager.
// secretKey should be 32 bytes for AES-256
func NewManager(secretKey []byte, secure bool) *Manager {
	store := sessions.NewCookieStore(secretKey)

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		store: store,
	}
}

func (m *Manager) get(r *http.Request) *sessions.Session {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		// Undecodable cookie (rotated key, tampering): start over
		session, _ = m.store.New(r, SessionName)
	}
	return session
}

// SetToken stores the session token and token ID
func (m *Manager) SetToken(r *http.Request, w http.ResponseWriter, token, tokenID string) error {
	session := m.get(r)
	session.Values[TokenKey] = token
	session.Values[TokenIDKey] = tokenID
	return session.Save(r, w)
}

// GetToken retrieves the session token
func (m *Manager) GetToken(r *http.Request) (string, error) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return "", err
	}

	token, ok := session.Values[TokenKey].(string)
	if !ok || token == "" {
		return "", http.ErrNoCookie
	}

	return token, nil
}

// ClearToken removes the session (logout)
func (m *Manager) ClearToken(r *http.Request, w http.ResponseWriter) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return nil // nothing to clear
	}

	delete(session.Values, TokenKey)
	delete(session.Values, TokenIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// StartLogin stores a fresh random nonce for a login that is about to be handed
// to the broker and returns it. Starting again replaces the previous nonce.
func (m *Manager) StartLogin(r *http.Request, w http.ResponseWriter) (string, error) {
	raw := securecookie.GenerateRandomKey(32)
	if raw == nil {
		return "", errNoEntropy
	}
	nonce := base64.RawURLEncoding.EncodeToString(raw)

	session := m.get(r)
	session.Values[LoginNonceKey] = nonce
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return nonce, nil
}

// TakeLoginNonce returns the nonce stored by StartLogin and removes it, so each
// nonce completes at most one login. It returns "" when no login is in progress.
func (m *Manager) TakeLoginNonce(r *http.Request, w http.ResponseWriter) (string, error) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return "", nil
	}

	nonce, _ := session.Values[LoginNonceKey].(string)
	if nonce == "" {
		return "", nil
	}
	delete(session.Values, LoginNonceKey)
	return nonce, session.Save(r, w)
}

// AddAlert queues a flash message for the next render
func (m *Manager) AddAlert(r *http.Request, w http.ResponseWriter, kind, message string) error {
	session := m.get(r)
	session.AddFlash(message, kind)
	return session.Save(r, w)
}

// Alerts consumes every queued flash message of the given kinds
func (m *Manager) Alerts(r *http.Request, w http.ResponseWriter, kinds ...string) ([]Alert, error) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return nil, nil
	}

	var alerts []Alert
	for _, kind := range kinds {
		for _, f := range session.Flashes(kind) {
			if msg, ok := f.(string); ok {
				alerts = append(alerts, Alert{Kind: kind, Message: msg})
			}
		}
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return alerts, session.Save(r, w)
}
