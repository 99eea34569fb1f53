package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// carry copies the cookies set on rec onto a fresh request
func carry(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager(testKey, false)

	rec := httptest.NewRecorder()
	require.NoError(t, m.SetToken(httptest.NewRequest(http.MethodGet, "/", nil), rec, "tok", "tid"))

	token, err := m.GetToken(carry(rec))
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	clear := httptest.NewRecorder()
	require.NoError(t, m.ClearToken(carry(rec), clear))
	cookies := clear.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestGetTokenWithoutCookie(t *testing.T) {
	m := NewManager(testKey, false)
	_, err := m.GetToken(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, http.ErrNoCookie)
}

func TestAlertsAreConsumedOnce(t *testing.T) {
	m := NewManager(testKey, false)

	rec := httptest.NewRecorder()
	require.NoError(t, m.AddAlert(httptest.NewRequest(http.MethodGet, "/", nil), rec, AlertError, "nope"))

	read := httptest.NewRecorder()
	alerts, err := m.Alerts(carry(rec), read, AlertError)
	require.NoError(t, err)
	assert.Equal(t, []Alert{{Kind: AlertError, Message: "nope"}}, alerts)

	again, err := m.Alerts(carry(read), httptest.NewRecorder(), AlertError)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSecureFlag(t *testing.T) {
	m := NewManager(testKey, true)
	rec := httptest.NewRecorder()
	require.NoError(t, m.SetToken(httptest.NewRequest(http.MethodGet, "/", nil), rec, "tok", "tid"))
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

func TestLoginNonceIsSingleUse(t *testing.T) {
	m := NewManager(testKey, false)

	start := httptest.NewRecorder()
	nonce, err := m.StartLogin(httptest.NewRequest(http.MethodGet, "/auth/login", nil), start)
	require.NoError(t, err)
	assert.Len(t, nonce, 43)

	take := httptest.NewRecorder()
	got, err := m.TakeLoginNonce(carry(start), take)
	require.NoError(t, err)
	assert.Equal(t, nonce, got)

	again, err := m.TakeLoginNonce(carry(take), httptest.NewRecorder())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLoginNonceIsPerBrowser(t *testing.T) {
	m := NewManager(testKey, false)

	first := httptest.NewRecorder()
	a, err := m.StartLogin(httptest.NewRequest(http.MethodGet, "/auth/login", nil), first)
	require.NoError(t, err)
	second := httptest.NewRecorder()
	b, err := m.StartLogin(httptest.NewRequest(http.MethodGet, "/auth/login", nil), second)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	got, err := m.TakeLoginNonce(httptest.NewRequest(http.MethodGet, "/auth/callback", nil), httptest.NewRecorder())
	require.NoError(t, err)
	assert.Empty(t, got, "a browser without a session has no login in progress")
}
