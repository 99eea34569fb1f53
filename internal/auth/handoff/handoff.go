// Package handoff verifies the signed token the authentication broker sends back
// after it has completed a provider login.
package handoff

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
)

var ErrInvalidHandoff = errors.New("invalid login handoff")

// MaxAge bounds how old a handoff token may be, whatever its exp claim says
const MaxAge = 5 * time.Minute

// Claims is the payload of a handoff token. Subject carries the provider-scoped user id,
// Nonce echoes the value the login-initiating browser was given and ID is single use.
type Claims struct {
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Verifier checks handoff tokens signed by the broker with a shared HMAC secret
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time

	mu   sync.Mutex
	used map[string]time.Time
}

// NewVerifier creates a verifier for tokens issued by issuer
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		used:   make(map[string]time.Time),
	}
}

// Verify checks the token and returns the assertion it carries. nonce is the value
// stored in the browser session when the login started; a token minted for another
// browser, or one already redeemed, is rejected.
func (v *Verifier) Verify(token, nonce string) (*identity.Assertion, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no broker secret configured", ErrInvalidHandoff)
	}
	if nonce == "" {
		return nil, fmt.Errorf("%w: no login in progress", ErrInvalidHandoff)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandoff, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidHandoff
	}

	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > MaxAge {
		return nil, fmt.Errorf("%w: token issued too long ago", ErrInvalidHandoff)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		return nil, fmt.Errorf("%w: nonce does not match this browser", ErrInvalidHandoff)
	}

	provider := strings.ToLower(strings.TrimSpace(claims.Provider))
	if provider == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: provider and subject are required", ErrInvalidHandoff)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token id is required", ErrInvalidHandoff)
	}
	if !v.redeem(claims.ID) {
		return nil, fmt.Errorf("%w: token already used", ErrInvalidHandoff)
	}

	return &identity.Assertion{
		Provider:    provider,
		ExternalID:  claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

// redeem marks a token id as used. Ids are remembered for MaxAge, past which
// the iat check rejects the token anyway.
func (v *Verifier) redeem(id string) bool {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	for jti, at := range v.used {
		if now.Sub(at) > MaxAge {
			delete(v.used, jti)
		}
	}
	if _, seen := v.used[id]; seen {
		return false
	}
	v.used[id] = now
	return true
}

// Result maps the broker's callback parameters to a login result. A non-empty
// brokerErr wins; a token that fails verification is reported as a provider failure.
func (v *Verifier) Result(token, brokerErr, nonce string) identity.Result {
	if brokerErr != "" {
		return identity.Failed(brokerErr)
	}
	if token == "" {
		return identity.Failed("The login provider did not return an identity.")
	}
	a, err := v.Verify(token, nonce)
	if err != nil {
		return identity.Failed("We couldn't verify your login. Please try again.")
	}
	return identity.Succeeded(*a)
}

// Sign creates a handoff token bound to nonce with a fresh token id. The broker
// side uses it; so do tests and the dev tooling.
func Sign(secret, issuer string, a identity.Assertion, nonce string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Provider: a.Provider,
		Email:    a.Email,
		Name:     a.DisplayName,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        idgen.GenerateID(),
			Subject:   a.ExternalID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
