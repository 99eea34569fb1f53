package auth

import (
	"context"
	"errors"
)

var ErrUnauthorized = errors.New("unauthorized")

// UserContext contains the signed-in user taken from a validated session token
type UserContext struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider,omitempty"`
	TokenID     string `json:"-"`
}

// FromClaims builds a UserContext from validated claims
func FromClaims(c *Claims) *UserContext {
	return &UserContext{
		UserID:      c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Provider:    c.Provider,
		TokenID:     c.TokenID,
	}
}

type contextKey string

const userContextKey contextKey = "user"

// GetUserFromContext extracts the signed-in user from the context
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// SetUserInContext stores the signed-in user in the context
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// SessionUserID returns the signed-in user's id, or "" when nobody is signed in
func SessionUserID(ctx context.Context) string {
	user, err := GetUserFromContext(ctx)
	if err != nil {
		return ""
	}
	return user.UserID
}
