package repositories

import (
	"context"
	"time"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// UserRepository covers account reads and the last-login bookkeeping done
// after a sign-in. Account creation belongs to identity.UnitOfWork.
type UserRepository interface {
	// GetByID returns the user with identities loaded
	GetByID(ctx context.Context, id string) (*entities.User, error)

	// GetByName matches the handle exactly
	GetByName(ctx context.Context, name string) (*entities.User, error)

	List(ctx context.Context, opts ListUsersOptions) ([]*entities.User, int64, error)

	UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error
}

// Sort keys accepted by ListUsersOptions.SortBy
const (
	SortByCreated   = "created_at"
	SortByName      = "name"
	SortByLastLogin = "last_login"
)

// ListUsersOptions filters and pages accounts
type ListUsersOptions struct {
	Limit  int
	Offset int

	Search     string // case-insensitive substring of name, display name or email
	LegacyOnly bool   // accounts with a legacy identity and nothing linked yet

	SortBy    string // one of the SortBy constants; created_at when empty or unknown
	SortOrder string // "asc", anything else is descending
}
