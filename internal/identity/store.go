package identity

import (
	"context"
	"errors"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// ErrConflict is returned by an AccountStore when a (provider, external id) pair is
// already bound to an account, typically because a concurrent login got there first.
var ErrConflict = errors.New("identity is already bound to an account")

// AccountStore is a single unit of work over user accounts. Lookups return (nil, nil)
// when nothing matches. Writes become visible to other units only after Commit.
type AccountStore interface {
	// FindByIdentity returns the user holding the (provider, externalID) identity
	FindByIdentity(ctx context.Context, provider, externalID string) (*entities.User, error)

	// FindByID returns the user with the given id
	FindByID(ctx context.Context, userID string) (*entities.User, error)

	// FindByLegacyIdentity returns the account created under the single-identity scheme
	FindByLegacyIdentity(ctx context.Context, legacyKey string) (*entities.User, error)

	// CreateUser creates an account holding exactly one identity.
	// Fails with ErrConflict if the identity is already bound.
	CreateUser(ctx context.Context, displayName, provider, externalID, email string) (*entities.User, error)

	// AddIdentity binds a new identity to user and appends it to user.Identities.
	// Fails with ErrConflict if the identity is already bound.
	AddIdentity(ctx context.Context, user *entities.User, provider, externalID, email string) error

	// Commit applies every write of the unit atomically
	Commit() error

	// Rollback discards the unit. Calling it after Commit is a no-op.
	Rollback() error
}

// UnitOfWork opens one AccountStore per resolution
type UnitOfWork interface {
	Begin(ctx context.Context) (AccountStore, error)
}
