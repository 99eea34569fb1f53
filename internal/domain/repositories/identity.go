package repositories

import (
	"context"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// IdentityRepository reads the external logins linked to accounts.
// Bindings are only ever written through identity.UnitOfWork.
type IdentityRepository interface {
	GetByProviderAndExternalID(ctx context.Context, provider, externalID string) (*entities.Identity, error)

	// ListByUserID returns the user's identities oldest first; empty for unknown users
	ListByUserID(ctx context.Context, userID string) ([]*entities.Identity, error)
}
