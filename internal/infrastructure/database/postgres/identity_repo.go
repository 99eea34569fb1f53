package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
)

type IdentityRepository struct {
	db *sqlx.DB
}

var _ repositories.IdentityRepository = (*IdentityRepository)(nil)

func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) GetByProviderAndExternalID(ctx context.Context, provider, externalID string) (_ *entities.Identity, err error) {
	done := observe("identity", "get")
	defer func() { done(-1, err) }()

	var id entities.Identity
	err = r.db.GetContext(ctx, &id,
		`SELECT `+identityColumns+` FROM user_identities WHERE provider = $1 AND external_id = $2`,
		provider, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity %s:%s: %w", provider, externalID, err)
	}
	return &id, nil
}

func (r *IdentityRepository) ListByUserID(ctx context.Context, userID string) (ids []*entities.Identity, err error) {
	done := observe("identity", "list")
	defer func() { done(int64(len(ids)), err) }()

	return listIdentities(ctx, r.db, userID)
}
