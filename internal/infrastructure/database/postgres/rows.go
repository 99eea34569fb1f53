package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

const userColumns = `u.id, u.name, u.display_name, u.email, u.legacy_identity, u.created_at, u.updated_at, u.last_seen`

const identityColumns = `identity_id, user_id, provider, external_id, email, created_at`

type userRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	DisplayName    string         `db:"display_name"`
	Email          sql.NullString `db:"email"`
	LegacyIdentity sql.NullString `db:"legacy_identity"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	LastSeen       sql.NullTime   `db:"last_seen"`
}

func (r *userRow) toEntity() *entities.User {
	u := &entities.User{
		ID:             r.ID,
		Name:           r.Name,
		DisplayName:    r.DisplayName,
		Email:          r.Email.String,
		LegacyIdentity: optional(r.LegacyIdentity),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastSeen.Valid {
		t := r.LastSeen.Time
		u.LastLogin = &t
	}
	return u
}

// userRowFromEntity stores an empty email as NULL
func userRowFromEntity(u *entities.User) *userRow {
	row := &userRow{
		ID:             u.ID,
		Name:           u.Name,
		DisplayName:    u.DisplayName,
		Email:          sql.NullString{String: u.Email, Valid: u.Email != ""},
		LegacyIdentity: nullable(u.LegacyIdentity),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
	if u.LastLogin != nil {
		row.LastSeen = sql.NullTime{Time: *u.LastLogin, Valid: true}
	}
	return row
}

// getUser runs a single-user query and loads the user's identities.
// No match is (nil, nil).
func getUser(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*entities.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user := row.toEntity()
	if user.Identities, err = listIdentities(ctx, q, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func listIdentities(ctx context.Context, q sqlx.QueryerContext, userID string) ([]*entities.Identity, error) {
	identities := []*entities.Identity{}
	err := sqlx.SelectContext(ctx, q, &identities,
		`SELECT `+identityColumns+` FROM user_identities WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// attachIdentities loads identities for a page of users in one round trip
func attachIdentities(ctx context.Context, q sqlx.QueryerContext, users []*entities.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]*entities.User, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		u.Identities = []*entities.Identity{}
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}

	var identities []*entities.Identity
	err := sqlx.SelectContext(ctx, q, &identities,
		`SELECT `+identityColumns+` FROM user_identities WHERE user_id = ANY($1) ORDER BY created_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	for _, id := range identities {
		if u := byID[id.UserID]; u != nil {
			u.Identities = append(u.Identities, id)
		}
	}
	return nil
}
