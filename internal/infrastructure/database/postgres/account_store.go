package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
	"github.com/devilmonastery/parley/internal/pkg/textutil"
)

// AccountStore implements identity.UnitOfWork on PostgreSQL. Each unit is one
// transaction; user_identities' unique constraint arbitrates concurrent bindings.
type AccountStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewAccountStore creates a new PostgreSQL account store
func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{
		db:  db,
		log: slog.Default().With(slog.String("repo", "account")),
	}
}

// Begin starts a transaction
func (s *AccountStore) Begin(ctx context.Context) (identity.AccountStore, error) {
	done := observe("account", "begin")
	tx, err := s.db.BeginTxx(ctx, nil)
	done(-1, err)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &accountTx{tx: tx, log: s.log}, nil
}

type accountTx struct {
	tx  *sqlx.Tx
	log *slog.Logger
}

var _ identity.AccountStore = (*accountTx)(nil)

func (t *accountTx) findOne(ctx context.Context, op, query string, args ...any) (user *entities.User, err error) {
	done := observe("account", op)
	defer func() {
		var n int64
		if user != nil {
			n = 1
		}
		done(n, err)
	}()

	if user, err = getUser(ctx, t.tx, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (t *accountTx) FindByIdentity(ctx context.Context, provider, externalID string) (*entities.User, error) {
	return t.findOne(ctx, "find_by_identity", `SELECT `+userColumns+`
		FROM users u
		INNER JOIN user_identities i ON i.user_id = u.id
		WHERE i.provider = $1 AND i.external_id = $2`, provider, externalID)
}

func (t *accountTx) FindByID(ctx context.Context, userID string) (*entities.User, error) {
	return t.findOne(ctx, "find_by_id", `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, userID)
}

func (t *accountTx) FindByLegacyIdentity(ctx context.Context, legacyKey string) (*entities.User, error) {
	return t.findOne(ctx, "find_by_legacy_identity", `SELECT `+userColumns+` FROM users u WHERE u.legacy_identity = $1`, legacyKey)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// namesLike loads every existing name that a candidate derived from base could collide with
func (t *accountTx) namesLike(ctx context.Context, base string) (map[string]bool, error) {
	var names []string
	pattern := likeEscaper.Replace(textutil.UsernamePrefix(base)) + "%"
	if err := t.tx.SelectContext(ctx, &names, `SELECT name FROM users WHERE name LIKE $1 ESCAPE '\'`, pattern); err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	return taken, nil
}

func (t *accountTx) CreateUser(ctx context.Context, displayName, provider, externalID, email string) (_ *entities.User, err error) {
	done := observe("account", "create_user")
	defer func() { done(1, err) }()

	now := time.Now().UTC()
	user := &entities.User{
		ID:          idgen.GenerateID(),
		DisplayName: textutil.CleanDisplayName(displayName),
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	base := textutil.BaseUsername(displayName, email)
	taken, err := t.namesLike(ctx, base)
	if err != nil {
		err = fmt.Errorf("failed to pick username: %w", err)
		return nil, err
	}
	user.Name, _ = textutil.UniqueUsername(base, func(name string) (bool, error) {
		return taken[name], nil
	})

	t.log.Debug("creating user",
		slog.String("id", user.ID),
		slog.String("name", user.Name),
		slog.String("provider", provider))

	query := `INSERT INTO users (
			id, name, display_name, email, legacy_identity, created_at, updated_at, last_seen
		) VALUES (
			:id, :name, :display_name, :email, :legacy_identity, :created_at, :updated_at, :last_seen
		)`

	if _, err = t.tx.NamedExecContext(ctx, query, userRowFromEntity(user)); err != nil {
		err = mapConflict(err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := t.insertIdentity(ctx, user.ID, provider, externalID, email, now)
	if err != nil {
		return nil, err
	}
	user.Identities = []*entities.Identity{id}
	return user, nil
}

func (t *accountTx) insertIdentity(ctx context.Context, userID, provider, externalID, email string, now time.Time) (*entities.Identity, error) {
	id := &entities.Identity{
		IdentityID: idgen.GenerateID(),
		UserID:     userID,
		Provider:   provider,
		ExternalID: externalID,
		Email:      email,
		CreatedAt:  now,
	}

	query := `INSERT INTO user_identities (` + identityColumns + `)
		VALUES (:identity_id, :user_id, :provider, :external_id, :email, :created_at)`

	if _, err := t.tx.NamedExecContext(ctx, query, id); err != nil {
		return nil, fmt.Errorf("failed to create identity %s: %w", id.ProviderKey(), mapConflict(err))
	}
	return id, nil
}

func (t *accountTx) AddIdentity(ctx context.Context, user *entities.User, provider, externalID, email string) (err error) {
	done := observe("account", "add_identity")
	defer func() { done(1, err) }()

	now := time.Now().UTC()
	id, err := t.insertIdentity(ctx, user.ID, provider, externalID, email, now)
	if err != nil {
		return err
	}

	if _, err = t.tx.ExecContext(ctx, `UPDATE users SET updated_at = $1 WHERE id = $2`, now, user.ID); err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}

	user.Identities = append(user.Identities, id)
	user.UpdatedAt = now
	return nil
}

func (t *accountTx) Commit() error {
	done := observe("account", "commit")
	err := t.tx.Commit()
	done(-1, err)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapConflict(err))
	}
	return nil
}

func (t *accountTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}
