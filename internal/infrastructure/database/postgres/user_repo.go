package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
)

var userSortColumns = map[string]string{
	repositories.SortByCreated:   "u.created_at",
	repositories.SortByName:      "u.name",
	repositories.SortByLastLogin: "u.last_seen",
}

// UserRepository reads accounts. Writes other than last-login go through AccountStore.
type UserRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewUserRepository(db *sqlx.DB) repositories.UserRepository {
	return &UserRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "user")),
	}
}

func (r *UserRepository) getOne(ctx context.Context, op, cond, arg string) (user *entities.User, err error) {
	done := observe("user", op)
	defer func() {
		var n int64
		if user != nil {
			n = 1
		}
		done(n, err)
	}()

	user, err = getUser(ctx, r.db, `SELECT `+userColumns+` FROM users u WHERE `+cond, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, repositories.ErrUserNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.getOne(ctx, "get_by_id", "u.id = $1", id)
}

func (r *UserRepository) GetByName(ctx context.Context, name string) (*entities.User, error) {
	return r.getOne(ctx, "get_by_name", "u.name = $1", name)
}

func userWhere(opts repositories.ListUsersOptions) *where {
	w := &where{}
	if opts.Search != "" {
		w.add("(u.name ILIKE $%d OR u.display_name ILIKE $%d OR u.email ILIKE $%d)", "%"+opts.Search+"%")
	}
	if opts.LegacyOnly {
		w.raw("u.legacy_identity IS NOT NULL AND NOT EXISTS (SELECT 1 FROM user_identities i WHERE i.user_id = u.id)")
	}
	return w
}

func userOrder(opts repositories.ListUsersOptions) string {
	col, ok := userSortColumns[opts.SortBy]
	if !ok {
		col = userSortColumns[repositories.SortByCreated]
	}
	if opts.SortOrder == "asc" {
		return col + " ASC"
	}
	return col + " DESC NULLS LAST"
}

// List returns a page of accounts with their identities attached
func (r *UserRepository) List(ctx context.Context, opts repositories.ListUsersOptions) (users []*entities.User, total int64, err error) {
	done := observe("user", "list")
	defer func() { done(int64(len(users)), err) }()

	w := userWhere(opts)
	if err = r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users u "+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit, args := w.page(opts.Limit, opts.Offset)
	query := "SELECT " + userColumns + " FROM users u " + w.String() + " ORDER BY " + userOrder(opts) + " " + limit

	var rows []userRow
	if err = r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	users = make([]*entities.User, len(rows))
	for i := range rows {
		users[i] = rows[i].toEntity()
	}
	if err = attachIdentities(ctx, r.db, users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) (err error) {
	var affected int64
	done := observe("user", "update_last_login")
	defer func() { done(affected, err) }()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_seen = $1, updated_at = now() WHERE id = $2`, loginTime, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if affected, err = result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if affected == 0 {
		return repositories.ErrUserNotFound
	}

	r.log.Debug("recorded login", slog.String("user_id", userID), slog.Time("at", loginTime))
	return nil
}
