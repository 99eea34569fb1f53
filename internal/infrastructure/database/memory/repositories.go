package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
)

const defaultPageSize = 50

type userRepo struct{ s *Store }

var _ repositories.UserRepository = (*userRepo)(nil)

func (r *userRepo) GetByID(ctx context.Context, id string) (*entities.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u := r.s.getLocked(id); u != nil {
		return u, nil
	}
	return nil, repositories.ErrUserNotFound
}

func (r *userRepo) GetByName(ctx context.Context, name string) (*entities.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if id, ok := r.s.byName[name]; ok {
		return r.s.getLocked(id), nil
	}
	return nil, repositories.ErrUserNotFound
}

func (r *userRepo) List(ctx context.Context, opts repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	var matched []*entities.User
	search := strings.ToLower(opts.Search)
	for _, u := range r.s.users {
		if opts.LegacyOnly && !u.IsLegacy() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Name), search) &&
			!strings.Contains(strings.ToLower(u.DisplayName), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		matched = append(matched, u.Clone())
	}
	r.s.mu.RUnlock()

	sortUsers(matched, opts.SortBy, opts.SortOrder == "asc")

	total := int64(len(matched))
	return paginate(matched, opts.Limit, opts.Offset), total, nil
}

func sortUsers(users []*entities.User, by string, asc bool) {
	less := func(a, b *entities.User) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch by {
	case repositories.SortByName:
		less = func(a, b *entities.User) bool { return a.Name < b.Name }
	case repositories.SortByLastLogin:
		less = func(a, b *entities.User) bool {
			return lastLogin(a).Before(lastLogin(b))
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		if asc {
			return less(users[i], users[j])
		}
		return less(users[j], users[i])
	})
}

func lastLogin(u *entities.User) time.Time {
	if u.LastLogin == nil {
		return time.Time{}
	}
	return *u.LastLogin
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	t := loginTime
	u.LastLogin = &t
	u.UpdatedAt = r.s.now()
	return nil
}

type identityRepo struct{ s *Store }

var _ repositories.IdentityRepository = (*identityRepo)(nil)

func (r *identityRepo) GetByProviderAndExternalID(ctx context.Context, provider, externalID string) (*entities.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	owner, ok := r.s.byIdentity[identityKey{provider, externalID}]
	if !ok {
		return nil, repositories.ErrIdentityNotFound
	}
	for _, id := range r.s.users[owner].Identities {
		if id.Provider == provider && id.ExternalID == externalID {
			cp := *id
			return &cp, nil
		}
	}
	return nil, repositories.ErrIdentityNotFound
}

func (r *identityRepo) ListByUserID(ctx context.Context, userID string) ([]*entities.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u := r.s.getLocked(userID)
	if u == nil {
		return []*entities.Identity{}, nil
	}
	return u.Identities, nil
}

type auditRepo struct{ s *Store }

var _ repositories.AuditRepository = (*auditRepo)(nil)

func (r *auditRepo) Create(ctx context.Context, log *entities.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log.ID == "" {
		log.ID = idgen.GenerateID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.s.now()
	}
	cp := *log
	r.s.mu.Lock()
	r.s.audit = append(r.s.audit, &cp)
	r.s.mu.Unlock()
	return nil
}

func (r *auditRepo) List(ctx context.Context, opts repositories.ListAuditLogsOptions) ([]*entities.AuditLog, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	var matched []*entities.AuditLog
	// newest first
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		a := r.s.audit[i]
		if opts.UserID != nil && (a.UserID == nil || *a.UserID != *opts.UserID) {
			continue
		}
		if opts.Action != nil && a.Action != *opts.Action {
			continue
		}
		if opts.Provider != "" && a.Provider() != opts.Provider {
			continue
		}
		if opts.FailedOnly && a.Success {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	r.s.mu.RUnlock()

	return paginate(matched, opts.Limit, opts.Offset), int64(len(matched)), nil
}

func (r *auditRepo) ListByUser(ctx context.Context, userID string, opts repositories.ListAuditLogsOptions) ([]*entities.AuditLog, int64, error) {
	opts.UserID = &userID
	return r.List(ctx, opts)
}
