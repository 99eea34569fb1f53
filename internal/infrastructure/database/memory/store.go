// Package memory keeps accounts in process memory. It backs the memory database
// driver and the tests of the packages above it.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
	"github.com/devilmonastery/parley/internal/pkg/textutil"
)

type identityKey struct {
	provider   string
	externalID string
}

// Store holds committed accounts. Units of work stage their writes and apply them
// under the store lock at Commit.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*entities.User
	byIdentity map[identityKey]string
	byLegacy   map[string]string
	byName     map[string]string
	audit      []*entities.AuditLog

	now func() time.Time
	log *slog.Logger
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*entities.User),
		byIdentity: make(map[identityKey]string),
		byLegacy:   make(map[string]string),
		byName:     make(map[string]string),
		now:        time.Now,
		log:        slog.Default().With(slog.String("repo", "memory")),
	}
}

// Begin implements identity.UnitOfWork
func (s *Store) Begin(ctx context.Context) (identity.AccountStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unit{store: s}, nil
}

// Repositories returns the read-side repositories over this store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:      &userRepo{s: s},
		Identities: &identityRepo{s: s},
		Audit:      &auditRepo{s: s},
	}
}

// SeedLegacyUser stores an account from the single-identity scheme: it has a legacy
// key and no identities.
func (s *Store) SeedLegacyUser(displayName, legacyKey string) *entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := legacyKey
	u := &entities.User{
		ID:             idgen.GenerateID(),
		DisplayName:    displayName,
		LegacyIdentity: &key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	u.Name = s.uniqueNameLocked(textutil.BaseUsername(displayName, ""), nil)
	s.users[u.ID] = u
	s.byLegacy[legacyKey] = u.ID
	s.byName[u.Name] = u.ID
	return u.Clone()
}

// UserCount returns the number of committed users
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// IdentityCount returns the number of committed identity bindings
func (s *Store) IdentityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdentity)
}

// HealthCheck reports whether ctx is still live; the store itself cannot fail
func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) getLocked(id string) *entities.User {
	if u, ok := s.users[id]; ok {
		return u.Clone()
	}
	return nil
}

// uniqueNameLocked picks a free handle, also avoiding names in reserved
func (s *Store) uniqueNameLocked(base string, reserved map[string]bool) string {
	name, _ := textutil.UniqueUsername(base, func(candidate string) (bool, error) {
		_, taken := s.byName[candidate]
		return taken || reserved[candidate], nil
	})
	return name
}
