package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
	"github.com/devilmonastery/parley/internal/pkg/textutil"
)

var errUnitFinished = errors.New("unit of work already committed or rolled back")

type stagedIdentity struct {
	userID   string
	identity *entities.Identity
}

// unit is one identity.AccountStore. It reads committed state plus its own staged
// writes; nothing it writes is visible elsewhere before Commit.
type unit struct {
	store   *Store
	created []*entities.User
	linked  []stagedIdentity
	done    bool
}

var _ identity.AccountStore = (*unit)(nil)

func (u *unit) check(ctx context.Context) error {
	if u.done {
		return errUnitFinished
	}
	return ctx.Err()
}

func (u *unit) stagedOwner(key identityKey) (string, bool) {
	for _, l := range u.linked {
		if l.identity.Provider == key.provider && l.identity.ExternalID == key.externalID {
			return l.userID, true
		}
	}
	return "", false
}

func (u *unit) stagedUser(id string) *entities.User {
	for _, c := range u.created {
		if c.ID == id {
			return c.Clone()
		}
	}
	return nil
}

// withStagedIdentities adds this unit's pending links to a committed user
func (u *unit) withStagedIdentities(user *entities.User) *entities.User {
	if user == nil {
		return nil
	}
	for _, l := range u.linked {
		if l.userID == user.ID && !user.HasIdentity(l.identity.Provider, l.identity.ExternalID) {
			cp := *l.identity
			user.Identities = append(user.Identities, &cp)
		}
	}
	return user
}

func (u *unit) lookup(id string) *entities.User {
	if user := u.stagedUser(id); user != nil {
		return user
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	return u.withStagedIdentities(u.store.getLocked(id))
}

func (u *unit) FindByIdentity(ctx context.Context, provider, externalID string) (*entities.User, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	key := identityKey{provider, externalID}
	if owner, ok := u.stagedOwner(key); ok {
		return u.lookup(owner), nil
	}

	u.store.mu.RLock()
	owner, ok := u.store.byIdentity[key]
	u.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return u.lookup(owner), nil
}

func (u *unit) FindByID(ctx context.Context, userID string) (*entities.User, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	return u.lookup(userID), nil
}

func (u *unit) FindByLegacyIdentity(ctx context.Context, legacyKey string) (*entities.User, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	u.store.mu.RLock()
	owner, ok := u.store.byLegacy[legacyKey]
	u.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return u.lookup(owner), nil
}

func (u *unit) bound(key identityKey) bool {
	if _, ok := u.stagedOwner(key); ok {
		return true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	_, ok := u.store.byIdentity[key]
	return ok
}

func (u *unit) newIdentity(userID, provider, externalID, email string) *entities.Identity {
	return &entities.Identity{
		IdentityID: idgen.GenerateID(),
		UserID:     userID,
		Provider:   provider,
		ExternalID: externalID,
		Email:      email,
		CreatedAt:  u.store.now(),
	}
}

func (u *unit) CreateUser(ctx context.Context, displayName, provider, externalID, email string) (*entities.User, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	if u.bound(identityKey{provider, externalID}) {
		return nil, fmt.Errorf("create user for %s:%s: %w", provider, externalID, identity.ErrConflict)
	}

	now := u.store.now()
	user := &entities.User{
		ID:          idgen.GenerateID(),
		DisplayName: textutil.CleanDisplayName(displayName),
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	reserved := make(map[string]bool, len(u.created))
	for _, c := range u.created {
		reserved[c.Name] = true
	}
	u.store.mu.RLock()
	user.Name = u.store.uniqueNameLocked(textutil.BaseUsername(displayName, email), reserved)
	u.store.mu.RUnlock()

	id := u.newIdentity(user.ID, provider, externalID, email)
	user.Identities = []*entities.Identity{id}

	u.created = append(u.created, user)
	u.linked = append(u.linked, stagedIdentity{userID: user.ID, identity: id})
	return user.Clone(), nil
}

func (u *unit) AddIdentity(ctx context.Context, user *entities.User, provider, externalID, email string) error {
	if err := u.check(ctx); err != nil {
		return err
	}
	if u.bound(identityKey{provider, externalID}) {
		return fmt.Errorf("link %s:%s to user %s: %w", provider, externalID, user.ID, identity.ErrConflict)
	}

	id := u.newIdentity(user.ID, provider, externalID, email)
	u.linked = append(u.linked, stagedIdentity{userID: user.ID, identity: id})
	for _, c := range u.created {
		if c.ID == user.ID {
			c.Identities = append(c.Identities, id)
		}
	}

	cp := *id
	user.Identities = append(user.Identities, &cp)
	return nil
}

// Commit applies the unit atomically. Bindings and usernames are re-checked under
// the lock, so of two units racing for the same pair or name exactly one commits;
// the loser gets identity.ErrConflict and nothing is applied.
func (u *unit) Commit() error {
	if u.done {
		return errUnitFinished
	}
	u.done = true

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range u.linked {
		key := identityKey{l.identity.Provider, l.identity.ExternalID}
		if _, taken := s.byIdentity[key]; taken {
			return fmt.Errorf("commit %s:%s: %w", key.provider, key.externalID, identity.ErrConflict)
		}
		if _, ok := s.users[l.userID]; !ok && u.stagedUser(l.userID) == nil {
			return fmt.Errorf("commit link to user %s: user no longer exists", l.userID)
		}
	}
	for _, c := range u.created {
		if _, taken := s.byName[c.Name]; taken {
			return fmt.Errorf("commit user %s: name %q: %w", c.ID, c.Name, identity.ErrConflict)
		}
	}

	for _, c := range u.created {
		user := c.Clone()
		user.Identities = nil
		s.users[user.ID] = user
		s.byName[user.Name] = user.ID
	}

	now := s.now()
	for _, l := range u.linked {
		owner := s.users[l.userID]
		cp := *l.identity
		owner.Identities = append(owner.Identities, &cp)
		owner.UpdatedAt = now
		s.byIdentity[identityKey{cp.Provider, cp.ExternalID}] = owner.ID
	}

	s.log.Debug("committed unit of work",
		"users_created", len(u.created),
		"identities_linked", len(u.linked))
	return nil
}

func (u *unit) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.created = nil
	u.linked = nil
	return nil
}
