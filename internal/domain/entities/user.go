package entities

import "time"

// User represents a chat account. Identities holds every external login bound to it.
type User struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"` // unique handle shown in rooms
	DisplayName string    `json:"display_name" db:"display_name"`
	Email       string    `json:"email,omitempty" db:"email"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	// LegacyIdentity is the single identity string accounts carried before
	// user_identities existed. Nil for accounts created since.
	LegacyIdentity *string     `json:"legacy_identity,omitempty" db:"legacy_identity"`
	LastLogin      *time.Time  `json:"last_login,omitempty" db:"last_seen"`
	Identities     []*Identity `json:"identities,omitempty" db:"-"`
}

// HasIdentity reports whether the (provider, externalID) pair is bound to this user
func (u *User) HasIdentity(provider, externalID string) bool {
	for _, i := range u.Identities {
		if i.Provider == provider && i.ExternalID == externalID {
			return true
		}
	}
	return false
}

// IsLegacy returns true if the account still needs migrating to the multi-identity model
func (u *User) IsLegacy() bool {
	return u.LegacyIdentity != nil && len(u.Identities) == 0
}

// Clone returns a copy that shares no mutable state with u
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LegacyIdentity != nil {
		legacy := *u.LegacyIdentity
		c.LegacyIdentity = &legacy
	}
	if u.LastLogin != nil {
		last := *u.LastLogin
		c.LastLogin = &last
	}
	c.Identities = make([]*Identity, len(u.Identities))
	for i, id := range u.Identities {
		cp := *id
		c.Identities[i] = &cp
	}
	return &c
}
