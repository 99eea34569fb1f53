package entities

import "time"

// Identity is an external provider login linked to a user.
// The (Provider, ExternalID) pair is unique across all users.
type Identity struct {
	IdentityID string    `json:"identity_id" db:"identity_id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Provider   string    `json:"provider" db:"provider"`       // "google", "github", "twitter", etc.
	ExternalID string    `json:"external_id" db:"external_id"` // provider-scoped user id
	Email      string    `json:"email" db:"email"`             // email reported by this provider
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ProviderKey returns a formatted provider+external_id string for logging
func (i *Identity) ProviderKey() string {
	return i.Provider + ":" + i.ExternalID
}
