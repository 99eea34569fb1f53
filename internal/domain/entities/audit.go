package entities

import (
	"encoding/json"
	"time"
)

// AuditLog records one account or identity event. Every completed login
// produces at least one entry, refused and failed ones included.
type AuditLog struct {
	ID         string         `json:"id" db:"id"`
	UserID     *string        `json:"user_id,omitempty" db:"user_id"` // nil when no account is known
	Action     AuditAction    `json:"action" db:"action"`
	Resource   AuditResource  `json:"resource" db:"resource"`
	ResourceID *string        `json:"resource_id,omitempty" db:"resource_id"`
	IPAddress  *string        `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string        `json:"user_agent,omitempty" db:"user_agent"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	Success    bool           `json:"success" db:"success"`
	ErrorMsg   *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

type AuditAction string

const (
	ActionUserLogin       AuditAction = "user.login"
	ActionUserLogout      AuditAction = "user.logout"
	ActionUserLoginFailed AuditAction = "user.login_failed"
	ActionUserCreated     AuditAction = "user.created"

	ActionIdentityLinked       AuditAction = "identity.linked"
	ActionIdentityMigrated     AuditAction = "identity.migrated"
	ActionIdentityLinkRejected AuditAction = "identity.link_rejected"
)

type AuditResource string

const (
	ResourceUser     AuditResource = "user"
	ResourceIdentity AuditResource = "identity"
)

// Metadata keys shared by the login audit trail
const (
	MetaProvider = "provider"
	MetaOutcome  = "outcome"
	MetaName     = "name"
)

// NewAuditLog creates a successful entry; use Fail to mark it otherwise
func NewAuditLog(userID *string, action AuditAction, resource AuditResource) *AuditLog {
	return &AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Success:   true,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewUserAudit creates an entry about the user's own account
func NewUserAudit(userID string, action AuditAction) *AuditLog {
	return NewAuditLog(&userID, action, ResourceUser).WithResourceID(userID)
}

// NewIdentityAudit creates an entry about the (provider, externalID) binding.
// userID may be nil when the event has no account, e.g. a refused link.
func NewIdentityAudit(userID *string, action AuditAction, provider, externalID string) *AuditLog {
	return NewAuditLog(userID, action, ResourceIdentity).
		WithResourceID((&Identity{Provider: provider, ExternalID: externalID}).ProviderKey()).
		WithMetadata(MetaProvider, provider)
}

func (a *AuditLog) WithResourceID(resourceID string) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithClient records where the request came from. Empty values are left unset.
func (a *AuditLog) WithClient(ipAddress, userAgent string) *AuditLog {
	if ipAddress != "" {
		a.IPAddress = &ipAddress
	}
	if userAgent != "" {
		a.UserAgent = &userAgent
	}
	return a
}

// Fail marks the entry as failed with a user-facing or internal message
func (a *AuditLog) Fail(message string) *AuditLog {
	a.Success = false
	a.ErrorMsg = &message
	return a
}

// WithError marks the entry as failed with err's message
func (a *AuditLog) WithError(err error) *AuditLog {
	return a.Fail(err.Error())
}

func (a *AuditLog) WithMetadata(key string, value any) *AuditLog {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
	return a
}

// Provider returns the provider recorded in metadata, if any
func (a *AuditLog) Provider() string {
	p, _ := a.Metadata[MetaProvider].(string)
	return p
}

// MarshalMetadataToJSON encodes metadata for the jsonb column
func (a *AuditLog) MarshalMetadataToJSON() (string, error) {
	if len(a.Metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(a.Metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadataFromJSON decodes the jsonb column
func (a *AuditLog) UnmarshalMetadataFromJSON(data string) error {
	a.Metadata = make(map[string]any)
	if data == "" || data == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(data), &a.Metadata)
}

// IsIdentityAction returns true if the entry records a change to identity bindings
func (a *AuditLog) IsIdentityAction() bool {
	switch a.Action {
	case ActionIdentityLinked, ActionIdentityMigrated, ActionIdentityLinkRejected:
		return true
	default:
		return false
	}
}
