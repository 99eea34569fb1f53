package identity

import (
	"fmt"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// Kind classifies the decision taken for one login attempt
type Kind int

const (
	// UseExistingUser signs in as the user already holding the identity
	UseExistingUser Kind = iota
	// LinkAndUseExistingSession binds the identity to the signed-in user
	LinkAndUseExistingSession
	// CreateNewUser creates an account for a first-time identity
	CreateNewUser
	// MigrateLegacyUser binds the identity to an account from the single-identity scheme
	MigrateLegacyUser
	// RejectConflict refuses an identity that belongs to a different user than the signed-in one
	RejectConflict
	// PropagateProviderError passes a broker failure through to the user
	PropagateProviderError
	// StoreFailure means the store could not complete the unit of work
	StoreFailure
	// Conflict means a concurrent resolution bound the identity first. Resolve again.
	Conflict
)

var kindNames = map[Kind]string{
	UseExistingUser:           "use_existing_user",
	LinkAndUseExistingSession: "link_existing_session",
	CreateNewUser:             "create_new_user",
	MigrateLegacyUser:         "migrate_legacy_user",
	RejectConflict:            "reject_conflict",
	PropagateProviderError:    "provider_error",
	StoreFailure:              "store_failure",
	Conflict:                  "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SignsIn reports whether outcomes of this kind carry a user to sign in
func (k Kind) SignsIn() bool {
	switch k {
	case UseExistingUser, LinkAndUseExistingSession, CreateNewUser, MigrateLegacyUser:
		return true
	}
	return false
}

func (k Kind) mutates() bool {
	switch k {
	case LinkAndUseExistingSession, CreateNewUser, MigrateLegacyUser:
		return true
	}
	return false
}

// Outcome is the result of resolving one login attempt.
// User is set exactly when Kind.SignsIn(). Message is user-visible text for the
// failure kinds. Err holds the underlying cause for StoreFailure and Conflict.
type Outcome struct {
	Kind     Kind
	User     *entities.User
	Provider string
	Message  string
	Err      error
}

const (
	storeFailureMessage = "We couldn't complete your login right now. Please try again."
	conflictMessage     = "This account was linked by another request. Please try again."
)

func signIn(kind Kind, user *entities.User, provider string) Outcome {
	return Outcome{Kind: kind, User: user, Provider: provider}
}

func rejectConflict(provider string) Outcome {
	return Outcome{
		Kind:     RejectConflict,
		Provider: provider,
		Message:  fmt.Sprintf("This %s account has already been linked to another user.", provider),
	}
}

func providerFailure(message string) Outcome {
	return Outcome{Kind: PropagateProviderError, Message: message}
}

func storeFailure(provider string, err error) Outcome {
	return Outcome{Kind: StoreFailure, Provider: provider, Message: storeFailureMessage, Err: err}
}

func conflict(provider string, err error) Outcome {
	return Outcome{Kind: Conflict, Provider: provider, Message: conflictMessage, Err: err}
}
