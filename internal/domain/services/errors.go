package services

import (
	"context"
	"errors"

	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
)

// GetUserLookupFailureReason classifies a failed account lookup for logs and
// audit metadata.
func GetUserLookupFailureReason(err error) string {
	switch {
	case errors.Is(err, repositories.ErrUserNotFound), errors.Is(err, repositories.ErrIdentityNotFound):
		return "user_not_found"
	case errors.Is(err, identity.ErrConflict):
		return "identity_conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "user_lookup_failed"
	}
}

func IsUserNotFound(err error) bool {
	return errors.Is(err, repositories.ErrUserNotFound)
}
