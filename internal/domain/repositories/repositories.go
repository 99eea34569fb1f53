package repositories

import (
	"context"
)

// Repositories is a collection of the read-side repository interfaces.
// Account writes go through identity.UnitOfWork.
type Repositories struct {
	Users      UserRepository
	Identities IdentityRepository
	Audit      AuditRepository
}

// HealthChecker defines health check interface for repositories
type HealthChecker interface {
	// HealthCheck performs a health check on the repository
	HealthCheck(ctx context.Context) error
}
