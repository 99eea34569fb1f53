package repositories

import (
	"context"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// AuditRepository stores the login and identity audit trail
type AuditRepository interface {
	Create(ctx context.Context, log *entities.AuditLog) error

	// List returns matching entries newest first, plus the total match count
	List(ctx context.Context, opts ListAuditLogsOptions) ([]*entities.AuditLog, int64, error)

	ListByUser(ctx context.Context, userID string, opts ListAuditLogsOptions) ([]*entities.AuditLog, int64, error)
}

// ListAuditLogsOptions filters and pages audit entries. Zero values match everything.
type ListAuditLogsOptions struct {
	Limit  int
	Offset int

	UserID     *string
	Action     *entities.AuditAction
	Provider   string // provider recorded in metadata
	FailedOnly bool
}
