package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
)

// UserService provides account queries for the HTTP surface and the CLI
type UserService struct {
	userRepo     repositories.UserRepository
	identityRepo repositories.IdentityRepository
	auditRepo    repositories.AuditRepository
}

// NewUserService creates a new user service. auditRepo may be nil.
func NewUserService(repos *repositories.Repositories) *UserService {
	return &UserService{
		userRepo:     repos.Users,
		identityRepo: repos.Identities,
		auditRepo:    repos.Audit,
	}
}

// auditLog is a helper method that logs audit events if auditRepo is available
func (s *UserService) auditLog(ctx context.Context, auditLog *entities.AuditLog) error {
	if s.auditRepo == nil {
		return nil
	}
	return s.auditRepo.Create(ctx, auditLog)
}

// GetUserByID retrieves a user and its linked identities
func (s *UserService) GetUserByID(ctx context.Context, userID string) (*entities.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if user.Identities == nil {
		identities, err := s.identityRepo.ListByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities: %w", err)
		}
		user.Identities = identities
	}
	return user, nil
}

// FindUser resolves an operator-supplied reference: a "provider:external_id"
// identity key, a user ID, or a handle, tried in that order.
func (s *UserService) FindUser(ctx context.Context, ref string) (*entities.User, error) {
	if provider, externalID, ok := strings.Cut(ref, ":"); ok {
		id, err := s.identityRepo.GetByProviderAndExternalID(ctx, strings.ToLower(provider), externalID)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity %s: %w", ref, err)
		}
		return s.GetUserByID(ctx, id.UserID)
	}

	user, err := s.GetUserByID(ctx, ref)
	if !IsUserNotFound(err) {
		return user, err
	}
	user, err = s.userRepo.GetByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers lists users with filtering and pagination
func (s *UserService) ListUsers(ctx context.Context, opts repositories.ListUsersOptions) ([]*entities.User, int64, error) {
	users, total, err := s.userRepo.List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// RecentActivity returns the newest audit entries for a user
func (s *UserService) RecentActivity(ctx context.Context, userID string, limit int) ([]*entities.AuditLog, error) {
	if s.auditRepo == nil {
		return nil, nil
	}
	logs, _, err := s.auditRepo.ListByUser(ctx, userID, repositories.ListAuditLogsOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// RecordLogout writes the logout audit entry
func (s *UserService) RecordLogout(ctx context.Context, userID, ipAddress, userAgent string) error {
	entry := entities.NewUserAudit(userID, entities.ActionUserLogout).
		WithClient(ipAddress, userAgent)
	return s.auditLog(ctx, entry)
}
