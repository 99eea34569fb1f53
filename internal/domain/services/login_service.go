package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/metrics"
)

// Resolver decides which account an external login belongs to
type Resolver interface {
	Resolve(ctx context.Context, result identity.Result, sessionUserID string) identity.Outcome
}

// LoginRequest is one completed provider login as seen by the HTTP layer
type LoginRequest struct {
	Result        identity.Result
	SessionUserID string // empty when nobody is signed in
	IPAddress     string
	UserAgent     string
}

// LoginService completes external logins: it resolves the account, retries once
// when a concurrent login bound the identity first, and records the result.
type LoginService struct {
	resolver  Resolver
	userRepo  repositories.UserRepository
	auditRepo repositories.AuditRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewLoginService creates a login service. auditRepo may be nil.
func NewLoginService(
	resolver Resolver,
	userRepo repositories.UserRepository,
	auditRepo repositories.AuditRepository,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		resolver:  resolver,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		logger:    logger.With("component", "login"),
		now:       time.Now,
	}
}

// Complete resolves req and returns the final outcome. A Conflict is retried exactly
// once; the second attempt sees the winning binding.
func (s *LoginService) Complete(ctx context.Context, req LoginRequest) identity.Outcome {
	start := time.Now()

	out := s.resolver.Resolve(ctx, req.Result, req.SessionUserID)
	if out.Kind == identity.Conflict {
		metrics.IdentityConflictRetries.Inc()
		s.logger.Info("identity bound concurrently, retrying",
			slog.String("provider", out.Provider))
		out = s.resolver.Resolve(ctx, req.Result, req.SessionUserID)
	}

	metrics.RecordIdentityResolution(out.Kind.String(), time.Since(start))

	logger := s.logger.With(
		slog.String("outcome", out.Kind.String()),
		slog.String("provider", out.Provider))
	if out.User != nil {
		logger = logger.With(slog.String("user_id", out.User.ID))
	}
	switch {
	case out.Kind.SignsIn():
		logger.Info("login resolved")
	case out.Kind == identity.RejectConflict || out.Kind == identity.PropagateProviderError:
		logger.Info("login refused", slog.String("message", out.Message))
	default:
		logger.Error("login failed", slog.Any("error", out.Err))
	}

	s.audit(ctx, req, out)

	if out.Kind.SignsIn() {
		if err := s.userRepo.UpdateLastLogin(ctx, out.User.ID, s.now()); err != nil {
			logger.Warn("failed to update last login", slog.String("error", err.Error()))
		}
	}

	return out
}

// audit writes the entries for out. Failures are logged and never fail the login.
func (s *LoginService) audit(ctx context.Context, req LoginRequest, out identity.Outcome) {
	if s.auditRepo == nil {
		return
	}

	for _, entry := range auditEntries(req, out) {
		entry.WithClient(req.IPAddress, req.UserAgent).
			WithMetadata(entities.MetaOutcome, out.Kind.String())
		if err := s.auditRepo.Create(ctx, entry); err != nil {
			s.logger.Warn("failed to write audit log",
				slog.String("action", string(entry.Action)),
				slog.String("error", err.Error()))
		}
	}
}

// auditEntries maps an outcome to its audit trail: the binding change (if any)
// followed by the login itself.
func auditEntries(req LoginRequest, out identity.Outcome) []*entities.AuditLog {
	var externalID string
	if req.Result.Assertion != nil {
		externalID = req.Result.Assertion.ExternalID
	}

	login := func() *entities.AuditLog {
		return entities.NewUserAudit(out.User.ID, entities.ActionUserLogin).
			WithMetadata(entities.MetaProvider, out.Provider)
	}
	binding := func(action entities.AuditAction) *entities.AuditLog {
		return entities.NewIdentityAudit(&out.User.ID, action, out.Provider, externalID)
	}

	switch out.Kind {
	case identity.UseExistingUser:
		return []*entities.AuditLog{login()}
	case identity.CreateNewUser:
		created := entities.NewUserAudit(out.User.ID, entities.ActionUserCreated).
			WithMetadata(entities.MetaProvider, out.Provider).
			WithMetadata(entities.MetaName, out.User.Name)
		return []*entities.AuditLog{created, login()}
	case identity.LinkAndUseExistingSession:
		return []*entities.AuditLog{binding(entities.ActionIdentityLinked), login()}
	case identity.MigrateLegacyUser:
		return []*entities.AuditLog{binding(entities.ActionIdentityMigrated), login()}
	case identity.RejectConflict:
		var sessionUser *string
		if req.SessionUserID != "" {
			sessionUser = &req.SessionUserID
		}
		rejected := entities.NewIdentityAudit(sessionUser, entities.ActionIdentityLinkRejected, out.Provider, externalID).
			Fail(out.Message)
		return []*entities.AuditLog{rejected}
	default:
		failed := entities.NewAuditLog(nil, entities.ActionUserLoginFailed, entities.ResourceUser).
			Fail(out.Message)
		if out.Err != nil {
			failed.WithError(out.Err)
		}
		if out.Provider != "" {
			failed.WithMetadata(entities.MetaProvider, out.Provider)
		}
		return []*entities.AuditLog{failed}
	}
}
