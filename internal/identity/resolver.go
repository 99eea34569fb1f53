package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devilmonastery/parley/internal/domain/entities"
)

// Resolver maps verified external logins to local accounts.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	uow    UnitOfWork
	logger *slog.Logger
}

// NewResolver creates a resolver over the given store
func NewResolver(uow UnitOfWork) *Resolver {
	return &Resolver{
		uow:    uow,
		logger: slog.Default().With("component", "identity"),
	}
}

// Resolve decides which account the login in result belongs to. sessionUserID is the
// id of the user already signed in, or empty. Mutating decisions are committed before
// Resolve returns; every other path leaves the store untouched.
func (r *Resolver) Resolve(ctx context.Context, result Result, sessionUserID string) Outcome {
	if result.Err != nil || result.Assertion == nil {
		r.logger.Debug("provider reported failure", "message", result.failureMessage())
		return providerFailure(result.failureMessage())
	}

	a := *result.Assertion
	logger := r.logger.With("provider", a.Provider, "external_id", a.ExternalID)

	store, err := r.uow.Begin(ctx)
	if err != nil {
		return r.failed(logger, a.Provider, fmt.Errorf("failed to begin unit of work: %w", err))
	}

	outcome, err := r.decide(ctx, store, a, sessionUserID)
	if err != nil {
		r.rollback(logger, store)
		return r.failed(logger, a.Provider, err)
	}

	if !outcome.Kind.mutates() {
		r.rollback(logger, store)
		logger.Debug("resolved login", "outcome", outcome.Kind.String())
		return outcome
	}

	if err := store.Commit(); err != nil {
		r.rollback(logger, store)
		return r.failed(logger, a.Provider, fmt.Errorf("failed to commit unit of work: %w", err))
	}

	logger.Debug("resolved login", "outcome", outcome.Kind.String(), "user_id", outcome.User.ID)
	return outcome
}

func (r *Resolver) decide(ctx context.Context, store AccountStore, a Assertion, sessionUserID string) (Outcome, error) {
	existing, err := store.FindByIdentity(ctx, a.Provider, a.ExternalID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to find user by identity: %w", err)
	}

	var sessionUser *entities.User
	if sessionUserID != "" {
		sessionUser, err = store.FindByID(ctx, sessionUserID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to find session user: %w", err)
		}
	}

	if existing != nil {
		if sessionUser == nil || sessionUser.ID == existing.ID {
			return signIn(UseExistingUser, existing, a.Provider), nil
		}
		return rejectConflict(a.Provider), nil
	}

	if sessionUser != nil {
		if err := store.AddIdentity(ctx, sessionUser, a.Provider, a.ExternalID, a.Email); err != nil {
			return Outcome{}, fmt.Errorf("failed to link identity: %w", err)
		}
		return signIn(LinkAndUseExistingSession, sessionUser, a.Provider), nil
	}

	if key, ok := LegacyKey(a.Provider, a.ExternalID); ok {
		legacy, err := store.FindByLegacyIdentity(ctx, key)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to find legacy user: %w", err)
		}
		if legacy != nil {
			if err := store.AddIdentity(ctx, legacy, a.Provider, a.ExternalID, a.Email); err != nil {
				return Outcome{}, fmt.Errorf("failed to migrate legacy user: %w", err)
			}
			return signIn(MigrateLegacyUser, legacy, a.Provider), nil
		}
	}

	user, err := store.CreateUser(ctx, a.DisplayName, a.Provider, a.ExternalID, a.Email)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create user: %w", err)
	}
	return signIn(CreateNewUser, user, a.Provider), nil
}

func (r *Resolver) failed(logger *slog.Logger, provider string, err error) Outcome {
	if errors.Is(err, ErrConflict) {
		logger.Info("identity bound concurrently", "error", err)
		return conflict(provider, err)
	}
	logger.Error("account store failure", "error", err)
	return storeFailure(provider, err)
}

func (r *Resolver) rollback(logger *slog.Logger, store AccountStore) {
	if err := store.Rollback(); err != nil {
		logger.Warn("failed to roll back unit of work", "error", err)
	}
}
