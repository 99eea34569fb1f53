package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/infrastructure/database/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedResolver returns queued outcomes in order
type scriptedResolver struct {
	outcomes []identity.Outcome
	calls    int
}

func (r *scriptedResolver) Resolve(context.Context, identity.Result, string) identity.Outcome {
	out := r.outcomes[r.calls]
	r.calls++
	return out
}

type failingAudit struct {
	repositories.AuditRepository
	attempts int
}

func (f *failingAudit) Create(context.Context, *entities.AuditLog) error {
	f.attempts++
	return errors.New("audit table missing")
}

func ghLogin(id string) identity.Result {
	return identity.Succeeded(identity.Assertion{Provider: "github", ExternalID: id, DisplayName: "Dev " + id})
}

func newLoginService(s *memory.Store) *LoginService {
	repos := s.Repositories()
	return NewLoginService(identity.NewResolver(s), repos.Users, repos.Audit, discard)
}

func actions(t *testing.T, s *memory.Store) []entities.AuditAction {
	t.Helper()
	logs, _, err := s.Repositories().Audit.List(context.Background(), repositories.ListAuditLogsOptions{})
	require.NoError(t, err)
	out := make([]entities.AuditAction, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		out = append(out, logs[i].Action)
	}
	return out
}

func TestCompleteCreatesAndAudits(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	svc := newLoginService(s)

	out := svc.Complete(ctx, LoginRequest{Result: ghLogin("1"), IPAddress: "10.0.0.1", UserAgent: "test"})
	require.Equal(t, identity.CreateNewUser, out.Kind)

	assert.Equal(t, []entities.AuditAction{entities.ActionUserCreated, entities.ActionUserLogin}, actions(t, s))

	stored, err := s.Repositories().Users.GetByID(ctx, out.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin, "last login recorded")

	logs, _, err := s.Repositories().Audit.ListByUser(ctx, out.User.ID, repositories.ListAuditLogsOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.NotNil(t, logs[0].IPAddress)
	assert.Equal(t, "10.0.0.1", *logs[0].IPAddress)
	assert.Equal(t, "github", logs[0].Metadata["provider"])
}

func TestCompleteAuditsEachOutcome(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	svc := newLoginService(s)

	first := svc.Complete(ctx, LoginRequest{Result: ghLogin("1")})
	other := svc.Complete(ctx, LoginRequest{Result: ghLogin("2")})
	s.SeedLegacyUser("Legacy", "https://www.google.com/profiles/g")

	tests := []struct {
		name    string
		req     LoginRequest
		kind    identity.Kind
		actions []entities.AuditAction
	}{
		{"returning", LoginRequest{Result: ghLogin("1")}, identity.UseExistingUser,
			[]entities.AuditAction{entities.ActionUserLogin}},
		{"link", LoginRequest{Result: identity.Succeeded(identity.Assertion{Provider: "twitter", ExternalID: "t"}), SessionUserID: first.User.ID},
			identity.LinkAndUseExistingSession,
			[]entities.AuditAction{entities.ActionIdentityLinked, entities.ActionUserLogin}},
		{"migrate", LoginRequest{Result: identity.Succeeded(identity.Assertion{Provider: "google", ExternalID: "g"})},
			identity.MigrateLegacyUser,
			[]entities.AuditAction{entities.ActionIdentityMigrated, entities.ActionUserLogin}},
		{"reject", LoginRequest{Result: ghLogin("1"), SessionUserID: other.User.ID}, identity.RejectConflict,
			[]entities.AuditAction{entities.ActionIdentityLinkRejected}},
		{"provider error", LoginRequest{Result: identity.Failed("denied")}, identity.PropagateProviderError,
			[]entities.AuditAction{entities.ActionUserLoginFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(actions(t, s))
			out := svc.Complete(ctx, tt.req)
			require.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.actions, actions(t, s)[before:])
		})
	}
}

// nameRace lets another login claim the same username just before the first unit commits
type nameRace struct {
	*memory.Store
	raced bool
}

type racingUnit struct {
	identity.AccountStore
	race *nameRace
}

func (r *nameRace) Begin(ctx context.Context) (identity.AccountStore, error) {
	u, err := r.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &racingUnit{AccountStore: u, race: r}, nil
}

func (u *racingUnit) Commit() error {
	if !u.race.raced {
		u.race.raced = true
		other, err := u.race.Store.Begin(context.Background())
		if err != nil {
			return err
		}
		if _, err := other.CreateUser(context.Background(), "Dev 1", "gitlab", "1", ""); err != nil {
			return err
		}
		if err := other.Commit(); err != nil {
			return err
		}
	}
	return u.AccountStore.Commit()
}

func TestCompleteAuditsStoredNameAfterNameRace(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	repos := s.Repositories()
	svc := NewLoginService(identity.NewResolver(&nameRace{Store: s}), repos.Users, repos.Audit, discard)

	out := svc.Complete(ctx, LoginRequest{Result: ghLogin("1")})
	require.Equal(t, identity.CreateNewUser, out.Kind)
	assert.Equal(t, "dev-11", out.User.Name)

	stored, err := repos.Users.GetByID(ctx, out.User.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Name, out.User.Name)

	action := entities.ActionUserCreated
	logs, _, err := repos.Audit.List(ctx, repositories.ListAuditLogsOptions{Action: &action})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, stored.Name, logs[0].Metadata[entities.MetaName])
	assert.Equal(t, 2, s.UserCount())
}

func TestCompleteRetriesConflictOnce(t *testing.T) {
	user := &entities.User{ID: "7"}
	r := &scriptedResolver{outcomes: []identity.Outcome{
		{Kind: identity.Conflict, Provider: "github", Err: identity.ErrConflict},
		{Kind: identity.UseExistingUser, Provider: "github", User: user},
	}}
	s := memory.NewStore()
	svc := NewLoginService(r, s.Repositories().Users, nil, discard)

	out := svc.Complete(context.Background(), LoginRequest{Result: ghLogin("1")})

	assert.Equal(t, 2, r.calls)
	assert.Equal(t, identity.UseExistingUser, out.Kind)
	assert.Equal(t, "7", out.User.ID)
}

func TestCompleteSurfacesSecondConflict(t *testing.T) {
	conflict := identity.Outcome{Kind: identity.Conflict, Provider: "github", Err: identity.ErrConflict, Message: "try again"}
	r := &scriptedResolver{outcomes: []identity.Outcome{conflict, conflict, conflict}}
	s := memory.NewStore()
	svc := NewLoginService(r, s.Repositories().Users, s.Repositories().Audit, discard)

	out := svc.Complete(context.Background(), LoginRequest{Result: ghLogin("1")})

	assert.Equal(t, 2, r.calls, "exactly one retry")
	assert.Equal(t, identity.Conflict, out.Kind)
	assert.Equal(t, []entities.AuditAction{entities.ActionUserLoginFailed}, actions(t, s))
}

func TestCompleteDoesNotRetryOtherFailures(t *testing.T) {
	r := &scriptedResolver{outcomes: []identity.Outcome{
		{Kind: identity.StoreFailure, Err: errors.New("db down"), Message: "later"},
	}}
	svc := NewLoginService(r, memory.NewStore().Repositories().Users, nil, discard)

	out := svc.Complete(context.Background(), LoginRequest{Result: ghLogin("1")})
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, identity.StoreFailure, out.Kind)
}

func TestAuditFailureDoesNotFailLogin(t *testing.T) {
	s := memory.NewStore()
	audit := &failingAudit{}
	svc := NewLoginService(identity.NewResolver(s), s.Repositories().Users, audit, discard)

	out := svc.Complete(context.Background(), LoginRequest{Result: ghLogin("1")})

	assert.Equal(t, identity.CreateNewUser, out.Kind)
	assert.Equal(t, 2, audit.attempts)
}

func TestLastLoginFailureDoesNotFailLogin(t *testing.T) {
	// The scripted user does not exist in the store, so UpdateLastLogin fails.
	r := &scriptedResolver{outcomes: []identity.Outcome{
		{Kind: identity.UseExistingUser, Provider: "github", User: &entities.User{ID: "ghost"}},
	}}
	svc := NewLoginService(r, memory.NewStore().Repositories().Users, nil, discard)

	out := svc.Complete(context.Background(), LoginRequest{Result: ghLogin("1")})
	assert.Equal(t, identity.UseExistingUser, out.Kind)
}

func TestAuditEntriesRecordBinding(t *testing.T) {
	req := LoginRequest{Result: ghLogin("42"), SessionUserID: "7"}
	out := identity.Outcome{Kind: identity.RejectConflict, Provider: "github", Message: "already linked"}

	entries := auditEntries(req, out)
	require.Len(t, entries, 1)
	rejected := entries[0]
	assert.Equal(t, entities.ActionIdentityLinkRejected, rejected.Action)
	assert.Equal(t, "7", *rejected.UserID)
	assert.Equal(t, "github:42", *rejected.ResourceID)
	assert.Equal(t, "github", rejected.Provider())
	assert.False(t, rejected.Success)
	assert.Equal(t, "already linked", *rejected.ErrorMsg)

	failed := auditEntries(LoginRequest{Result: identity.Failed("denied")},
		identity.Outcome{Kind: identity.PropagateProviderError, Message: "denied"})
	require.Len(t, failed, 1)
	assert.Nil(t, failed[0].UserID)
	assert.Equal(t, "denied", *failed[0].ErrorMsg)
	assert.Empty(t, failed[0].Provider())
}
