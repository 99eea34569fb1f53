package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/infrastructure/database/memory"
)

func TestUserService(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	login := newLoginService(s)
	out := login.Complete(ctx, LoginRequest{Result: ghLogin("1")})
	require.NotNil(t, out.User)

	svc := NewUserService(s.Repositories())

	user, err := svc.GetUserByID(ctx, out.User.ID)
	require.NoError(t, err)
	require.Len(t, user.Identities, 1)
	assert.Equal(t, "github", user.Identities[0].Provider)

	_, err = svc.GetUserByID(ctx, "missing")
	assert.True(t, IsUserNotFound(err))
	assert.Equal(t, "user_not_found", GetUserLookupFailureReason(err))
	assert.Equal(t, "identity_conflict", GetUserLookupFailureReason(fmt.Errorf("commit: %w", identity.ErrConflict)))
	assert.Equal(t, "canceled", GetUserLookupFailureReason(context.Canceled))

	byName, err := svc.FindUser(ctx, user.Name)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	byKey, err := svc.FindUser(ctx, "GitHub:1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byKey.ID)
	_, err = svc.FindUser(ctx, "github:999")
	assert.ErrorIs(t, err, repositories.ErrIdentityNotFound)
	_, err = svc.FindUser(ctx, "nobody")
	assert.True(t, IsUserNotFound(err))

	users, total, err := svc.ListUsers(ctx, repositories.ListUsersOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, users, 1)

	require.NoError(t, svc.RecordLogout(ctx, user.ID, "10.0.0.2", ""))
	activity, err := svc.RecentActivity(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, entities.ActionUserLogout, activity[0].Action)
}
