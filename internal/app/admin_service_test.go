package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game_night_bot/internal/domain/voting"
)

func TestAdminServiceGatesEveryOperation(t *testing.T) {
	voters := newMemVoters()
	admins := NewAdminService(voters, []int64{10})
	ctx := context.Background()

	assert.True(t, admins.IsAdmin(10))
	assert.False(t, admins.IsAdmin(11))

	_, err := admins.AddVoter(ctx, 11, 1, "")
	assert.ErrorAs(t, err, new(*voting.AuthorizationError))
	err = admins.RemoveVoter(ctx, 11, 1)
	assert.ErrorAs(t, err, new(*voting.AuthorizationError))
	_, err = admins.ListVoters(ctx, 11)
	assert.ErrorAs(t, err, new(*voting.AuthorizationError))
}

func TestAdminServiceVoterLifecycle(t *testing.T) {
	voters := newMemVoters()
	admins := NewAdminService(voters, []int64{10})
	ctx := context.Background()

	created, err := admins.AddVoter(ctx, 10, 1, "Sam")
	require.NoError(t, err)
	assert.True(t, created)

	// Re-adding refreshes the display name instead of duplicating.
	created, err = admins.AddVoter(ctx, 10, 1, "Sam R.")
	require.NoError(t, err)
	assert.False(t, created)

	list, err := admins.ListVoters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sam R.", list[0].DisplayName.String)

	require.NoError(t, admins.RemoveVoter(ctx, 10, 1))
	err = admins.RemoveVoter(ctx, 10, 1)
	assert.ErrorAs(t, err, new(*voting.NotFoundError))
}
