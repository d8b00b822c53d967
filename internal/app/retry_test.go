package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game_night_bot/internal/domain/voting"
)

func TestWithRetryRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnTerminalErrors(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return voting.ErrDuplicateGame
	})

	assert.ErrorIs(t, err, voting.ErrDuplicateGame)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withRetry(context.Background(), func() error {
		calls++
		return &voting.StateError{Op: "close", State: voting.StateCompleted}
	})

	assert.ErrorAs(t, err, new(*voting.StateError))
	assert.Equal(t, 1, calls)
}

func TestWithRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("still broken")
	})

	assert.Error(t, err)
	assert.Equal(t, storeRetryAttempts, calls)
}
