package app

import (
	"context"
	"errors"
	"time"

	"game_night_bot/internal/domain/voter"
	"game_night_bot/internal/domain/voting"
)

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 100 * time.Millisecond
)

// withRetry re-runs a store operation a bounded number of times with a
// doubling backoff. Engine error kinds and repository sentinels are terminal
// and returned straight away; only unrecognized (presumed transient) store
// failures retry.
func withRetry(ctx context.Context, op func() error) error {
	backoff := storeRetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil || !retryable(err) {
			return err
		}
		if attempt == storeRetryAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func retryable(err error) bool {
	var (
		vErr *voting.ValidationError
		sErr *voting.StateError
		aErr *voting.AuthorizationError
		nErr *voting.NotFoundError
	)
	if errors.As(err, &vErr) || errors.As(err, &sErr) || errors.As(err, &aErr) || errors.As(err, &nErr) {
		return false
	}
	switch {
	case errors.Is(err, voting.ErrCycleNotFound),
		errors.Is(err, voting.ErrNoCurrentCycle),
		errors.Is(err, voting.ErrGameNotFound),
		errors.Is(err, voting.ErrBallotNotFound),
		errors.Is(err, voting.ErrPollNotFound),
		errors.Is(err, voting.ErrDuplicateGame),
		errors.Is(err, voting.ErrDuplicatePending),
		errors.Is(err, voter.ErrVoterNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
