package voter

import (
	"context"
	"errors"
)

var ErrVoterNotFound = errors.New("voter not found")

// Repository persists the authorized-voter list.
type Repository interface {
	// Upsert adds a voter, or refreshes the display name of an existing
	// one. created reports whether the voter was new.
	Upsert(ctx context.Context, v *AuthorizedVoter) (created bool, err error)
	Remove(ctx context.Context, userID int64) error // ErrVoterNotFound if absent
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]*AuthorizedVoter, error)
}
