package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"game_night_bot/internal/domain/voter"
	"game_night_bot/internal/domain/voting"
)

// AdminService is the authorization collaborator: it gates admin operations
// on the configured admin user IDs and manages the authorized-voter list.
type AdminService struct {
	voters   voter.Repository
	adminIDs map[int64]bool
}

func NewAdminService(voters voter.Repository, adminIDs []int64) *AdminService {
	ids := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = true
	}
	return &AdminService{voters: voters, adminIDs: ids}
}

// IsAdmin reports whether the user may issue admin operations.
func (s *AdminService) IsAdmin(userID int64) bool {
	return s.adminIDs[userID]
}

// Authorize returns an AuthorizationError unless the user is an admin.
func (s *AdminService) Authorize(userID int64, op string) error {
	if !s.adminIDs[userID] {
		return &voting.AuthorizationError{UserID: userID, Op: op}
	}
	return nil
}

// AddVoter puts a user on the authorized-voter list. Re-adding an existing
// voter refreshes their display name; created reports which case happened.
func (s *AdminService) AddVoter(ctx context.Context, performingAdminID, userID int64, displayName string) (created bool, err error) {
	if err := s.Authorize(performingAdminID, "addVoter"); err != nil {
		return false, err
	}

	v := &voter.AuthorizedVoter{
		UserID:  userID,
		AddedBy: performingAdminID,
	}
	if displayName != "" {
		v.DisplayName = sql.NullString{String: displayName, Valid: true}
	}

	created, err = s.voters.Upsert(ctx, v)
	if err != nil {
		return false, fmt.Errorf("upserting authorized voter %d: %w", userID, err)
	}
	return created, nil
}

// RemoveVoter takes a user off the authorized-voter list.
func (s *AdminService) RemoveVoter(ctx context.Context, performingAdminID, userID int64) error {
	if err := s.Authorize(performingAdminID, "removeVoter"); err != nil {
		return err
	}
	if err := s.voters.Remove(ctx, userID); err != nil {
		if errors.Is(err, voter.ErrVoterNotFound) {
			return &voting.NotFoundError{Kind: "voter", Ref: fmt.Sprintf("%d", userID)}
		}
		return fmt.Errorf("removing authorized voter %d: %w", userID, err)
	}
	return nil
}

// ListVoters returns the full authorized-voter list.
func (s *AdminService) ListVoters(ctx context.Context, performingAdminID int64) ([]*voter.AuthorizedVoter, error) {
	if err := s.Authorize(performingAdminID, "listVoters"); err != nil {
		return nil, err
	}
	voters, err := s.voters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing authorized voters: %w", err)
	}
	return voters, nil
}
