package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"game_night_bot/internal/domain/voting"
)

// Voter-facing operations. These share the transition lock with the state
// machine: a ballot mutation can never interleave with a close, so the
// scoring snapshot is always consistent.

// SetAttendance records whether a voter is coming this week. It creates an
// attendance-only ballot draft if the voter has not ranked yet; the draft is
// not counted at scoring time until a ranking lands.
func (s *CycleService) SetAttendance(ctx context.Context, voterID int64, attending bool) error {
	release, err := s.acquire("setAttendance")
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireAuthorized(ctx, voterID, "setAttendance"); err != nil {
		return err
	}
	cycle, err := s.mustCurrentState(ctx, "setAttendance", voting.StateOpen)
	if err != nil {
		return err
	}

	ballot, err := s.repo.GetBallot(ctx, cycle.ID, voterID)
	if err != nil {
		if !errors.Is(err, voting.ErrBallotNotFound) {
			return fmt.Errorf("loading ballot: %w", err)
		}
		ballot = &voting.Ballot{CycleID: cycle.ID, VoterID: voterID}
	}
	ballot.Attending = attending
	ballot.SubmittedAt = s.now()

	if err := withRetry(ctx, func() error { return s.repo.UpsertBallot(ctx, ballot) }); err != nil {
		return fmt.Errorf("saving attendance: %w", err)
	}
	s.refreshSnapshot(ctx)
	return nil
}

// SubmitBallot is the vote operation: one atomic upsert of the voter's
// attendance flag and full ranking, keyed by (voter, cycle). A resubmission
// replaces the previous ballot wholesale: last write wins, never a partial
// merge. Votes against a cycle that is no longer Open are rejected.
func (s *CycleService) SubmitBallot(ctx context.Context, voterID int64, attending bool, rankedGameIDs []int64) error {
	release, err := s.acquire("vote")
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireAuthorized(ctx, voterID, "vote"); err != nil {
		return err
	}
	cycle, err := s.mustCurrentState(ctx, "vote", voting.StateOpen)
	if err != nil {
		return err
	}

	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("listing games for ballot validation: %w", err)
	}
	if err := voting.ValidateRanks(rankedGameIDs, games); err != nil {
		return err
	}

	ballot := &voting.Ballot{
		CycleID:       cycle.ID,
		VoterID:       voterID,
		Attending:     attending,
		RankedGameIDs: rankedGameIDs,
		SubmittedAt:   s.now(),
	}
	if err := withRetry(ctx, func() error { return s.repo.UpsertBallot(ctx, ballot) }); err != nil {
		return fmt.Errorf("saving ballot: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id": cycle.ID,
		"voter_id": voterID,
		"ranked":   len(rankedGameIDs),
	}).Debug("ballot submitted")
	s.refreshSnapshot(ctx)
	return nil
}

// SubmitRunoffPick records a voter's single tiebreak choice while a runoff
// is open.
func (s *CycleService) SubmitRunoffPick(ctx context.Context, voterID, gameID int64) error {
	release, err := s.acquire("runoffPick")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.repo.CurrentCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrNoCurrentCycle) {
			return &voting.NotFoundError{Kind: "cycle", Ref: "current"}
		}
		return fmt.Errorf("loading current cycle: %w", err)
	}

	if err := s.runoffs.AcceptPick(ctx, cycle, voterID, gameID); err != nil {
		return err
	}
	s.refreshSnapshot(ctx)
	return nil
}

// Nominate adds a voter's game suggestion. While a cycle is Open it goes on
// the ballot under the Nomination Manager's rules; while nothing is Open it
// parks in the pending pool for the next start.
func (s *CycleService) Nominate(ctx context.Context, voterID int64, name string) (onBallot bool, err error) {
	release, err := s.acquire("nominate")
	if err != nil {
		return false, err
	}
	defer release()

	if err := s.requireAuthorized(ctx, voterID, "nominate"); err != nil {
		return false, err
	}

	cycle, err := s.repo.CurrentCycle(ctx)
	if err != nil {
		if !errors.Is(err, voting.ErrNoCurrentCycle) {
			return false, fmt.Errorf("loading current cycle: %w", err)
		}
		if _, err := s.noms.NominatePending(ctx, voterID, name); err != nil {
			return false, err
		}
		return false, nil
	}
	if cycle.State != voting.StateOpen {
		// Mid-runoff the ballot is frozen; the nomination waits for the
		// next cycle.
		if _, err := s.noms.NominatePending(ctx, voterID, name); err != nil {
			return false, err
		}
		return false, nil
	}

	game, err := s.noms.Nominate(ctx, cycle, voterID, name)
	if err != nil {
		return false, err
	}
	s.refreshSnapshot(ctx)
	s.dispatch.Announce(fmt.Sprintf("%s was nominated for this week's ballot!", game.Name))
	return true, nil
}

// MyBallot returns the voter's current draft for the active cycle together
// with the cycle's games, so callers can render names for the ranked IDs.
func (s *CycleService) MyBallot(ctx context.Context, voterID int64) (*voting.Ballot, []*voting.Game, error) {
	cycle, err := s.repo.CurrentCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrNoCurrentCycle) {
			return nil, nil, &voting.NotFoundError{Kind: "cycle", Ref: "current"}
		}
		return nil, nil, fmt.Errorf("loading current cycle: %w", err)
	}

	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing games: %w", err)
	}

	ballot, err := s.repo.GetBallot(ctx, cycle.ID, voterID)
	if err != nil {
		if errors.Is(err, voting.ErrBallotNotFound) {
			return nil, games, nil
		}
		return nil, nil, fmt.Errorf("loading ballot: %w", err)
	}
	return ballot, games, nil
}

// AddGame, RemoveGame, MergeGame, and SeedGames are the admin ballot
// operations; they only run while the cycle is Open and delegate rule
// checks to the Nomination Manager.

func (s *CycleService) AddGame(ctx context.Context, name string) (*voting.Game, error) {
	release, err := s.acquire("addGame")
	if err != nil {
		return nil, err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "addGame", voting.StateOpen)
	if err != nil {
		return nil, err
	}
	game, err := s.noms.AddGame(ctx, cycle, name, false)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx)
	s.dispatch.Announce(fmt.Sprintf("%s was added to this week's ballot.", game.Name))
	return game, nil
}

func (s *CycleService) RemoveGame(ctx context.Context, name string) error {
	release, err := s.acquire("removeGame")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "removeGame", voting.StateOpen)
	if err != nil {
		return err
	}
	if err := s.noms.RemoveGame(ctx, cycle, name); err != nil {
		return err
	}
	s.refreshSnapshot(ctx)
	return nil
}

func (s *CycleService) MergeGame(ctx context.Context, fromName, intoName string) error {
	release, err := s.acquire("mergeGame")
	if err != nil {
		return err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "mergeGame", voting.StateOpen)
	if err != nil {
		return err
	}
	if err := s.noms.MergeGame(ctx, cycle, fromName, intoName); err != nil {
		return err
	}
	s.refreshSnapshot(ctx)
	return nil
}

func (s *CycleService) SeedGames(ctx context.Context, names []string) (added []*voting.Game, skipped []string, err error) {
	release, err := s.acquire("seed")
	if err != nil {
		return nil, nil, err
	}
	defer release()

	cycle, err := s.mustCurrentState(ctx, "seed", voting.StateOpen)
	if err != nil {
		return nil, nil, err
	}
	added, skipped, err = s.noms.Seed(ctx, cycle, names, false)
	if err != nil {
		return added, skipped, err
	}
	s.refreshSnapshot(ctx)
	return added, skipped, nil
}

func (s *CycleService) requireAuthorized(ctx context.Context, voterID int64, op string) error {
	ok, err := s.voters.IsAuthorized(ctx, voterID)
	if err != nil {
		return fmt.Errorf("checking authorization: %w", err)
	}
	if !ok {
		return &voting.AuthorizationError{UserID: voterID, Op: op}
	}
	return nil
}
