package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"game_night_bot/internal/domain/voter"
	"game_night_bot/internal/domain/voting"
)

// RunoffService manages the single-pick tiebreak poll nested under a cycle.
// Like NominationService it runs under CycleService's lock and never takes
// its own.
type RunoffService struct {
	repo     voting.Repository
	voters   voter.Repository
	duration time.Duration
	now      func() time.Time
}

func NewRunoffService(repo voting.Repository, voters voter.Repository, duration time.Duration) *RunoffService {
	return &RunoffService{repo: repo, voters: voters, duration: duration, now: time.Now}
}

// OpenPoll creates the runoff poll over a tie set with the configured
// deadline.
func (s *RunoffService) OpenPoll(ctx context.Context, cycleID int64, tie []voting.Result) (*voting.RunoffPoll, error) {
	if len(tie) < 2 {
		return nil, fmt.Errorf("a runoff needs at least two tied games, got %d", len(tie))
	}
	gameIDs := make([]int64, len(tie))
	for i, r := range tie {
		gameIDs[i] = r.GameID
	}
	poll := &voting.RunoffPoll{
		CycleID:  cycleID,
		GameIDs:  gameIDs,
		Deadline: s.now().Add(s.duration),
		State:    voting.RunoffPending,
	}
	if err := s.repo.CreateRunoffPoll(ctx, poll); err != nil {
		return nil, fmt.Errorf("creating runoff poll: %w", err)
	}
	return poll, nil
}

// AcceptPick records one voter's tiebreak choice. Only attending authorized
// voters may pick, picks must target the tie set, and a re-pick replaces the
// previous one. Picks after the poll closes are rejected.
func (s *RunoffService) AcceptPick(ctx context.Context, cycle *voting.Cycle, voterID, gameID int64) error {
	if cycle.State != voting.StateRunoffOpen {
		return &voting.StateError{Op: "runoff pick", State: cycle.State}
	}

	authorized, err := s.voters.IsAuthorized(ctx, voterID)
	if err != nil {
		return fmt.Errorf("checking voter authorization: %w", err)
	}
	if !authorized {
		return &voting.AuthorizationError{UserID: voterID, Op: "runoff pick"}
	}

	ballot, err := s.repo.GetBallot(ctx, cycle.ID, voterID)
	if err != nil {
		if errors.Is(err, voting.ErrBallotNotFound) {
			return &voting.ValidationError{Reason: "only voters marked attending may vote in the runoff"}
		}
		return fmt.Errorf("loading ballot for runoff eligibility: %w", err)
	}
	if !ballot.Attending {
		return &voting.ValidationError{Reason: "only voters marked attending may vote in the runoff"}
	}

	poll, err := s.repo.GetRunoffPoll(ctx, cycle.ID)
	if err != nil {
		if errors.Is(err, voting.ErrPollNotFound) {
			return &voting.NotFoundError{Kind: "runoff poll", Ref: fmt.Sprintf("cycle %d", cycle.ID)}
		}
		return fmt.Errorf("loading runoff poll: %w", err)
	}
	if poll.State != voting.RunoffPending || s.now().After(poll.Deadline) {
		return &voting.StateError{Op: "runoff pick", State: cycle.State}
	}
	if !poll.Contains(gameID) {
		return &voting.ValidationError{Reason: "that game is not part of the runoff"}
	}

	pick := &voting.RunoffPick{
		CycleID:  cycle.ID,
		VoterID:  voterID,
		GameID:   gameID,
		PickedAt: s.now(),
	}
	if err := s.repo.UpsertRunoffPick(ctx, pick); err != nil {
		return fmt.Errorf("saving runoff pick: %w", err)
	}
	return nil
}

// RunoffOutcome is a resolved poll's verdict. Unresolved means the runoff
// itself tied or drew no picks; the engine surfaces that instead of breaking
// it arbitrarily, and an admin declares the winner afterwards.
type RunoffOutcome struct {
	WinnerGameID int64 // zero when Unresolved
	Unresolved   bool
	Leaders      []int64
	Counts       map[int64]int
}

// Resolve closes the poll and tallies the plurality. The poll is marked
// Resolved on a clean winner and Unresolved otherwise; either way it stops
// accepting picks.
func (s *RunoffService) Resolve(ctx context.Context, cycleID int64) (*RunoffOutcome, error) {
	poll, err := s.repo.GetRunoffPoll(ctx, cycleID)
	if err != nil {
		if errors.Is(err, voting.ErrPollNotFound) {
			return nil, &voting.NotFoundError{Kind: "runoff poll", Ref: fmt.Sprintf("cycle %d", cycleID)}
		}
		return nil, fmt.Errorf("loading runoff poll: %w", err)
	}

	picks, err := s.repo.ListRunoffPicks(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("listing runoff picks: %w", err)
	}

	leaders, counts := voting.Plurality(picks)
	outcome := &RunoffOutcome{Leaders: leaders, Counts: counts}
	if len(leaders) == 1 {
		outcome.WinnerGameID = leaders[0]
		poll.State = voting.RunoffResolved
	} else {
		outcome.Unresolved = true
		poll.State = voting.RunoffUnresolved
	}

	if err := s.repo.UpdateRunoffPoll(ctx, poll); err != nil {
		return nil, fmt.Errorf("updating runoff poll: %w", err)
	}
	return outcome, nil
}

// DeclareWinner records an admin's explicit choice after an unresolved
// runoff. The choice is restricted to the poll's tie set.
func (s *RunoffService) DeclareWinner(ctx context.Context, cycleID, gameID int64) error {
	poll, err := s.repo.GetRunoffPoll(ctx, cycleID)
	if err != nil {
		if errors.Is(err, voting.ErrPollNotFound) {
			return &voting.NotFoundError{Kind: "runoff poll", Ref: fmt.Sprintf("cycle %d", cycleID)}
		}
		return fmt.Errorf("loading runoff poll: %w", err)
	}
	if poll.State != voting.RunoffUnresolved {
		return &voting.ValidationError{Reason: "the runoff is not awaiting a declared winner"}
	}
	if !poll.Contains(gameID) {
		return &voting.ValidationError{Reason: "the declared winner must be one of the tied games"}
	}

	poll.State = voting.RunoffResolved
	if err := s.repo.UpdateRunoffPoll(ctx, poll); err != nil {
		return fmt.Errorf("updating runoff poll: %w", err)
	}
	return nil
}
