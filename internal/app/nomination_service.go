package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"game_night_bot/internal/domain/voting"
)

// NominationService enforces the nomination rules for a cycle's ballot:
// per-voter quota, total-game cap, and normalized-name uniqueness. It never
// checks cycle state or takes the cycle lock; CycleService calls it with
// both already handled.
type NominationService struct {
	repo     voting.Repository
	quota    int // nominations per voter per cycle
	maxGames int // total games per cycle
}

func NewNominationService(repo voting.Repository, quota, maxGames int) *NominationService {
	return &NominationService{repo: repo, quota: quota, maxGames: maxGames}
}

// Nominate adds a voter's nomination to an open cycle's ballot.
// Carried-over games do not count against the voter's quota.
func (s *NominationService) Nominate(ctx context.Context, cycle *voting.Cycle, voterID int64, name string) (*voting.Game, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &voting.ValidationError{Reason: "game name must not be empty"}
	}

	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing cycle games: %w", err)
	}
	if len(games) >= s.maxGames {
		return nil, &voting.ValidationError{Reason: fmt.Sprintf("the ballot is full (%d games max)", s.maxGames)}
	}

	used := 0
	for _, g := range games {
		if !g.CarriedOver && g.NominatedBy.Valid && g.NominatedBy.Int64 == voterID {
			used++
		}
	}
	if used >= s.quota {
		return nil, &voting.ValidationError{Reason: fmt.Sprintf("you have already used your %d nomination(s) this cycle", s.quota)}
	}

	game := &voting.Game{
		CycleID:     cycle.ID,
		Name:        name,
		NormKey:     voting.NormalizeName(name),
		NominatedBy: sql.NullInt64{Int64: voterID, Valid: true},
	}
	if err := s.repo.AddGame(ctx, game); err != nil {
		if errors.Is(err, voting.ErrDuplicateGame) {
			return nil, &voting.ValidationError{Reason: fmt.Sprintf("%q is already on this cycle's ballot", name)}
		}
		return nil, fmt.Errorf("adding nominated game: %w", err)
	}
	return game, nil
}

// NominatePending parks a nomination in the pending pool while no cycle is
// open. The pool shares the per-voter quota and is absorbed on the next
// start.
func (s *NominationService) NominatePending(ctx context.Context, voterID int64, name string) (*voting.PendingNomination, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &voting.ValidationError{Reason: "game name must not be empty"}
	}

	pending, err := s.repo.CountPendingByVoter(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("counting pending nominations: %w", err)
	}
	if pending >= s.quota {
		return nil, &voting.ValidationError{Reason: fmt.Sprintf("you already have %d pending nomination(s) for the next cycle", pending)}
	}

	nom := &voting.PendingNomination{
		Name:        name,
		NormKey:     voting.NormalizeName(name),
		NominatedBy: voterID,
	}
	if err := s.repo.AddPendingNomination(ctx, nom); err != nil {
		if errors.Is(err, voting.ErrDuplicatePending) {
			return nil, &voting.ValidationError{Reason: fmt.Sprintf("%q is already nominated for the next cycle", name)}
		}
		return nil, fmt.Errorf("adding pending nomination: %w", err)
	}
	return nom, nil
}

// AddGame is the admin path onto the ballot: the cap and duplicate checks
// still apply, the quota does not.
func (s *NominationService) AddGame(ctx context.Context, cycle *voting.Cycle, name string, carriedOver bool) (*voting.Game, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &voting.ValidationError{Reason: "game name must not be empty"}
	}

	games, err := s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing cycle games: %w", err)
	}
	if len(games) >= s.maxGames {
		return nil, &voting.ValidationError{Reason: fmt.Sprintf("the ballot is full (%d games max)", s.maxGames)}
	}

	game := &voting.Game{
		CycleID:     cycle.ID,
		Name:        name,
		NormKey:     voting.NormalizeName(name),
		CarriedOver: carriedOver,
	}
	if err := s.repo.AddGame(ctx, game); err != nil {
		if errors.Is(err, voting.ErrDuplicateGame) {
			return nil, &voting.ValidationError{Reason: fmt.Sprintf("%q is already on this cycle's ballot", name)}
		}
		return nil, fmt.Errorf("adding game: %w", err)
	}
	return game, nil
}

// RemoveGame takes a game off the ballot and scrubs it from every ballot
// ranking so submitted sequences stay valid for the cycle.
func (s *NominationService) RemoveGame(ctx context.Context, cycle *voting.Cycle, name string) error {
	game, err := s.repo.GetGameByNormKey(ctx, cycle.ID, voting.NormalizeName(name))
	if err != nil {
		if errors.Is(err, voting.ErrGameNotFound) {
			return &voting.NotFoundError{Kind: "game", Ref: name}
		}
		return fmt.Errorf("looking up game %q: %w", name, err)
	}

	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("listing ballots: %w", err)
	}
	for _, b := range ballots {
		trimmed := dropRank(b.RankedGameIDs, game.ID)
		if len(trimmed) == len(b.RankedGameIDs) {
			continue
		}
		b.RankedGameIDs = trimmed
		if err := s.repo.UpsertBallot(ctx, b); err != nil {
			return fmt.Errorf("scrubbing game from ballot of voter %d: %w", b.VoterID, err)
		}
	}

	if err := s.repo.RemoveGame(ctx, cycle.ID, game.ID); err != nil {
		return fmt.Errorf("removing game %q: %w", name, err)
	}
	return nil
}

// MergeGame folds the duplicate entry from into into: every ballot rank
// referencing from is reassigned to into, a ballot already ranking into
// drops the from rank instead, and orderings stay contiguous. The from
// game is then removed from the cycle.
func (s *NominationService) MergeGame(ctx context.Context, cycle *voting.Cycle, fromName, intoName string) error {
	into, err := s.repo.GetGameByNormKey(ctx, cycle.ID, voting.NormalizeName(intoName))
	if err != nil {
		if errors.Is(err, voting.ErrGameNotFound) {
			return &voting.NotFoundError{Kind: "game", Ref: intoName}
		}
		return fmt.Errorf("looking up merge target %q: %w", intoName, err)
	}
	from, err := s.repo.GetGameByNormKey(ctx, cycle.ID, voting.NormalizeName(fromName))
	if err != nil {
		if errors.Is(err, voting.ErrGameNotFound) {
			return &voting.NotFoundError{Kind: "game", Ref: fromName}
		}
		return fmt.Errorf("looking up merge source %q: %w", fromName, err)
	}
	if from.ID == into.ID {
		return &voting.ValidationError{Reason: "cannot merge a game into itself"}
	}

	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("listing ballots: %w", err)
	}
	for _, b := range ballots {
		merged, changed := mergeRanks(b.RankedGameIDs, from.ID, into.ID)
		if !changed {
			continue
		}
		b.RankedGameIDs = merged
		if err := s.repo.UpsertBallot(ctx, b); err != nil {
			return fmt.Errorf("rewriting ballot of voter %d: %w", b.VoterID, err)
		}
	}

	if err := s.repo.RemoveGame(ctx, cycle.ID, from.ID); err != nil {
		return fmt.Errorf("removing merged game %q: %w", fromName, err)
	}
	return nil
}

// Seed adds several games at once, skipping names already on the ballot and
// stopping silently at the cap. Returns the games actually added and the
// names skipped.
func (s *NominationService) Seed(ctx context.Context, cycle *voting.Cycle, names []string, carriedOver bool) (added []*voting.Game, skipped []string, err error) {
	for _, name := range names {
		game, err := s.AddGame(ctx, cycle, name, carriedOver)
		if err != nil {
			var vErr *voting.ValidationError
			if errors.As(err, &vErr) {
				skipped = append(skipped, strings.TrimSpace(name))
				continue
			}
			return added, skipped, err
		}
		added = append(added, game)
	}
	return added, skipped, nil
}

// AbsorbPending moves pending nominations onto a freshly opened cycle,
// oldest first, up to the slots left after carry-over. Entries colliding
// with a seeded game are dropped. The pool is cleared either way.
func (s *NominationService) AbsorbPending(ctx context.Context, cycle *voting.Cycle) (int, error) {
	pending, err := s.repo.ListPendingNominations(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending nominations: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	absorbed := 0
	for _, nom := range pending {
		game := &voting.Game{
			CycleID:     cycle.ID,
			Name:        nom.Name,
			NormKey:     nom.NormKey,
			NominatedBy: sql.NullInt64{Int64: nom.NominatedBy, Valid: true},
		}
		games, err := s.repo.ListGames(ctx, cycle.ID)
		if err != nil {
			return absorbed, fmt.Errorf("listing cycle games: %w", err)
		}
		if len(games) >= s.maxGames {
			break
		}
		if err := s.repo.AddGame(ctx, game); err != nil {
			if errors.Is(err, voting.ErrDuplicateGame) {
				continue // already seeded, e.g. a carry-over
			}
			return absorbed, fmt.Errorf("absorbing pending nomination %q: %w", nom.Name, err)
		}
		absorbed++
	}

	if err := s.repo.ClearPendingNominations(ctx); err != nil {
		return absorbed, fmt.Errorf("clearing pending nominations: %w", err)
	}
	return absorbed, nil
}

func dropRank(ranks []int64, gameID int64) []int64 {
	out := make([]int64, 0, len(ranks))
	for _, id := range ranks {
		if id != gameID {
			out = append(out, id)
		}
	}
	return out
}

func mergeRanks(ranks []int64, fromID, intoID int64) (out []int64, changed bool) {
	hasInto := false
	for _, id := range ranks {
		if id == intoID {
			hasInto = true
			break
		}
	}
	out = make([]int64, 0, len(ranks))
	for _, id := range ranks {
		switch {
		case id == fromID && hasInto:
			changed = true // duplicate rank dropped, later ranks shift up
		case id == fromID:
			out = append(out, intoID)
			changed = true
		default:
			out = append(out, id)
		}
	}
	return out, changed
}
