package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"game_night_bot/internal/domain/voting"
)

// Snapshot is the last-committed read view of the engine. Status and
// results queries serve from it without touching the transition lock;
// every committed mutation rebuilds it.
type Snapshot struct {
	Taken time.Time

	// Latest cycle, active or not. Nil before the first start.
	Cycle *voting.Cycle
	Games []*voting.Game

	Attending    int
	NotAttending int
	Submitted    int     // attending voters with a ranking on record
	Waiting      []int64 // attending voters still without one

	// Runoff view, set while the latest cycle is RunoffOpen or its poll
	// ended unresolved.
	Poll         *voting.RunoffPoll
	RunoffCounts map[int64]int

	// Final ranking of the most recent Completed cycle, winner first.
	LastCompleted *voting.Cycle
	LastResults   []voting.Result
}

// Status returns the engine's read view. Lock-free: concurrent transitions
// never block a status query.
func (s *CycleService) Status(ctx context.Context) (*Snapshot, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snap)
	return snap, nil
}

// Results returns the most recent Completed cycle and its final ranking,
// winner first. NotFoundError when no cycle has completed yet.
func (s *CycleService) Results(ctx context.Context) (*voting.Cycle, []voting.Result, error) {
	snap, err := s.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	if snap.LastCompleted == nil {
		return nil, nil, &voting.NotFoundError{Kind: "cycle", Ref: "completed"}
	}
	return snap.LastCompleted, snap.LastResults, nil
}

// refreshSnapshot rebuilds the read view after a committed mutation. A
// rebuild failure is logged but never fails the mutation that triggered it;
// the previous snapshot simply stays live.
func (s *CycleService) refreshSnapshot(ctx context.Context) {
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		s.log.WithError(err).Warn("could not refresh status snapshot")
		return
	}
	s.snapshot.Store(snap)
}

func (s *CycleService) buildSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Taken: s.now()}

	cycle, err := s.repo.LatestCycle(ctx)
	if err != nil {
		if errors.Is(err, voting.ErrCycleNotFound) {
			return snap, nil // no cycles yet
		}
		return nil, fmt.Errorf("loading latest cycle: %w", err)
	}
	snap.Cycle = cycle

	snap.Games, err = s.repo.ListGames(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}

	ballots, err := s.repo.ListBallots(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("listing ballots: %w", err)
	}
	for _, b := range ballots {
		if !b.Attending {
			snap.NotAttending++
			continue
		}
		snap.Attending++
		if b.Submitted() {
			snap.Submitted++
		} else {
			snap.Waiting = append(snap.Waiting, b.VoterID)
		}
	}

	poll, err := s.repo.GetRunoffPoll(ctx, cycle.ID)
	if err == nil {
		snap.Poll = poll
		picks, err := s.repo.ListRunoffPicks(ctx, cycle.ID)
		if err != nil {
			return nil, fmt.Errorf("listing runoff picks: %w", err)
		}
		_, snap.RunoffCounts = voting.Plurality(picks)
	} else if !errors.Is(err, voting.ErrPollNotFound) {
		return nil, fmt.Errorf("loading runoff poll: %w", err)
	}

	completed, err := s.repo.LatestCompletedCycle(ctx)
	if err == nil {
		snap.LastCompleted = completed
		snap.LastResults, err = s.finalRanking(ctx, completed)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, voting.ErrCycleNotFound) {
		return nil, fmt.Errorf("loading latest completed cycle: %w", err)
	}

	return snap, nil
}
