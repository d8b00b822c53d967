package voting

import (
	"sort"
	"time"
)

// RunoffState is the resolution state of a runoff poll.
type RunoffState string

const (
	RunoffPending RunoffState = "PENDING"
	// RunoffResolved means a plurality winner was found, or an admin
	// declared one after an unresolved tie.
	RunoffResolved RunoffState = "RESOLVED"
	// RunoffUnresolved means the runoff itself tied (or drew no picks).
	// The engine never breaks this arbitrarily; an admin must declare the
	// winner.
	RunoffUnresolved RunoffState = "UNRESOLVED"
)

// RunoffPoll is the single-pick tiebreak sub-vote nested under a cycle.
// GameIDs is the tie set carried from the parent scoring result.
type RunoffPoll struct {
	CycleID  int64
	GameIDs  []int64
	Deadline time.Time
	State    RunoffState
}

// Contains reports whether a game is part of the tie set.
func (p *RunoffPoll) Contains(gameID int64) bool {
	for _, id := range p.GameIDs {
		if id == gameID {
			return true
		}
	}
	return false
}

// RunoffPick is one voter's single choice in a runoff poll. At most one per
// (cycle, voter); a re-pick replaces the previous one.
type RunoffPick struct {
	CycleID  int64
	VoterID  int64
	GameID   int64
	PickedAt time.Time
}

// Plurality tallies single picks. leaders holds every game sharing the top
// pick count, sorted by id for determinism: length one is a clean plurality
// winner, length zero means no picks were cast, and length two or more is a
// runoff-level tie the caller must surface rather than break.
func Plurality(picks []*RunoffPick) (leaders []int64, counts map[int64]int) {
	counts = make(map[int64]int, len(picks))
	for _, p := range picks {
		counts[p.GameID]++
	}

	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	for id, n := range counts {
		if n == max {
			leaders = append(leaders, id)
		}
	}
	sort.Slice(leaders, func(i, j int) bool { return leaders[i] < leaders[j] })
	return leaders, counts
}
