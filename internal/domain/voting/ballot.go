package voting

import (
	"fmt"
	"time"
)

// Ballot is one voter's attendance flag plus ranked game preferences for a
// cycle. RankedGameIDs[0] is the favorite. A ballot with an empty ranking is
// an attendance-only draft; it records whether the voter is coming but does
// not count at scoring time.
type Ballot struct {
	CycleID       int64
	VoterID       int64
	Attending     bool
	RankedGameIDs []int64
	SubmittedAt   time.Time
}

// Submitted reports whether the voter has completed the ranking half of the
// ballot draft.
func (b *Ballot) Submitted() bool {
	return len(b.RankedGameIDs) > 0
}

// ValidateRanks checks a rank sequence against the cycle's games: between 1
// and len(games) entries, no duplicates, and every entry a game of the cycle.
func ValidateRanks(ranks []int64, games []*Game) error {
	if len(ranks) == 0 {
		return &ValidationError{Reason: "ranking must contain at least one game"}
	}
	if len(ranks) > len(games) {
		return &ValidationError{Reason: fmt.Sprintf("ranking lists %d games but the cycle only has %d", len(ranks), len(games))}
	}

	onBallot := make(map[int64]bool, len(games))
	for _, g := range games {
		onBallot[g.ID] = true
	}

	seen := make(map[int64]bool, len(ranks))
	for _, id := range ranks {
		if !onBallot[id] {
			return &ValidationError{Reason: fmt.Sprintf("game %d is not on this cycle's ballot", id)}
		}
		if seen[id] {
			return &ValidationError{Reason: fmt.Sprintf("game %d appears more than once in the ranking", id)}
		}
		seen[id] = true
	}
	return nil
}
