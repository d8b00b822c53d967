package voting

import "sort"

// Result is one game's aggregate standing in a closed cycle.
type Result struct {
	GameID   int64
	Name     string
	Score    float64 // Points averaged over every counted ballot
	Points   int     // raw points across counted ballots
	Mentions int     // counted ballots that ranked the game
}

// CountedBallots filters a scoring snapshot down to the ballots that count:
// attending voters with a submitted ranking. A ballot from a non-attending
// voter is excluded entirely even if submitted, and an attending voter who
// never ranked contributes nothing to numerator or denominator.
func CountedBallots(ballots []*Ballot) []*Ballot {
	counted := make([]*Ballot, 0, len(ballots))
	for _, b := range ballots {
		if b.Attending && b.Submitted() {
			counted = append(counted, b)
		}
	}
	return counted
}

// Score converts counted ballots into per-game aggregates. On a ballot
// ranking k games, the game at rank i (1-indexed, 1 = favorite) receives
// k-i+1 points; games the ballot leaves unranked receive 0 from it. Every
// game's average divides by the full counted-ballot count, so a game ranked
// on few ballots is dragged down rather than judged only by its fans.
//
// Results come back sorted by score descending, display name ascending
// within equal scores so output is deterministic. The secondary ordering is
// presentational only; winner ties are detected by TieSet, never broken by
// name.
func Score(games []*Game, ballots []*Ballot) []Result {
	counted := CountedBallots(ballots)
	if len(counted) == 0 || len(games) == 0 {
		return nil
	}

	points := make(map[int64]int, len(games))
	mentions := make(map[int64]int, len(games))
	for _, b := range counted {
		k := len(b.RankedGameIDs)
		for i, gameID := range b.RankedGameIDs {
			points[gameID] += k - i
			mentions[gameID]++
		}
	}

	results := make([]Result, 0, len(games))
	for _, g := range games {
		results = append(results, Result{
			GameID:   g.ID,
			Name:     g.Name,
			Score:    float64(points[g.ID]) / float64(len(counted)),
			Points:   points[g.ID],
			Mentions: mentions[g.ID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})
	return results
}

// TieSet returns the games whose score is within epsilon of the leader.
// With epsilon 0 only exact equality ties. A returned set of size one means
// a clean winner; two or more means a runoff is required.
func TieSet(results []Result, epsilon float64) []Result {
	if len(results) == 0 {
		return nil
	}
	top := results[0].Score
	tied := make([]Result, 0, 2)
	for _, r := range results {
		if top-r.Score <= epsilon {
			tied = append(tied, r)
		}
	}
	return tied
}
