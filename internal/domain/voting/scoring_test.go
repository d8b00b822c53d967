package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ballot(voterID int64, attending bool, ranks ...int64) *Ballot {
	return &Ballot{CycleID: 1, VoterID: voterID, Attending: attending, RankedGameIDs: ranks}
}

func testGames(names ...string) []*Game {
	games := make([]*Game, len(names))
	for i, name := range names {
		games[i] = &Game{ID: int64(i + 1), CycleID: 1, Name: name, NormKey: NormalizeName(name)}
	}
	return games
}

func TestScoreAveragesOverAllCountedBallots(t *testing.T) {
	games := testGames("Azul", "Catan", "Wingspan")

	// Azul is everyone's favorite; Wingspan appears on only one ballot and
	// is dragged down by the shared denominator.
	results := Score(games, []*Ballot{
		ballot(1, true, 1, 2),    // Azul 2, Catan 1
		ballot(2, true, 1, 3, 2), // Azul 3, Wingspan 2, Catan 1
	})
	require.Len(t, results, 3)

	assert.Equal(t, "Azul", results[0].Name)
	assert.InDelta(t, 2.5, results[0].Score, 1e-9)
	assert.Equal(t, 5, results[0].Points)
	assert.Equal(t, 2, results[0].Mentions)

	assert.Equal(t, "Catan", results[1].Name)
	assert.InDelta(t, 1.0, results[1].Score, 1e-9)

	assert.Equal(t, "Wingspan", results[2].Name)
	assert.InDelta(t, 1.0, results[2].Score, 1e-9)
	assert.Equal(t, 1, results[2].Mentions)
}

func TestScoreSkipsNonCountedBallots(t *testing.T) {
	games := testGames("Azul", "Catan")

	results := Score(games, []*Ballot{
		ballot(1, true, 1, 2),  // counted
		ballot(2, false, 2, 1), // submitted but not attending: ignored
		ballot(3, true),        // attending but never ranked: ignored
	})
	require.Len(t, results, 2)

	// Denominator is 1, the single counted ballot.
	assert.InDelta(t, 2.0, results[0].Score, 1e-9)
	assert.InDelta(t, 1.0, results[1].Score, 1e-9)
}

func TestScoreNoCountedBallots(t *testing.T) {
	games := testGames("Azul")

	assert.Nil(t, Score(games, nil))
	assert.Nil(t, Score(games, []*Ballot{ballot(1, false, 1)}))
	assert.Nil(t, Score(nil, []*Ballot{ballot(1, true, 1)}))
}

func TestScoreUnrankedGameGetsZero(t *testing.T) {
	games := testGames("Azul", "Catan")

	results := Score(games, []*Ballot{ballot(1, true, 1)})
	require.Len(t, results, 2)
	assert.Equal(t, "Catan", results[1].Name)
	assert.Zero(t, results[1].Points)
	assert.Zero(t, results[1].Score)
}

func TestScoreTiedLeaders(t *testing.T) {
	games := testGames("Azul", "Catan", "Wingspan")

	// Two full ballots with Azul and Catan swapped at the top.
	results := Score(games, []*Ballot{
		ballot(1, true, 1, 2, 3),
		ballot(2, true, 2, 1, 3),
	})
	require.Len(t, results, 3)
	assert.InDelta(t, 2.5, results[0].Score, 1e-9)
	assert.InDelta(t, 2.5, results[1].Score, 1e-9)

	tie := TieSet(results, 0)
	require.Len(t, tie, 2)
	assert.ElementsMatch(t, []string{"Azul", "Catan"}, []string{tie[0].Name, tie[1].Name})
}

func TestTieSetEpsilon(t *testing.T) {
	results := []Result{
		{GameID: 1, Name: "Azul", Score: 2.50},
		{GameID: 2, Name: "Catan", Score: 2.45},
		{GameID: 3, Name: "Wingspan", Score: 1.00},
	}

	assert.Len(t, TieSet(results, 0), 1)
	assert.Len(t, TieSet(results, 0.05), 2)
	assert.Len(t, TieSet(results, 2), 3)
	assert.Nil(t, TieSet(nil, 0))
}

func TestScoreOrderDeterministicOnEqualScores(t *testing.T) {
	games := []*Game{
		{ID: 1, CycleID: 1, Name: "Zendo"},
		{ID: 2, CycleID: 1, Name: "Azul"},
	}

	// Neither game is ranked; both score zero and sort by name.
	results := Score(games, []*Ballot{ballot(1, true, 99)})
	require.Len(t, results, 2)
	assert.Equal(t, "Azul", results[0].Name)
	assert.Equal(t, "Zendo", results[1].Name)
}
