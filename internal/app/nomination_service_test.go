package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game_night_bot/internal/domain/voting"
)

func TestRemoveGameScrubsBallots(t *testing.T) {
	svc, repo, _, _ := newTestEngine(testConfig(), 1, 2)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul", "Catan", "Wingspan")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"], ids["Catan"], ids["Wingspan"]}))
	require.NoError(t, svc.SubmitBallot(ctx, 2, true, []int64{ids["Catan"]}))

	require.NoError(t, svc.RemoveGame(ctx, "Catan"))

	cycle, err := repo.LatestCycle(ctx)
	require.NoError(t, err)

	games, err := repo.ListGames(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, games, 2)

	// Remaining ranks stay in order with the gap closed.
	b1, err := repo.GetBallot(ctx, cycle.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["Azul"], ids["Wingspan"]}, b1.RankedGameIDs)

	// Voter 2's only rank is gone; the ballot reverts to a draft.
	b2, err := repo.GetBallot(ctx, cycle.ID, 2)
	require.NoError(t, err)
	assert.False(t, b2.Submitted())
	assert.True(t, b2.Attending)

	err = svc.RemoveGame(ctx, "Catan")
	assert.ErrorAs(t, err, new(*voting.NotFoundError))
}

func TestMergeGameRewritesBallots(t *testing.T) {
	svc, repo, _, _ := newTestEngine(testConfig(), 1, 2)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul", "Catan", "Settlers of Catan")
	// Voter 1 ranked both spellings; voter 2 only the duplicate.
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"], ids["Settlers of Catan"], ids["Catan"]}))
	require.NoError(t, svc.SubmitBallot(ctx, 2, true, []int64{ids["Settlers of Catan"], ids["Azul"]}))

	require.NoError(t, svc.MergeGame(ctx, "Settlers of Catan", "Catan"))

	cycle, err := repo.LatestCycle(ctx)
	require.NoError(t, err)

	games, err := repo.ListGames(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, games, 2)

	// Voter 1 already ranked the canonical entry: the duplicate rank is
	// dropped and later ranks shift up.
	b1, err := repo.GetBallot(ctx, cycle.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["Azul"], ids["Catan"]}, b1.RankedGameIDs)

	// Voter 2's rank is reassigned in place.
	b2, err := repo.GetBallot(ctx, cycle.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["Catan"], ids["Azul"]}, b2.RankedGameIDs)
}

func TestMergeGameRejectsSelfMerge(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	openCycle(t, svc, "Azul")
	err := svc.MergeGame(ctx, "azul", "AZUL")
	assert.ErrorAs(t, err, new(*voting.ValidationError))
}

func TestSeedSkipsDuplicatesAndOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalGames = 3
	svc, _, _, _ := newTestEngine(cfg, 1)
	ctx := context.Background()

	_, err := svc.Start(ctx)
	require.NoError(t, err)

	added, skipped, err := svc.SeedGames(ctx, []string{"Azul", "azul", "Catan", "Wingspan", "Zendo"})
	require.NoError(t, err)

	assert.Len(t, added, 3)
	assert.Equal(t, []string{"azul", "Zendo"}, skipped)
}

func TestAbsorbPendingRespectsCapOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalGames = 2
	svc, repo, _, _ := newTestEngine(cfg, 1, 2, 3)
	ctx := context.Background()

	for i, name := range []string{"Azul", "Catan", "Wingspan"} {
		_, err := svc.Nominate(ctx, int64(i+1), name)
		require.NoError(t, err)
	}

	cycle, err := svc.Start(ctx)
	require.NoError(t, err)

	games, err := repo.ListGames(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.ElementsMatch(t, []string{"Azul", "Catan"},
		[]string{games[0].Name, games[1].Name})

	// Wingspan did not fit; the pool is cleared regardless.
	pending, err := repo.ListPendingNominations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
