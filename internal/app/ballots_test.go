package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game_night_bot/internal/domain/voting"
)

func TestSubmitBallotLastWriteWins(t *testing.T) {
	svc, repo, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul", "Catan", "Wingspan")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"], ids["Catan"], ids["Wingspan"]}))
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Wingspan"]}))

	cycle, err := repo.LatestCycle(ctx)
	require.NoError(t, err)
	ballot, err := repo.GetBallot(ctx, cycle.ID, 1)
	require.NoError(t, err)

	// The resubmission replaced the ballot wholesale.
	assert.Equal(t, []int64{ids["Wingspan"]}, ballot.RankedGameIDs)

	ballots, err := repo.ListBallots(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func TestSubmitBallotValidation(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul", "Catan")

	tests := []struct {
		name  string
		ranks []int64
	}{
		{"empty ranking", nil},
		{"duplicate", []int64{ids["Azul"], ids["Azul"]}},
		{"unknown game", []int64{ids["Azul"], 999}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SubmitBallot(ctx, 1, true, tt.ranks)
			assert.ErrorAs(t, err, new(*voting.ValidationError))
		})
	}
}

func TestSubmitBallotRequiresAuthorization(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul")
	err := svc.SubmitBallot(ctx, 99, true, []int64{ids["Azul"]})

	var authErr *voting.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.EqualValues(t, 99, authErr.UserID)
}

func TestSetAttendanceKeepsExistingRanking(t *testing.T) {
	svc, repo, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"]}))
	require.NoError(t, svc.SetAttendance(ctx, 1, false))

	cycle, err := repo.LatestCycle(ctx)
	require.NoError(t, err)
	ballot, err := repo.GetBallot(ctx, cycle.ID, 1)
	require.NoError(t, err)

	assert.False(t, ballot.Attending)
	assert.Equal(t, []int64{ids["Azul"]}, ballot.RankedGameIDs)
}

func TestNominateDuringRunoffParksForNextCycle(t *testing.T) {
	svc, repo, _, _ := newTestEngine(testConfig(), 1, 2)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul", "Catan")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"], ids["Catan"]}))
	require.NoError(t, svc.SubmitBallot(ctx, 2, true, []int64{ids["Catan"], ids["Azul"]}))
	require.NoError(t, svc.Close(ctx))

	onBallot, err := svc.Nominate(ctx, 1, "Wingspan")
	require.NoError(t, err)
	assert.False(t, onBallot)

	pending, err := repo.ListPendingNominations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Wingspan", pending[0].Name)
}

func TestNominateEnforcesQuotaAndCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalGames = 3
	cfg.NominationQuota = 2
	svc, _, _, _ := newTestEngine(cfg, 1, 2)
	ctx := context.Background()

	openCycle(t, svc)

	onBallot, err := svc.Nominate(ctx, 1, "Azul")
	require.NoError(t, err)
	assert.True(t, onBallot)
	_, err = svc.Nominate(ctx, 1, "Catan")
	require.NoError(t, err)

	// Quota of two exhausted.
	_, err = svc.Nominate(ctx, 1, "Wingspan")
	assert.ErrorAs(t, err, new(*voting.ValidationError))

	// Case-insensitive duplicate.
	_, err = svc.Nominate(ctx, 2, "  aZuL ")
	assert.ErrorAs(t, err, new(*voting.ValidationError))

	// Cap of three reached after another voter's nomination.
	_, err = svc.Nominate(ctx, 2, "Wingspan")
	require.NoError(t, err)
	_, err = svc.Nominate(ctx, 2, "Zendo")
	assert.ErrorAs(t, err, new(*voting.ValidationError))
}

func TestMyBallot(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	_, _, err := svc.MyBallot(ctx, 1)
	assert.ErrorAs(t, err, new(*voting.NotFoundError))

	ids := openCycle(t, svc, "Azul", "Catan")

	ballot, games, err := svc.MyBallot(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, ballot)
	assert.Len(t, games, 2)

	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Catan"]}))
	ballot, _, err = svc.MyBallot(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	assert.Equal(t, []int64{ids["Catan"]}, ballot.RankedGameIDs)
}

func TestStatusSnapshotTracksTallies(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1, 2, 3)
	ctx := context.Background()

	ids := openCycle(t, svc, "Azul")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Azul"]}))
	require.NoError(t, svc.SetAttendance(ctx, 2, true))
	require.NoError(t, svc.SetAttendance(ctx, 3, false))

	snap, err := svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Cycle)
	assert.Equal(t, voting.StateOpen, snap.Cycle.State)
	assert.Equal(t, 2, snap.Attending)
	assert.Equal(t, 1, snap.NotAttending)
	assert.Equal(t, 1, snap.Submitted)
	assert.Equal(t, []int64{2}, snap.Waiting)
}

func TestResultsAfterCompletion(t *testing.T) {
	svc, _, _, _ := newTestEngine(testConfig(), 1)
	ctx := context.Background()

	_, _, err := svc.Results(ctx)
	assert.ErrorAs(t, err, new(*voting.NotFoundError))

	ids := openCycle(t, svc, "Azul", "Catan")
	require.NoError(t, svc.SubmitBallot(ctx, 1, true, []int64{ids["Catan"], ids["Azul"]}))
	require.NoError(t, svc.Close(ctx))

	cycle, results, err := svc.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, voting.StateCompleted, cycle.State)
	require.Len(t, results, 2)
	assert.Equal(t, "Catan", results[0].Name)
	assert.True(t, cycle.WinnerGameID.Valid)
}
