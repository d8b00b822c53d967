package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"game_night_bot/internal/domain/voting"
)

// PostgresVotingRepository is the Ballot Store: cycles, games, ballots,
// runoff polls, and pending nominations.
type PostgresVotingRepository struct {
	db *sql.DB
}

func NewPostgresVotingRepository(db *sql.DB) *PostgresVotingRepository {
	return &PostgresVotingRepository{db: db}
}

func (r *PostgresVotingRepository) CreateCycle(ctx context.Context, c *voting.Cycle) error {
	query := `INSERT INTO cycles (week_date, state)
              VALUES ($1, $2)
              RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, c.WeekDate, c.State).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating cycle: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) UpdateCycle(ctx context.Context, c *voting.Cycle) error {
	query := `UPDATE cycles
              SET state = $1, opened_at = $2, closed_at = $3, completed_at = $4, winner_game_id = $5
              WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, c.State, c.OpenedAt, c.ClosedAt, c.CompletedAt, c.WinnerGameID, c.ID)
	if err != nil {
		return fmt.Errorf("error updating cycle: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.ErrCycleNotFound
	}
	return nil
}

func (r *PostgresVotingRepository) DeleteCycle(ctx context.Context, id int64) error {
	// Games, ballots, and runoff rows cascade with the cycle.
	res, err := r.db.ExecContext(ctx, `DELETE FROM cycles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting cycle: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.ErrCycleNotFound
	}
	return nil
}

const cycleColumns = `id, week_date, state, opened_at, closed_at, completed_at, winner_game_id, created_at`

func (r *PostgresVotingRepository) scanCycle(row *sql.Row) (*voting.Cycle, error) {
	c := &voting.Cycle{}
	err := row.Scan(&c.ID, &c.WeekDate, &c.State, &c.OpenedAt, &c.ClosedAt, &c.CompletedAt, &c.WinnerGameID, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, voting.ErrCycleNotFound
		}
		return nil, fmt.Errorf("error scanning cycle: %w", err)
	}
	return c, nil
}

func (r *PostgresVotingRepository) GetCycleByID(ctx context.Context, id int64) (*voting.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE id = $1`
	return r.scanCycle(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresVotingRepository) CurrentCycle(ctx context.Context) (*voting.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles
              WHERE state IN ($1, $2) ORDER BY id DESC LIMIT 1`
	c, err := r.scanCycle(r.db.QueryRowContext(ctx, query, voting.StateOpen, voting.StateRunoffOpen))
	if err == voting.ErrCycleNotFound {
		return nil, voting.ErrNoCurrentCycle
	}
	return c, err
}

func (r *PostgresVotingRepository) LatestCompletedCycle(ctx context.Context) (*voting.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE state = $1 ORDER BY id DESC LIMIT 1`
	return r.scanCycle(r.db.QueryRowContext(ctx, query, voting.StateCompleted))
}

func (r *PostgresVotingRepository) LatestCycle(ctx context.Context) (*voting.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles ORDER BY id DESC LIMIT 1`
	return r.scanCycle(r.db.QueryRowContext(ctx, query))
}

func (r *PostgresVotingRepository) AddGame(ctx context.Context, g *voting.Game) error {
	query := `INSERT INTO games (cycle_id, name, norm_key, nominated_by, carried_over)
              VALUES ($1, $2, $3, $4, $5)
              RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, g.CycleID, g.Name, g.NormKey, g.NominatedBy, g.CarriedOver).
		Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return voting.ErrDuplicateGame
		}
		return fmt.Errorf("error adding game: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) RemoveGame(ctx context.Context, cycleID, gameID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE cycle_id = $1 AND id = $2`, cycleID, gameID)
	if err != nil {
		return fmt.Errorf("error removing game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.ErrGameNotFound
	}
	return nil
}

const gameColumns = `id, cycle_id, name, norm_key, nominated_by, carried_over, created_at`

func (r *PostgresVotingRepository) GetGameByNormKey(ctx context.Context, cycleID int64, normKey string) (*voting.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE cycle_id = $1 AND norm_key = $2`
	g := &voting.Game{}
	err := r.db.QueryRowContext(ctx, query, cycleID, normKey).
		Scan(&g.ID, &g.CycleID, &g.Name, &g.NormKey, &g.NominatedBy, &g.CarriedOver, &g.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, voting.ErrGameNotFound
		}
		return nil, fmt.Errorf("error getting game by normalized name: %w", err)
	}
	return g, nil
}

func (r *PostgresVotingRepository) ListGames(ctx context.Context, cycleID int64) ([]*voting.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE cycle_id = $1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing games: %w", err)
	}
	defer rows.Close()

	games := make([]*voting.Game, 0)
	for rows.Next() {
		g := &voting.Game{}
		if err := rows.Scan(&g.ID, &g.CycleID, &g.Name, &g.NormKey, &g.NominatedBy, &g.CarriedOver, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning game: %w", err)
		}
		games = append(games, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating games: %w", err)
	}
	return games, nil
}

func (r *PostgresVotingRepository) UpsertBallot(ctx context.Context, b *voting.Ballot) error {
	query := `INSERT INTO ballots (cycle_id, voter_id, attending, ranks, submitted_at)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT (cycle_id, voter_id)
              DO UPDATE SET attending = EXCLUDED.attending, ranks = EXCLUDED.ranks, submitted_at = EXCLUDED.submitted_at`
	_, err := r.db.ExecContext(ctx, query, b.CycleID, b.VoterID, b.Attending, pq.Array(b.RankedGameIDs), b.SubmittedAt)
	if err != nil {
		return fmt.Errorf("error upserting ballot: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) GetBallot(ctx context.Context, cycleID, voterID int64) (*voting.Ballot, error) {
	query := `SELECT cycle_id, voter_id, attending, ranks, submitted_at
              FROM ballots WHERE cycle_id = $1 AND voter_id = $2`
	b := &voting.Ballot{}
	var ranks pq.Int64Array
	err := r.db.QueryRowContext(ctx, query, cycleID, voterID).
		Scan(&b.CycleID, &b.VoterID, &b.Attending, &ranks, &b.SubmittedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, voting.ErrBallotNotFound
		}
		return nil, fmt.Errorf("error getting ballot: %w", err)
	}
	b.RankedGameIDs = []int64(ranks)
	return b, nil
}

func (r *PostgresVotingRepository) ListBallots(ctx context.Context, cycleID int64) ([]*voting.Ballot, error) {
	query := `SELECT cycle_id, voter_id, attending, ranks, submitted_at
              FROM ballots WHERE cycle_id = $1 ORDER BY voter_id`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing ballots: %w", err)
	}
	defer rows.Close()

	ballots := make([]*voting.Ballot, 0)
	for rows.Next() {
		b := &voting.Ballot{}
		var ranks pq.Int64Array
		if err := rows.Scan(&b.CycleID, &b.VoterID, &b.Attending, &ranks, &b.SubmittedAt); err != nil {
			return nil, fmt.Errorf("error scanning ballot: %w", err)
		}
		b.RankedGameIDs = []int64(ranks)
		ballots = append(ballots, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ballots: %w", err)
	}
	return ballots, nil
}

func (r *PostgresVotingRepository) CreateRunoffPoll(ctx context.Context, p *voting.RunoffPoll) error {
	query := `INSERT INTO runoff_polls (cycle_id, game_ids, deadline, state) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, p.CycleID, pq.Array(p.GameIDs), p.Deadline, p.State)
	if err != nil {
		return fmt.Errorf("error creating runoff poll: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) UpdateRunoffPoll(ctx context.Context, p *voting.RunoffPoll) error {
	query := `UPDATE runoff_polls SET game_ids = $1, deadline = $2, state = $3 WHERE cycle_id = $4`
	res, err := r.db.ExecContext(ctx, query, pq.Array(p.GameIDs), p.Deadline, p.State, p.CycleID)
	if err != nil {
		return fmt.Errorf("error updating runoff poll: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.ErrPollNotFound
	}
	return nil
}

func (r *PostgresVotingRepository) GetRunoffPoll(ctx context.Context, cycleID int64) (*voting.RunoffPoll, error) {
	query := `SELECT cycle_id, game_ids, deadline, state FROM runoff_polls WHERE cycle_id = $1`
	p := &voting.RunoffPoll{}
	var gameIDs pq.Int64Array
	err := r.db.QueryRowContext(ctx, query, cycleID).Scan(&p.CycleID, &gameIDs, &p.Deadline, &p.State)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, voting.ErrPollNotFound
		}
		return nil, fmt.Errorf("error getting runoff poll: %w", err)
	}
	p.GameIDs = []int64(gameIDs)
	return p, nil
}

func (r *PostgresVotingRepository) UpsertRunoffPick(ctx context.Context, pick *voting.RunoffPick) error {
	query := `INSERT INTO runoff_picks (cycle_id, voter_id, game_id, picked_at)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (cycle_id, voter_id)
              DO UPDATE SET game_id = EXCLUDED.game_id, picked_at = EXCLUDED.picked_at`
	_, err := r.db.ExecContext(ctx, query, pick.CycleID, pick.VoterID, pick.GameID, pick.PickedAt)
	if err != nil {
		return fmt.Errorf("error upserting runoff pick: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) ListRunoffPicks(ctx context.Context, cycleID int64) ([]*voting.RunoffPick, error) {
	query := `SELECT cycle_id, voter_id, game_id, picked_at FROM runoff_picks WHERE cycle_id = $1`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing runoff picks: %w", err)
	}
	defer rows.Close()

	picks := make([]*voting.RunoffPick, 0)
	for rows.Next() {
		p := &voting.RunoffPick{}
		if err := rows.Scan(&p.CycleID, &p.VoterID, &p.GameID, &p.PickedAt); err != nil {
			return nil, fmt.Errorf("error scanning runoff pick: %w", err)
		}
		picks = append(picks, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runoff picks: %w", err)
	}
	return picks, nil
}

func (r *PostgresVotingRepository) AddPendingNomination(ctx context.Context, n *voting.PendingNomination) error {
	query := `INSERT INTO pending_nominations (name, norm_key, nominated_by)
              VALUES ($1, $2, $3)
              RETURNING id, nominated_at`
	err := r.db.QueryRowContext(ctx, query, n.Name, n.NormKey, n.NominatedBy).Scan(&n.ID, &n.NominatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return voting.ErrDuplicatePending
		}
		return fmt.Errorf("error adding pending nomination: %w", err)
	}
	return nil
}

func (r *PostgresVotingRepository) ListPendingNominations(ctx context.Context) ([]*voting.PendingNomination, error) {
	query := `SELECT id, name, norm_key, nominated_by, nominated_at
              FROM pending_nominations ORDER BY nominated_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing pending nominations: %w", err)
	}
	defer rows.Close()

	noms := make([]*voting.PendingNomination, 0)
	for rows.Next() {
		n := &voting.PendingNomination{}
		if err := rows.Scan(&n.ID, &n.Name, &n.NormKey, &n.NominatedBy, &n.NominatedAt); err != nil {
			return nil, fmt.Errorf("error scanning pending nomination: %w", err)
		}
		noms = append(noms, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending nominations: %w", err)
	}
	return noms, nil
}

func (r *PostgresVotingRepository) CountPendingByVoter(ctx context.Context, voterID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_nominations WHERE nominated_by = $1`, voterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting pending nominations: %w", err)
	}
	return count, nil
}

func (r *PostgresVotingRepository) ClearPendingNominations(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_nominations`); err != nil {
		return fmt.Errorf("error clearing pending nominations: %w", err)
	}
	return nil
}
