package database

import (
	"context"
	"database/sql"
	"fmt"

	"game_night_bot/internal/domain/voter"
)

// PostgresVoterRepository persists the authorized-voter list.
type PostgresVoterRepository struct {
	db *sql.DB
}

func NewPostgresVoterRepository(db *sql.DB) *PostgresVoterRepository {
	return &PostgresVoterRepository{db: db}
}

func (r *PostgresVoterRepository) Upsert(ctx context.Context, v *voter.AuthorizedVoter) (bool, error) {
	query := `INSERT INTO authorized_voters (user_id, added_by, display_name)
              VALUES ($1, $2, $3)
              ON CONFLICT (user_id)
              DO UPDATE SET display_name = EXCLUDED.display_name
              RETURNING added_at, (xmax = 0) AS created`
	var created bool
	err := r.db.QueryRowContext(ctx, query, v.UserID, v.AddedBy, v.DisplayName).Scan(&v.AddedAt, &created)
	if err != nil {
		return false, fmt.Errorf("error upserting voter: %w", err)
	}
	return created, nil
}

func (r *PostgresVoterRepository) Remove(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM authorized_voters WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("error removing voter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voter.ErrVoterNotFound
	}
	return nil
}

func (r *PostgresVoterRepository) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM authorized_voters WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking voter authorization: %w", err)
	}
	return exists, nil
}

func (r *PostgresVoterRepository) List(ctx context.Context) ([]*voter.AuthorizedVoter, error) {
	query := `SELECT user_id, added_by, display_name, added_at
              FROM authorized_voters ORDER BY added_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing voters: %w", err)
	}
	defer rows.Close()

	voters := make([]*voter.AuthorizedVoter, 0)
	for rows.Next() {
		v := &voter.AuthorizedVoter{}
		if err := rows.Scan(&v.UserID, &v.AddedBy, &v.DisplayName, &v.AddedAt); err != nil {
			return nil, fmt.Errorf("error scanning voter: %w", err)
		}
		voters = append(voters, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voters: %w", err)
	}
	return voters, nil
}
