package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// RollRepository provides dice-roll persistence operations.
type RollRepository struct {
	db *pgxpool.Pool
}

// NewRollRepository creates a RollRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRollRepository(db *pgxpool.Pool) *RollRepository {
	return &RollRepository{db: db}
}

// Create inserts a roll record and sets its ID.
//
// Precondition: r.GameID must reference an existing game.
func (r *RollRepository) Create(ctx context.Context, roll *tabletop.Roll) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO rolls (game_id, name, color, sides, result, rolled)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		roll.GameID, roll.Name, roll.Color, roll.Sides, roll.Result, roll.Rolled,
	).Scan(&roll.ID)
	if err != nil {
		return fmt.Errorf("inserting roll: %w", err)
	}
	return nil
}

// ListSince returns a game's rolls made at or after the given instant,
// most recent first.
func (r *RollRepository) ListSince(ctx context.Context, gameID int64, since time.Time) ([]*tabletop.Roll, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, game_id, name, color, sides, result, rolled
		FROM rolls WHERE game_id = $1 AND rolled >= $2
		ORDER BY rolled DESC, id DESC`,
		gameID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rolls: %w", err)
	}
	defer rows.Close()

	rolls := make([]*tabletop.Roll, 0)
	for rows.Next() {
		var roll tabletop.Roll
		if err := rows.Scan(
			&roll.ID, &roll.GameID, &roll.Name, &roll.Color,
			&roll.Sides, &roll.Result, &roll.Rolled,
		); err != nil {
			return nil, fmt.Errorf("scanning roll row: %w", err)
		}
		rolls = append(rolls, &roll)
	}
	return rolls, rows.Err()
}

// DeleteBefore removes every roll older than the cutoff across all games.
//
// Postcondition: Returns the number of deleted rows.
func (r *RollRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rolls WHERE rolled < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired rolls: %w", err)
	}
	return tag.RowsAffected(), nil
}
