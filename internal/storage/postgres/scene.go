package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// SceneRepository provides scene persistence operations.
type SceneRepository struct {
	db *pgxpool.Pool
}

// NewSceneRepository creates a SceneRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSceneRepository(db *pgxpool.Pool) *SceneRepository {
	return &SceneRepository{db: db}
}

// Create inserts a new empty scene for the given game.
//
// Precondition: gameID must reference an existing game.
func (r *SceneRepository) Create(ctx context.Context, gameID int64) (*tabletop.Scene, error) {
	var s tabletop.Scene
	err := r.db.QueryRow(ctx, `
		INSERT INTO scenes (game_id) VALUES ($1)
		RETURNING id, game_id, backing_id`,
		gameID,
	).Scan(&s.ID, &s.GameID, &s.Backing)
	if err != nil {
		return nil, fmt.Errorf("inserting scene: %w", err)
	}
	return &s, nil
}

// GetByID retrieves a scene by its primary key.
//
// Postcondition: Returns the scene or tabletop.ErrNotFound.
func (r *SceneRepository) GetByID(ctx context.Context, id int64) (*tabletop.Scene, error) {
	var s tabletop.Scene
	err := r.db.QueryRow(ctx, `
		SELECT id, game_id, backing_id FROM scenes WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.GameID, &s.Backing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tabletop.ErrNotFound
		}
		return nil, fmt.Errorf("querying scene: %w", err)
	}
	return &s, nil
}

// ListByGame returns all scenes of a game ordered by ID.
func (r *SceneRepository) ListByGame(ctx context.Context, gameID int64) ([]*tabletop.Scene, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, game_id, backing_id FROM scenes WHERE game_id = $1 ORDER BY id ASC`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing scenes: %w", err)
	}
	defer rows.Close()

	scenes := make([]*tabletop.Scene, 0)
	for rows.Next() {
		var s tabletop.Scene
		if err := rows.Scan(&s.ID, &s.GameID, &s.Backing); err != nil {
			return nil, fmt.Errorf("scanning scene row: %w", err)
		}
		scenes = append(scenes, &s)
	}
	return scenes, rows.Err()
}

// SetBacking rebinds the scene's background token. A nil tokenID clears
// the binding.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was updated.
func (r *SceneRepository) SetBacking(ctx context.Context, id int64, tokenID *int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE scenes SET backing_id = $2 WHERE id = $1`,
		id, tokenID,
	)
	if err != nil {
		return fmt.Errorf("setting scene backing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

// Delete removes a scene and its tokens.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was deleted.
func (r *SceneRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM scenes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}
