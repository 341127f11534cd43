package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// ErrGameURLTaken is returned when creating a game whose URL slug is already
// used by the same host.
var ErrGameURLTaken = errors.New("game url already taken")

// GameRepository provides game persistence operations.
type GameRepository struct {
	db *pgxpool.Pool
}

// NewGameRepository creates a GameRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameRepository(db *pgxpool.Pool) *GameRepository {
	return &GameRepository{db: db}
}

// Create inserts a new game together with its first scene, which becomes the
// active scene.
//
// Precondition: g.HostURL must reference an existing host.
// Postcondition: Returns the created game with ID and ActiveScene set, or
// ErrGameURLTaken on duplicate.
func (r *GameRepository) Create(ctx context.Context, g *tabletop.Game) (*tabletop.Game, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var out tabletop.Game
	err = tx.QueryRow(ctx, `
		INSERT INTO games (host_url, url)
		VALUES ($1, $2)
		RETURNING id, host_url, url, last_activity`,
		g.HostURL, g.URL,
	).Scan(&out.ID, &out.HostURL, &out.URL, &out.LastActivity)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrGameURLTaken
		}
		return nil, fmt.Errorf("inserting game: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO scenes (game_id) VALUES ($1) RETURNING id`,
		out.ID,
	).Scan(&out.ActiveScene)
	if err != nil {
		return nil, fmt.Errorf("inserting initial scene: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE games SET active_scene = $2 WHERE id = $1`,
		out.ID, out.ActiveScene,
	); err != nil {
		return nil, fmt.Errorf("activating initial scene: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing game creation: %w", err)
	}
	return &out, nil
}

// GetByURL retrieves a game by its host and game URL slugs.
//
// Postcondition: Returns the game or tabletop.ErrNotFound.
func (r *GameRepository) GetByURL(ctx context.Context, hostURL, gameURL string) (*tabletop.Game, error) {
	var g tabletop.Game
	err := r.db.QueryRow(ctx, `
		SELECT id, host_url, url, active_scene, last_activity
		FROM games WHERE host_url = $1 AND url = $2`,
		hostURL, gameURL,
	).Scan(&g.ID, &g.HostURL, &g.URL, &g.ActiveScene, &g.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tabletop.ErrNotFound
		}
		return nil, fmt.Errorf("querying game: %w", err)
	}
	return &g, nil
}

// ListByHost returns all of a host's games ordered by URL.
func (r *GameRepository) ListByHost(ctx context.Context, hostURL string) ([]*tabletop.Game, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, host_url, url, active_scene, last_activity
		FROM games WHERE host_url = $1 ORDER BY url ASC`,
		hostURL,
	)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	games := make([]*tabletop.Game, 0)
	for rows.Next() {
		var g tabletop.Game
		if err := rows.Scan(&g.ID, &g.HostURL, &g.URL, &g.ActiveScene, &g.LastActivity); err != nil {
			return nil, fmt.Errorf("scanning game row: %w", err)
		}
		games = append(games, &g)
	}
	return games, rows.Err()
}

// Touch refreshes a game's activity timestamp.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was updated.
func (r *GameRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE games SET last_activity = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touching game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

// SetActiveScene switches the game's active scene.
//
// Precondition: sceneID must belong to the game.
// Postcondition: Returns tabletop.ErrNotFound if no row was updated.
func (r *GameRepository) SetActiveScene(ctx context.Context, id, sceneID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE games SET active_scene = $2
		WHERE id = $1 AND EXISTS (
			SELECT 1 FROM scenes WHERE id = $2 AND game_id = $1
		)`,
		id, sceneID,
	)
	if err != nil {
		return fmt.Errorf("switching active scene: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

// Delete removes a game and its scenes, tokens, and rolls.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was deleted.
func (r *GameRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}
