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

// TokenRepository provides token persistence operations.
type TokenRepository struct {
	db *pgxpool.Pool
}

// NewTokenRepository creates a TokenRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTokenRepository(db *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts a new token and sets its ID.
//
// Precondition: t.SceneID must reference an existing scene.
func (r *TokenRepository) Create(ctx context.Context, t *tabletop.Token) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO tokens
			(scene_id, url, posx, posy, zorder, size, rotate, flipx, locked, text, color, modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		t.SceneID, t.URL, t.PosX, t.PosY, t.ZOrder, t.Size,
		t.Rotate, t.FlipX, t.Locked, t.Text, t.Color, t.Modified,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// GetByID retrieves a token by its primary key.
//
// Postcondition: Returns the token or tabletop.ErrNotFound.
func (r *TokenRepository) GetByID(ctx context.Context, id int64) (*tabletop.Token, error) {
	var t tabletop.Token
	err := r.db.QueryRow(ctx, `
		SELECT id, scene_id, url, posx, posy, zorder, size, rotate, flipx, locked, text, color, modified
		FROM tokens WHERE id = $1`,
		id,
	).Scan(
		&t.ID, &t.SceneID, &t.URL, &t.PosX, &t.PosY, &t.ZOrder, &t.Size,
		&t.Rotate, &t.FlipX, &t.Locked, &t.Text, &t.Color, &t.Modified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tabletop.ErrNotFound
		}
		return nil, fmt.Errorf("querying token: %w", err)
	}
	return &t, nil
}

// ListByScene returns every token of a scene ordered by z-order, then ID.
func (r *TokenRepository) ListByScene(ctx context.Context, sceneID int64) ([]*tabletop.Token, error) {
	return r.list(ctx, `
		SELECT id, scene_id, url, posx, posy, zorder, size, rotate, flipx, locked, text, color, modified
		FROM tokens WHERE scene_id = $1 ORDER BY zorder ASC, id ASC`,
		sceneID)
}

// ListModifiedSince returns tokens of a scene whose modification stamp is at
// or after the given instant, ordered by the stamp ascending.
func (r *TokenRepository) ListModifiedSince(ctx context.Context, sceneID int64, since time.Time) ([]*tabletop.Token, error) {
	return r.list(ctx, `
		SELECT id, scene_id, url, posx, posy, zorder, size, rotate, flipx, locked, text, color, modified
		FROM tokens WHERE scene_id = $1 AND modified >= $2 ORDER BY modified ASC, id ASC`,
		sceneID, since)
}

func (r *TokenRepository) list(ctx context.Context, query string, args ...any) ([]*tabletop.Token, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*tabletop.Token, 0)
	for rows.Next() {
		var t tabletop.Token
		if err := rows.Scan(
			&t.ID, &t.SceneID, &t.URL, &t.PosX, &t.PosY, &t.ZOrder, &t.Size,
			&t.Rotate, &t.FlipX, &t.Locked, &t.Text, &t.Color, &t.Modified,
		); err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// Update persists every mutable field of the token.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was updated.
func (r *TokenRepository) Update(ctx context.Context, t *tabletop.Token) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tokens SET
			posx = $2, posy = $3, zorder = $4, size = $5, rotate = $6,
			flipx = $7, locked = $8, text = $9, color = $10, modified = $11
		WHERE id = $1`,
		t.ID, t.PosX, t.PosY, t.ZOrder, t.Size, t.Rotate,
		t.FlipX, t.Locked, t.Text, t.Color, t.Modified,
	)
	if err != nil {
		return fmt.Errorf("updating token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

// Delete removes a token. Deleting an already-absent token is not an error;
// background replacement may race with explicit deletes.
func (r *TokenRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}
