package room

import (
	"context"
	"time"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// Store is the persistence contract a Room depends on. Implementations
// return tabletop.ErrNotFound for unknown identifiers.
type Store interface {
	// GameByURL resolves a game by its host and game URL slugs.
	GameByURL(ctx context.Context, hostURL, gameURL string) (*tabletop.Game, error)
	// TouchGame records activity on a game at the given instant.
	TouchGame(ctx context.Context, gameID int64, at time.Time) error
	// SetActiveScene switches the game's active scene.
	SetActiveScene(ctx context.Context, gameID, sceneID int64) error

	// SceneByID loads a scene, including its backing token reference.
	SceneByID(ctx context.Context, id int64) (*tabletop.Scene, error)
	// SetBacking rebinds the scene's background token. A nil tokenID
	// clears the binding.
	SetBacking(ctx context.Context, sceneID int64, tokenID *int64) error

	// TokensByScene returns every token of the scene.
	TokensByScene(ctx context.Context, sceneID int64) ([]*tabletop.Token, error)
	// TokensModifiedSince returns tokens of the scene whose modified
	// stamp is at or after the given instant, ordered by modified
	// ascending.
	TokensModifiedSince(ctx context.Context, sceneID int64, since time.Time) ([]*tabletop.Token, error)
	TokenByID(ctx context.Context, id int64) (*tabletop.Token, error)
	CreateToken(ctx context.Context, t *tabletop.Token) error
	UpdateToken(ctx context.Context, t *tabletop.Token) error
	DeleteToken(ctx context.Context, id int64) error

	CreateRoll(ctx context.Context, r *tabletop.Roll) error
	// RollsSince returns rolls of the game made at or after the given
	// instant, most recent first.
	RollsSince(ctx context.Context, gameID int64, since time.Time) ([]*tabletop.Roll, error)
	// DeleteRollsBefore removes rolls older than the cutoff across all
	// games and reports how many were deleted.
	DeleteRollsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
