package postgres

import (
	"context"
	"time"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// Store composes the repositories into the persistence surface the
// session layer consumes. One Store serves all hosts; the registry's
// per-host store handles share it.
type Store struct {
	Hosts  *HostRepository
	Games  *GameRepository
	Scenes *SceneRepository
	Tokens *TokenRepository
	Rolls  *RollRepository
}

// NewStore builds a Store over the pool.
func NewStore(pool *Pool) *Store {
	db := pool.DB()
	return &Store{
		Hosts:  NewHostRepository(db),
		Games:  NewGameRepository(db),
		Scenes: NewSceneRepository(db),
		Tokens: NewTokenRepository(db),
		Rolls:  NewRollRepository(db),
	}
}

// CreateHost inserts a host record.
func (s *Store) CreateHost(ctx context.Context, h *tabletop.Host) (*tabletop.Host, error) {
	return s.Hosts.Create(ctx, h)
}

// HostByURL retrieves a host record by its URL slug.
func (s *Store) HostByURL(ctx context.Context, url string) (*tabletop.Host, error) {
	return s.Hosts.GetByURL(ctx, url)
}

// TouchHost records host activity.
func (s *Store) TouchHost(ctx context.Context, url string, at time.Time) error {
	return s.Hosts.Touch(ctx, url, at)
}

// CreateGame inserts a game with its initial active scene.
func (s *Store) CreateGame(ctx context.Context, g *tabletop.Game) (*tabletop.Game, error) {
	return s.Games.Create(ctx, g)
}

// CreateScene inserts an empty scene for the game.
func (s *Store) CreateScene(ctx context.Context, gameID int64) (*tabletop.Scene, error) {
	return s.Scenes.Create(ctx, gameID)
}

// ScenesByGame lists a game's scenes.
func (s *Store) ScenesByGame(ctx context.Context, gameID int64) ([]*tabletop.Scene, error) {
	return s.Scenes.ListByGame(ctx, gameID)
}

// GameByURL resolves a game by its host and game URL slugs.
func (s *Store) GameByURL(ctx context.Context, hostURL, gameURL string) (*tabletop.Game, error) {
	return s.Games.GetByURL(ctx, hostURL, gameURL)
}

// TouchGame records activity on a game.
func (s *Store) TouchGame(ctx context.Context, gameID int64, at time.Time) error {
	return s.Games.Touch(ctx, gameID, at)
}

// SetActiveScene switches the game's active scene.
func (s *Store) SetActiveScene(ctx context.Context, gameID, sceneID int64) error {
	return s.Games.SetActiveScene(ctx, gameID, sceneID)
}

// SceneByID loads a scene with its backing token reference.
func (s *Store) SceneByID(ctx context.Context, id int64) (*tabletop.Scene, error) {
	return s.Scenes.GetByID(ctx, id)
}

// SetBacking rebinds the scene's background token.
func (s *Store) SetBacking(ctx context.Context, sceneID int64, tokenID *int64) error {
	return s.Scenes.SetBacking(ctx, sceneID, tokenID)
}

// TokensByScene returns every token of the scene.
func (s *Store) TokensByScene(ctx context.Context, sceneID int64) ([]*tabletop.Token, error) {
	return s.Tokens.ListByScene(ctx, sceneID)
}

// TokensModifiedSince returns the scene's tokens modified at or after since.
func (s *Store) TokensModifiedSince(ctx context.Context, sceneID int64, since time.Time) ([]*tabletop.Token, error) {
	return s.Tokens.ListModifiedSince(ctx, sceneID, since)
}

// TokenByID retrieves a single token.
func (s *Store) TokenByID(ctx context.Context, id int64) (*tabletop.Token, error) {
	return s.Tokens.GetByID(ctx, id)
}

// CreateToken inserts a token and sets its ID.
func (s *Store) CreateToken(ctx context.Context, t *tabletop.Token) error {
	return s.Tokens.Create(ctx, t)
}

// UpdateToken persists a token's mutable fields.
func (s *Store) UpdateToken(ctx context.Context, t *tabletop.Token) error {
	return s.Tokens.Update(ctx, t)
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, id int64) error {
	return s.Tokens.Delete(ctx, id)
}

// CreateRoll inserts a roll record.
func (s *Store) CreateRoll(ctx context.Context, r *tabletop.Roll) error {
	return s.Rolls.Create(ctx, r)
}

// RollsSince returns a game's rolls made at or after since, most recent first.
func (s *Store) RollsSince(ctx context.Context, gameID int64, since time.Time) ([]*tabletop.Roll, error) {
	return s.Rolls.ListSince(ctx, gameID, since)
}

// DeleteRollsBefore removes rolls older than the cutoff.
func (s *Store) DeleteRollsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.Rolls.DeleteBefore(ctx, cutoff)
}
