package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
	"github.com/galen-hood/tabletop/internal/storage/postgres"
	"github.com/galen-hood/tabletop/internal/testutil"
)

func uniqueSlug(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// seedGame creates a host with one game and returns the game, whose
// initial scene is already active.
func seedGame(t *testing.T) (*postgres.Store, *tabletop.Game) {
	t.Helper()
	pool := testutil.NewPool(t)
	store := &postgres.Store{
		Hosts:  postgres.NewHostRepository(pool),
		Games:  postgres.NewGameRepository(pool),
		Scenes: postgres.NewSceneRepository(pool),
		Tokens: postgres.NewTokenRepository(pool),
		Rolls:  postgres.NewRollRepository(pool),
	}
	ctx := context.Background()

	host, err := store.Hosts.Create(ctx, &tabletop.Host{Name: "Test GM", URL: uniqueSlug("gm")})
	require.NoError(t, err)
	game, err := store.Games.Create(ctx, &tabletop.Game{HostURL: host.URL, URL: uniqueSlug("game")})
	require.NoError(t, err)
	return store, game
}

func TestHostRepository_CreateAndLookup(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewHostRepository(pool)
	ctx := context.Background()

	url := uniqueSlug("gm")
	created, err := repo.Create(ctx, &tabletop.Host{Name: "Merlin", URL: url})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.LastSeen.IsZero())

	got, err := repo.GetByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Merlin", got.Name)

	_, err = repo.Create(ctx, &tabletop.Host{Name: "Impostor", URL: url})
	require.ErrorIs(t, err, postgres.ErrHostURLTaken)

	_, err = repo.GetByURL(ctx, uniqueSlug("nobody"))
	require.ErrorIs(t, err, tabletop.ErrNotFound)
}

func TestHostRepository_Touch(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewHostRepository(pool)
	ctx := context.Background()

	url := uniqueSlug("gm")
	_, err := repo.Create(ctx, &tabletop.Host{Name: "Merlin", URL: url})
	require.NoError(t, err)

	seen := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Touch(ctx, url, seen))

	got, err := repo.GetByURL(ctx, url)
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(seen))

	require.ErrorIs(t, repo.Touch(ctx, uniqueSlug("nobody"), seen), tabletop.ErrNotFound)
}

func TestGameRepository_CreateActivatesInitialScene(t *testing.T) {
	store, game := seedGame(t)
	ctx := context.Background()

	require.NotZero(t, game.ActiveScene)

	got, err := store.GameByURL(ctx, game.HostURL, game.URL)
	require.NoError(t, err)
	assert.Equal(t, game.ID, got.ID)
	assert.Equal(t, game.ActiveScene, got.ActiveScene)

	scene, err := store.SceneByID(ctx, game.ActiveScene)
	require.NoError(t, err)
	assert.Equal(t, game.ID, scene.GameID)
	assert.Nil(t, scene.Backing)

	_, err = store.Games.Create(ctx, &tabletop.Game{HostURL: game.HostURL, URL: game.URL})
	require.ErrorIs(t, err, postgres.ErrGameURLTaken)

	_, err = store.GameByURL(ctx, game.HostURL, uniqueSlug("nope"))
	require.ErrorIs(t, err, tabletop.ErrNotFound)
}

func TestGameRepository_SetActiveSceneRejectsForeignScene(t *testing.T) {
	store, game := seedGame(t)
	_, other := seedGame(t)
	ctx := context.Background()

	second, err := store.Scenes.Create(ctx, game.ID)
	require.NoError(t, err)
	require.NoError(t, store.SetActiveScene(ctx, game.ID, second.ID))

	got, err := store.GameByURL(ctx, game.HostURL, game.URL)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ActiveScene)

	// A scene belonging to another game must not become active.
	err = store.SetActiveScene(ctx, game.ID, other.ActiveScene)
	require.ErrorIs(t, err, tabletop.ErrNotFound)
}

func TestTokenRepository_CreateGetUpdate(t *testing.T) {
	store, game := seedGame(t)
	ctx := context.Background()

	modified := time.Now().UTC().Truncate(time.Microsecond)
	tok := &tabletop.Token{
		SceneID:  game.ActiveScene,
		URL:      "goblin.png",
		PosX:     100,
		PosY:     200,
		ZOrder:   3,
		Size:     40,
		Rotate:   90,
		FlipX:    true,
		Text:     "Grik",
		Color:    "#aa2200",
		Modified: modified,
	}
	require.NoError(t, store.CreateToken(ctx, tok))
	require.NotZero(t, tok.ID)

	got, err := store.TokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.URL, got.URL)
	assert.Equal(t, tok.PosX, got.PosX)
	assert.Equal(t, tok.Rotate, got.Rotate)
	assert.True(t, got.FlipX)
	assert.Equal(t, "Grik", got.Text)
	assert.True(t, got.Modified.Equal(modified))

	got.PosX, got.PosY = 300, 400
	got.Locked = true
	got.Modified = modified.Add(time.Second)
	require.NoError(t, store.UpdateToken(ctx, got))

	again, err := store.TokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, again.PosX)
	assert.True(t, again.Locked)

	_, err = store.TokenByID(ctx, 99999999)
	require.ErrorIs(t, err, tabletop.ErrNotFound)
}

func TestTokenRepository_ListModifiedSince(t *testing.T) {
	store, game := seedGame(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreateToken(ctx, &tabletop.Token{
			SceneID:  game.ActiveScene,
			URL:      fmt.Sprintf("t%d.png", i),
			Size:     30,
			Modified: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.TokensByScene(ctx, game.ActiveScene)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// The cutoff is inclusive.
	since, err := store.TokensModifiedSince(ctx, game.ActiveScene, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "t2.png", since[0].URL)
	assert.Equal(t, "t3.png", since[1].URL)
}

func TestSceneRepository_BackingLifecycle(t *testing.T) {
	store, game := seedGame(t)
	ctx := context.Background()

	bg := &tabletop.Token{SceneID: game.ActiveScene, URL: "map.png", Size: tabletop.BackgroundSize, Modified: time.Now()}
	require.NoError(t, store.CreateToken(ctx, bg))
	require.NoError(t, store.SetBacking(ctx, game.ActiveScene, &bg.ID))

	scene, err := store.SceneByID(ctx, game.ActiveScene)
	require.NoError(t, err)
	require.NotNil(t, scene.Backing)
	assert.Equal(t, bg.ID, *scene.Backing)

	// Deleting the background token clears the relation.
	require.NoError(t, store.DeleteToken(ctx, bg.ID))
	scene, err = store.SceneByID(ctx, game.ActiveScene)
	require.NoError(t, err)
	assert.Nil(t, scene.Backing)

	// Deleting an already-absent token stays quiet.
	require.NoError(t, store.DeleteToken(ctx, bg.ID))
}

func TestRollRepository_WindowsAndCleanup(t *testing.T) {
	store, game := seedGame(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	ages := []time.Duration{0, time.Minute, 5 * time.Minute, 20 * time.Minute}
	for i, age := range ages {
		require.NoError(t, store.CreateRoll(ctx, &tabletop.Roll{
			GameID: game.ID,
			Name:   "alice",
			Color:  "#ff0000",
			Sides:  20,
			Result: i + 1,
			Rolled: now.Add(-age),
		}))
	}

	recent, err := store.RollsSince(ctx, game.ID, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 1, recent[0].Result, "most recent first")
	assert.Equal(t, 2, recent[1].Result)
	assert.Equal(t, 3, recent[2].Result)

	deleted, err := store.DeleteRollsBefore(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	left, err := store.RollsSince(ctx, game.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, left, 3)
}
