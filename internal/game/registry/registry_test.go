package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/room"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// stubStore satisfies room.Store with canned data; only the methods the
// registry layer touches carry behavior.
type stubStore struct {
	mu    sync.Mutex
	rolls []*tabletop.Roll
}

func (s *stubStore) GameByURL(_ context.Context, hostURL, gameURL string) (*tabletop.Game, error) {
	return &tabletop.Game{ID: 1, HostURL: hostURL, URL: gameURL, ActiveScene: 1}, nil
}

func (s *stubStore) TouchGame(context.Context, int64, time.Time) error  { return nil }
func (s *stubStore) SetActiveScene(context.Context, int64, int64) error { return nil }
func (s *stubStore) SetBacking(context.Context, int64, *int64) error    { return nil }
func (s *stubStore) CreateToken(context.Context, *tabletop.Token) error { return nil }
func (s *stubStore) UpdateToken(context.Context, *tabletop.Token) error { return nil }
func (s *stubStore) DeleteToken(context.Context, int64) error           { return nil }

func (s *stubStore) SceneByID(_ context.Context, id int64) (*tabletop.Scene, error) {
	return &tabletop.Scene{ID: id, GameID: 1}, nil
}

func (s *stubStore) TokensByScene(context.Context, int64) ([]*tabletop.Token, error) {
	return nil, nil
}

func (s *stubStore) TokensModifiedSince(context.Context, int64, time.Time) ([]*tabletop.Token, error) {
	return nil, nil
}

func (s *stubStore) TokenByID(_ context.Context, id int64) (*tabletop.Token, error) {
	return nil, tabletop.ErrNotFound
}

func (s *stubStore) CreateRoll(_ context.Context, r *tabletop.Roll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolls = append(s.rolls, r)
	return nil
}

func (s *stubStore) RollsSince(context.Context, int64, time.Time) ([]*tabletop.Roll, error) {
	return nil, nil
}

func (s *stubStore) DeleteRollsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rolls[:0]
	var deleted int64
	for _, r := range s.rolls {
		if r.Rolled.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rolls = kept
	return deleted, nil
}

func (s *stubStore) rollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rolls)
}

type countingOpener struct {
	mu    sync.Mutex
	calls int
	err   error
	store *stubStore
}

func (o *countingOpener) open(context.Context, string) (room.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	if o.store == nil {
		o.store = &stubStore{}
	}
	return o.store, nil
}

type roller struct{}

func (roller) Intn(n int) int { return n - 1 }

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		RecentRollWindow: 30 * time.Second,
		LatestRollWindow: 10 * time.Minute,
		HostExpiry:       30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
		SendTimeout:      10 * time.Second,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *countingOpener) {
	t.Helper()
	opener := &countingOpener{}
	reg := NewRegistry(zap.NewNop(), testConfig(), roller{}, opener.open)
	return reg, opener
}

func TestInsertRejectsDuplicateHost(t *testing.T) {
	reg, opener := newTestRegistry(t)
	host := &tabletop.Host{Name: "Merlin", URL: "merlin"}

	_, err := reg.Insert(context.Background(), host)
	require.NoError(t, err)

	_, err = reg.Insert(context.Background(), host)
	require.ErrorIs(t, err, ErrHostExists)
	assert.Equal(t, 1, opener.calls)
}

func TestInsertSurfacesStoreFailure(t *testing.T) {
	reg, opener := newTestRegistry(t)
	opener.err = errors.New("connection refused")

	_, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.Error(t, err)
	assert.Nil(t, reg.GetByURL("merlin"), "failed insert must leave the host unregistered")

	// A later retry may succeed.
	opener.err = nil
	_, err = reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)
}

func TestInsertPublishesHostOnlyAfterStoreBinds(t *testing.T) {
	release := make(chan struct{})
	reg := NewRegistry(zap.NewNop(), testConfig(), roller{}, func(context.Context, string) (room.Store, error) {
		<-release
		return &stubStore{}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := reg.Insert(context.Background(), &tabletop.Host{Name: "Merlin", URL: "merlin"})
		done <- err
	}()

	// While the opener is still blocked, lookups must not see the host:
	// a visible cache with a nil store would panic any caller that
	// dereferences Store().
	for i := 0; i < 20; i++ {
		require.Nil(t, reg.GetByURL("merlin"), "host visible before its store was bound")
		time.Sleep(2 * time.Millisecond)
	}

	// A second insert during the connect window is a duplicate.
	_, err := reg.Insert(context.Background(), &tabletop.Host{Name: "Merlin", URL: "merlin"})
	require.ErrorIs(t, err, ErrHostExists)

	close(release)
	require.NoError(t, <-done)

	hc := reg.GetByURL("merlin")
	require.NotNil(t, hc)
	assert.NotNil(t, hc.Store())
}

func TestConnectStoreRunsOpenerOnce(t *testing.T) {
	reg, opener := newTestRegistry(t)

	hc, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)
	require.NoError(t, hc.ConnectStore(context.Background()))
	require.NoError(t, hc.ConnectStore(context.Background()))

	assert.Equal(t, 1, opener.calls)
	assert.NotNil(t, hc.Store())
}

func TestLookupsReturnNilForUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)

	assert.Nil(t, reg.GetByURL("nobody"))
	assert.Nil(t, reg.Get(&tabletop.Host{URL: "nobody"}))

	hc, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)
	assert.Nil(t, hc.GetByURL("no-such-game"))
	assert.Nil(t, hc.Get(&tabletop.Game{URL: "no-such-game"}))
}

func TestEnsureCreatesRoomOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	hc, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)

	rm := hc.Ensure("dungeon")
	require.NotNil(t, rm)
	assert.Same(t, rm, hc.Ensure("dungeon"))
	assert.Same(t, rm, hc.GetByURL("dungeon"))
}

func TestStatsAggregatesAcrossHosts(t *testing.T) {
	reg, _ := newTestRegistry(t)

	merlin, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)
	arthur, err := reg.Insert(context.Background(), &tabletop.Host{URL: "arthur"})
	require.NoError(t, err)

	busy := merlin.Ensure("dungeon")
	merlin.Ensure("tavern")
	arthur.Ensure("castle")

	_, err = busy.Insert("alice", "#ff0000", "us", false)
	require.NoError(t, err)
	_, err = busy.Insert("bob", "#00ff00", "de", false)
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.Hosts)
	assert.Equal(t, 3, stats.Rooms)
	assert.Equal(t, 2, stats.Players)
	assert.Equal(t, 1, stats.GamesWithPlayer)
}

func TestExpireIdleSkipsActiveHosts(t *testing.T) {
	reg, _ := newTestRegistry(t)
	now := time.Now()

	idle, err := reg.Insert(context.Background(), &tabletop.Host{URL: "idle"})
	require.NoError(t, err)
	busy, err := reg.Insert(context.Background(), &tabletop.Host{URL: "busy"})
	require.NoError(t, err)
	fresh, err := reg.Insert(context.Background(), &tabletop.Host{URL: "fresh"})
	require.NoError(t, err)

	old := now.Add(-40 * 24 * time.Hour)
	idle.mu.Lock()
	idle.lastSeen = old
	idle.mu.Unlock()
	busy.mu.Lock()
	busy.lastSeen = old
	busy.mu.Unlock()

	_, err = busy.Ensure("dungeon").Insert("alice", "#ff0000", "us", false)
	require.NoError(t, err)
	fresh.Touch(now)

	expired := reg.ExpireIdle(now.Add(-30 * 24 * time.Hour))
	assert.Equal(t, []string{"idle"}, expired)
	assert.Nil(t, reg.GetByURL("idle"))
	assert.NotNil(t, reg.GetByURL("busy"), "hosts with players online survive expiry")
	assert.NotNil(t, reg.GetByURL("fresh"))
}

func TestRemoveDisconnectsSessions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	hc, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)

	rm := hc.Ensure("dungeon")
	_, err = rm.Insert("alice", "#ff0000", "us", false)
	require.NoError(t, err)

	assert.True(t, reg.Remove("merlin"))
	assert.Equal(t, 0, rm.PlayerCount())
	assert.Nil(t, reg.GetByURL("merlin"))
	assert.False(t, reg.Remove("merlin"))
}

func TestJanitorSweep(t *testing.T) {
	reg, opener := newTestRegistry(t)
	now := time.Now()

	hc, err := reg.Insert(context.Background(), &tabletop.Host{URL: "merlin"})
	require.NoError(t, err)
	hc.Touch(now)

	store := opener.store
	require.NoError(t, store.CreateRoll(context.Background(), &tabletop.Roll{Rolled: now.Add(-11 * time.Minute)}))
	require.NoError(t, store.CreateRoll(context.Background(), &tabletop.Roll{Rolled: now.Add(-time.Minute)}))

	stale, err := reg.Insert(context.Background(), &tabletop.Host{URL: "stale"})
	require.NoError(t, err)
	stale.mu.Lock()
	stale.lastSeen = now.Add(-60 * 24 * time.Hour)
	stale.mu.Unlock()

	j := NewJanitor(zap.NewNop(), testConfig(), reg)
	j.Sweep(context.Background(), now)

	assert.Equal(t, 1, store.rollCount(), "only rolls inside the retention window survive")
	assert.Nil(t, reg.GetByURL("stale"))
	assert.NotNil(t, reg.GetByURL("merlin"))
}
