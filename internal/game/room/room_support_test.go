package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/protocol"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// fakeChannel records outbound frames and feeds inbound ones from a
// buffered queue.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []protocol.Message
	inbound  chan []byte
	closed   bool
	failSend bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan []byte, 16)}
}

func (c *fakeChannel) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Receive() ([]byte, error) {
	raw, ok := <-c.inbound
	if !ok {
		return nil, io.EOF
	}
	return raw, nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeChannel) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) opids() []string {
	msgs := c.messages()
	ops := make([]string, len(msgs))
	for i, m := range msgs {
		ops[i] = m.Opid()
	}
	return ops
}

func (c *fakeChannel) setFailSend(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = fail
}

// fakeStore is an in-memory Store. All accessors return copies so that
// handler-side mutation only lands via the explicit write methods.
type fakeStore struct {
	mu     sync.Mutex
	games  map[string]*tabletop.Game
	scenes map[int64]*tabletop.Scene
	tokens map[int64]*tabletop.Token
	rolls  []*tabletop.Roll
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:  make(map[string]*tabletop.Game),
		scenes: make(map[int64]*tabletop.Scene),
		tokens: make(map[int64]*tabletop.Token),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

// seedGame creates a game with one active scene and returns both.
func (f *fakeStore) seedGame(hostURL, gameURL string) (*tabletop.Game, *tabletop.Scene) {
	f.mu.Lock()
	defer f.mu.Unlock()
	game := &tabletop.Game{ID: f.id(), HostURL: hostURL, URL: gameURL}
	scene := &tabletop.Scene{ID: f.id(), GameID: game.ID}
	game.ActiveScene = scene.ID
	f.games[hostURL+"/"+gameURL] = game
	f.scenes[scene.ID] = scene
	return game, scene
}

func (f *fakeStore) seedToken(sceneID int64, t tabletop.Token) *tabletop.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.id()
	t.SceneID = sceneID
	f.tokens[t.ID] = &t
	out := t
	return &out
}

func (f *fakeStore) GameByURL(_ context.Context, hostURL, gameURL string) (*tabletop.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	game, ok := f.games[hostURL+"/"+gameURL]
	if !ok {
		return nil, fmt.Errorf("game %s/%s: %w", hostURL, gameURL, tabletop.ErrNotFound)
	}
	out := *game
	return &out, nil
}

func (f *fakeStore) TouchGame(_ context.Context, gameID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.games {
		if g.ID == gameID {
			g.LastActivity = at
			return nil
		}
	}
	return tabletop.ErrNotFound
}

func (f *fakeStore) SetActiveScene(_ context.Context, gameID, sceneID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.games {
		if g.ID == gameID {
			g.ActiveScene = sceneID
			return nil
		}
	}
	return tabletop.ErrNotFound
}

func (f *fakeStore) SceneByID(_ context.Context, id int64) (*tabletop.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scene, ok := f.scenes[id]
	if !ok {
		return nil, fmt.Errorf("scene %d: %w", id, tabletop.ErrNotFound)
	}
	out := *scene
	if scene.Backing != nil {
		b := *scene.Backing
		out.Backing = &b
	}
	return &out, nil
}

func (f *fakeStore) SetBacking(_ context.Context, sceneID int64, tokenID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	scene, ok := f.scenes[sceneID]
	if !ok {
		return tabletop.ErrNotFound
	}
	if tokenID == nil {
		scene.Backing = nil
		return nil
	}
	b := *tokenID
	scene.Backing = &b
	return nil
}

func (f *fakeStore) TokensByScene(_ context.Context, sceneID int64) ([]*tabletop.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tabletop.Token
	for _, t := range f.tokens {
		if t.SceneID == sceneID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) TokensModifiedSince(_ context.Context, sceneID int64, since time.Time) ([]*tabletop.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tabletop.Token
	for _, t := range f.tokens {
		if t.SceneID == sceneID && !t.Modified.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.Before(out[j].Modified) })
	return out, nil
}

func (f *fakeStore) TokenByID(_ context.Context, id int64) (*tabletop.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %d: %w", id, tabletop.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateToken(_ context.Context, t *tabletop.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.id()
	cp := *t
	f.tokens[t.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateToken(_ context.Context, t *tabletop.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.ID]; !ok {
		return tabletop.ErrNotFound
	}
	cp := *t
	f.tokens[t.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteToken(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, id)
	return nil
}

func (f *fakeStore) CreateRoll(_ context.Context, r *tabletop.Roll) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.id()
	cp := *r
	f.rolls = append(f.rolls, &cp)
	return nil
}

func (f *fakeStore) RollsSince(_ context.Context, gameID int64, since time.Time) ([]*tabletop.Roll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tabletop.Roll
	for _, r := range f.rolls {
		if r.GameID == gameID && !r.Rolled.Before(since) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rolled.After(out[j].Rolled) })
	return out, nil
}

func (f *fakeStore) DeleteRollsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rolls[:0]
	var deleted int64
	for _, r := range f.rolls {
		if r.Rolled.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rolls = kept
	return deleted, nil
}

func (f *fakeStore) rollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rolls)
}

func (f *fakeStore) tokenByID(t *testing.T, id int64) *tabletop.Token {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		t.Fatalf("token %d not in store", id)
	}
	cp := *tok
	return &cp
}

func (f *fakeStore) hasToken(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tokens[id]
	return ok
}

func (f *fakeStore) backing(t *testing.T, sceneID int64) *int64 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	scene, ok := f.scenes[sceneID]
	if !ok {
		t.Fatalf("scene %d not in store", sceneID)
	}
	if scene.Backing == nil {
		return nil
	}
	b := *scene.Backing
	return &b
}

// fixedSource always draws the same value, making roll results
// deterministic.
type fixedSource struct{ v int }

func (s fixedSource) Intn(n int) int {
	if s.v >= n {
		return n - 1
	}
	return s.v
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		RecentRollWindow: 30 * time.Second,
		LatestRollWindow: 10 * time.Minute,
		HostExpiry:       30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
		SendTimeout:      10 * time.Second,
	}
}

// newTestRoom builds a room over a seeded game with a frozen clock.
func newTestRoom(t *testing.T) (*Room, *fakeStore, time.Time) {
	t.Helper()
	store := newFakeStore()
	store.seedGame("merlin", "dungeon")
	r := NewRoom(zap.NewNop(), store, testSessionConfig(), fixedSource{2}, "merlin", "dungeon")
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, store, now
}

// join registers a player with an attached channel and runs the login
// handshake.
func join(t *testing.T, r *Room, name string) (*PlayerSession, *fakeChannel) {
	t.Helper()
	s, err := r.Insert(name, "#ff0000", "us", false)
	if err != nil {
		t.Fatalf("inserting %s: %v", name, err)
	}
	ch := newFakeChannel()
	if err := s.Attach(ch); err != nil {
		t.Fatalf("attaching %s: %v", name, err)
	}
	if err := r.Login(context.Background(), s); err != nil {
		t.Fatalf("logging in %s: %v", name, err)
	}
	return s, ch
}
