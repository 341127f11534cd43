// Package room implements the live session layer of a single game: the
// player roster, display order, and message fan-out. A Room serializes
// every handler under one lock so that state mutation and the broadcast
// announcing it are a single atomic step.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/dice"
	"github.com/galen-hood/tabletop/internal/game/protocol"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
	"github.com/galen-hood/tabletop/internal/observability"
)

// Room owns the presence state of one running game. Rooms are created
// on first join and stay addressable until their host is expired.
//
// Invariant: roster keys and the order sequence hold exactly the same
// uuid set after every operation.
type Room struct {
	log   *zap.Logger
	store Store
	cfg   config.SessionConfig
	rand  dice.Source

	hostURL string
	gameURL string

	mu     sync.Mutex
	roster map[string]*PlayerSession
	order  []string

	now func() time.Time
}

// NewRoom builds an empty room for the given game.
func NewRoom(log *zap.Logger, store Store, cfg config.SessionConfig, src dice.Source, hostURL, gameURL string) *Room {
	return &Room{
		log:     log.With(zap.String("host", hostURL), zap.String("game", gameURL)),
		store:   store,
		cfg:     cfg,
		rand:    src,
		hostURL: hostURL,
		gameURL: gameURL,
		roster:  make(map[string]*PlayerSession),
		now:     time.Now,
	}
}

// GameURL returns the room's game URL slug.
func (r *Room) GameURL() string { return r.gameURL }

// Insert registers a new player and appends it to the display order.
// The handshake messages are sent separately by Login once a channel is
// attached.
//
// Postcondition: Returns tabletop.ErrNameTaken and leaves the roster
// unchanged when the name is already present. Names are compared
// case-sensitively, exactly as given.
func (r *Room) Insert(name, color, country string, isHost bool) (*PlayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.roster {
		if other.Name == name {
			return nil, fmt.Errorf("joining %q: %w", name, tabletop.ErrNameTaken)
		}
	}

	s := &PlayerSession{
		UUID:    uuid.NewString(),
		Name:    name,
		Color:   color,
		Country: country,
		IsHost:  isHost,
		room:    r,
	}
	if len(r.roster) == 0 {
		observability.RoomsOpen.Inc()
	}
	r.roster[s.UUID] = s
	r.order = append(r.order, s.UUID)
	observability.PlayersOnline.Inc()

	r.log.Info("player registered",
		zap.String("player", name),
		zap.String("uuid", s.UUID),
		zap.Bool("is_host", isHost))
	return s, nil
}

// Login runs the join handshake for a registered session with a bound
// channel: ACCEPT and REFRESH to the joiner, then JOIN and ORDER to
// everybody else.
//
// Precondition: s was returned by Insert and has a channel attached.
func (r *Room) Login(ctx context.Context, s *PlayerSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roster[s.UUID]; !ok {
		return errors.New("room: session is not registered")
	}
	if s.ch == nil {
		return errors.New("room: session has no channel")
	}

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		return fmt.Errorf("resolving game: %w", err)
	}

	rolls, err := r.recentRolls(ctx, game.ID, r.now())
	if err != nil {
		return fmt.Errorf("loading roll log: %w", err)
	}
	if err := s.ch.Send(protocol.NewAccept(s.UUID, r.playersLocked(), rolls)); err != nil {
		return fmt.Errorf("sending ACCEPT: %w", err)
	}

	refresh, err := r.fetchRefresh(ctx, game.ActiveScene)
	if err != nil {
		return fmt.Errorf("loading scene: %w", err)
	}
	if err := s.ch.Send(refresh); err != nil {
		return fmt.Errorf("sending REFRESH: %w", err)
	}

	r.broadcastLocked(protocol.NewJoin(r.playerInfoLocked(s)), s)
	r.broadcastLocked(protocol.NewOrder(r.indicesLocked()), s)
	return nil
}

// Logout removes the session and announces QUIT to whoever remains. No
// ORDER broadcast follows: removal leaves the order sequence dense, so
// clients compact indices from the QUIT alone.
//
// Logging out a session that is no longer in the room is a no-op.
func (r *Room) Logout(s *PlayerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logoutLocked(s)
}

// Disconnect force-closes the channel of the session with the given
// uuid and logs it out. Returns the removed player's name, or false if
// the uuid is unknown.
func (r *Room) Disconnect(sessionUUID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.roster[sessionUUID]
	if !ok {
		return "", false
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	r.logoutLocked(s)
	return s.Name, true
}

// DisconnectAll force-closes every session. The room empties but stays
// addressable for future joins.
func (r *Room) DisconnectAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	for _, id := range r.order {
		s := r.roster[id]
		if s.ch != nil {
			_ = s.ch.Close()
		}
		delete(r.roster, id)
		observability.PlayersOnline.Dec()
	}
	r.order = r.order[:0]
	if n > 0 {
		observability.RoomsOpen.Dec()
		r.log.Info("room cleared", zap.Int("players", n))
	}
	return n
}

// PlayerCount returns the number of sessions currently in the room.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roster)
}

// SessionByName finds a registered session by display name.
func (r *Room) SessionByName(name string) (*PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.roster {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Players returns a snapshot of the roster in display order.
func (r *Room) Players() []protocol.PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playersLocked()
}

func (r *Room) logoutLocked(s *PlayerSession) {
	if _, ok := r.roster[s.UUID]; !ok {
		return
	}
	r.removeLocked(s.UUID)
	r.log.Info("player left", zap.String("player", s.Name), zap.String("uuid", s.UUID))
	r.broadcastLocked(protocol.NewQuit(s.Name, s.UUID), nil)
}

func (r *Room) removeLocked(sessionUUID string) {
	delete(r.roster, sessionUUID)
	for i, id := range r.order {
		if id == sessionUUID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	observability.PlayersOnline.Dec()
	if len(r.roster) == 0 {
		observability.RoomsOpen.Dec()
	}
}

// broadcastLocked fans a message out to every session except the given
// one. A failed send disconnects that one session; the resulting QUIT
// broadcast may cascade but always terminates since each drop shrinks
// the roster.
func (r *Room) broadcastLocked(msg protocol.Message, except *PlayerSession) {
	var failed []*PlayerSession
	for _, id := range r.order {
		s := r.roster[id]
		if s == except || s.ch == nil {
			continue
		}
		if err := s.ch.Send(msg); err != nil {
			observability.BroadcastFailures.Inc()
			r.log.Warn("send failed, dropping session",
				zap.String("player", s.Name),
				zap.Error(err))
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		if s.ch != nil {
			_ = s.ch.Close()
		}
		r.logoutLocked(s)
	}
}

func (r *Room) playersLocked() []protocol.PlayerInfo {
	players := make([]protocol.PlayerInfo, 0, len(r.order))
	for i, id := range r.order {
		s := r.roster[id]
		players = append(players, protocol.PlayerInfo{
			Name:    s.Name,
			UUID:    s.UUID,
			Color:   s.Color,
			Country: s.Country,
			Index:   i,
		})
	}
	return players
}

func (r *Room) playerInfoLocked(s *PlayerSession) protocol.PlayerInfo {
	index := 0
	for i, id := range r.order {
		if id == s.UUID {
			index = i
			break
		}
	}
	return protocol.PlayerInfo{
		Name:    s.Name,
		UUID:    s.UUID,
		Color:   s.Color,
		Country: s.Country,
		Index:   index,
	}
}

func (r *Room) indicesLocked() map[string]int {
	indices := make(map[string]int, len(r.order))
	for i, id := range r.order {
		indices[id] = i
	}
	return indices
}
