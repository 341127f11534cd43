// Package registry maps hosts to their live session state: each host
// gets one lazily-connected store handle and one room per game.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/dice"
	"github.com/galen-hood/tabletop/internal/game/room"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// ErrHostExists is returned when inserting a host whose URL is already
// registered.
var ErrHostExists = errors.New("host already registered")

// StoreOpener binds a host to its persistent store. Called at most once
// per host, outside any registry or cache lock.
type StoreOpener func(ctx context.Context, hostURL string) (room.Store, error)

// Registry is the process-wide host table. One Registry exists per
// server process.
type Registry struct {
	log  *zap.Logger
	cfg  config.SessionConfig
	rand dice.Source
	open StoreOpener

	mu      sync.Mutex
	hosts   map[string]*HostCache
	pending map[string]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry(log *zap.Logger, cfg config.SessionConfig, src dice.Source, open StoreOpener) *Registry {
	return &Registry{
		log:     log,
		cfg:     cfg,
		rand:    src,
		open:    open,
		hosts:   make(map[string]*HostCache),
		pending: make(map[string]struct{}),
	}
}

// Insert registers a brand-new host and connects its store. The cache
// is published to lookups only after the store is bound, so a cache
// handed out by Get/GetByURL always carries a usable store handle.
//
// Postcondition: Returns ErrHostExists when the URL is already
// registered or mid-insert; a store-connection failure is surfaced to
// the caller and leaves the host unregistered.
func (r *Registry) Insert(ctx context.Context, host *tabletop.Host) (*HostCache, error) {
	r.mu.Lock()
	_, registered := r.hosts[host.URL]
	_, inserting := r.pending[host.URL]
	if registered || inserting {
		r.mu.Unlock()
		return nil, fmt.Errorf("inserting host %q: %w", host.URL, ErrHostExists)
	}
	r.pending[host.URL] = struct{}{}
	r.mu.Unlock()

	// Store connection runs outside the registry lock; it may block on
	// network or schema setup. The pending reservation keeps duplicate
	// inserts out while keeping the half-built cache invisible.
	hc := newHostCache(r.log, r.cfg, r.rand, r.open, host.URL)
	err := hc.ConnectStore(ctx)

	r.mu.Lock()
	delete(r.pending, host.URL)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("connecting store for host %q: %w", host.URL, err)
	}
	r.hosts[host.URL] = hc
	r.mu.Unlock()

	r.log.Info("host registered", zap.String("host", host.URL))
	return hc, nil
}

// Get returns the cache for a known host, or nil. A nil result means
// "unknown host", which callers surface as a generic not-found.
func (r *Registry) Get(host *tabletop.Host) *HostCache {
	return r.GetByURL(host.URL)
}

// GetByURL returns the cache for the host with the given URL slug, or
// nil.
func (r *Registry) GetByURL(url string) *HostCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts[url]
}

// Remove drops a host's cache after disconnecting every session in its
// rooms.
func (r *Registry) Remove(url string) bool {
	r.mu.Lock()
	hc, ok := r.hosts[url]
	delete(r.hosts, url)
	r.mu.Unlock()

	if !ok {
		return false
	}
	hc.DisconnectAll()
	r.log.Info("host removed", zap.String("host", url))
	return true
}

// Stats is an aggregate usage snapshot across all hosts.
type Stats struct {
	Hosts           int `json:"hosts"`
	Rooms           int `json:"rooms"`
	Players         int `json:"players"`
	GamesWithPlayer int `json:"games_with_players"`
}

// Stats scans every host under the registry lock for a consistent
// snapshot. Counting touches only in-memory state, never the store.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Hosts: len(r.hosts)}
	for _, hc := range r.hosts {
		rooms := hc.snapshotRooms()
		stats.Rooms += len(rooms)
		for _, rm := range rooms {
			n := rm.PlayerCount()
			stats.Players += n
			if n > 0 {
				stats.GamesWithPlayer++
			}
		}
	}
	return stats
}

// ExpireIdle removes every host not seen since the cutoff and with no
// players online, returning the removed URLs.
func (r *Registry) ExpireIdle(cutoff time.Time) []string {
	r.mu.Lock()
	var expired []string
	for url, hc := range r.hosts {
		if hc.LastSeen().After(cutoff) {
			continue
		}
		if hc.PlayersOnline() > 0 {
			continue
		}
		delete(r.hosts, url)
		expired = append(expired, url)
	}
	r.mu.Unlock()

	for _, url := range expired {
		r.log.Info("expired idle host", zap.String("host", url))
	}
	return expired
}

// Snapshot returns the current host caches. Used by maintenance jobs
// that must do store I/O without holding the registry lock.
func (r *Registry) Snapshot() []*HostCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*HostCache, 0, len(r.hosts))
	for _, hc := range r.hosts {
		out = append(out, hc)
	}
	return out
}

// HostCache owns one host's store handle and its rooms.
type HostCache struct {
	log  *zap.Logger
	cfg  config.SessionConfig
	rand dice.Source
	open StoreOpener
	url  string

	mu       sync.Mutex
	store    room.Store
	opening  bool
	rooms    map[string]*room.Room
	lastSeen time.Time
}

func newHostCache(log *zap.Logger, cfg config.SessionConfig, src dice.Source, open StoreOpener, url string) *HostCache {
	return &HostCache{
		log:      log,
		cfg:      cfg,
		rand:     src,
		open:     open,
		url:      url,
		rooms:    make(map[string]*room.Room),
		lastSeen: time.Now(),
	}
}

// URL returns the host's URL slug.
func (h *HostCache) URL() string { return h.url }

// ConnectStore opens the host's store handle exactly once. The opener
// runs outside the cache lock; concurrent callers while a connection is
// in flight get an error rather than a second opener invocation.
func (h *HostCache) ConnectStore(ctx context.Context) error {
	h.mu.Lock()
	if h.store != nil {
		h.mu.Unlock()
		return nil
	}
	if h.opening {
		h.mu.Unlock()
		return errors.New("registry: store connection already in progress")
	}
	h.opening = true
	h.mu.Unlock()

	store, err := h.open(ctx, h.url)

	h.mu.Lock()
	h.opening = false
	if err == nil {
		h.store = store
	}
	h.mu.Unlock()
	return err
}

// Store returns the connected store handle, or nil before ConnectStore
// succeeded.
func (h *HostCache) Store() room.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}

// Get returns the room for a known game, or nil.
func (h *HostCache) Get(game *tabletop.Game) *room.Room {
	return h.GetByURL(game.URL)
}

// GetByURL returns the room for the game with the given URL slug, or
// nil. Callers cannot tell an unknown game from an unknown host; both
// are a generic not-found.
func (h *HostCache) GetByURL(url string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[url]
}

// Ensure returns the game's room, creating it on first join. Rooms are
// never proactively destroyed; kick-all empties a room but leaves it
// addressable.
func (h *HostCache) Ensure(gameURL string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rm, ok := h.rooms[gameURL]; ok {
		return rm
	}
	rm := room.NewRoom(h.log, h.store, h.cfg, h.rand, h.url, gameURL)
	h.rooms[gameURL] = rm
	return rm
}

// Touch records host activity for idle expiry.
func (h *HostCache) Touch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if at.After(h.lastSeen) {
		h.lastSeen = at
	}
}

// LastSeen returns the host's last recorded activity.
func (h *HostCache) LastSeen() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeen
}

// PlayersOnline counts the sessions across all of the host's rooms.
func (h *HostCache) PlayersOnline() int {
	total := 0
	for _, rm := range h.snapshotRooms() {
		total += rm.PlayerCount()
	}
	return total
}

// DisconnectAll force-closes every session in every room of the host.
func (h *HostCache) DisconnectAll() int {
	total := 0
	for _, rm := range h.snapshotRooms() {
		total += rm.DisconnectAll()
	}
	return total
}

func (h *HostCache) snapshotRooms() []*room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*room.Room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		out = append(out, rm)
	}
	return out
}
