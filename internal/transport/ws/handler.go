package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/dice"
	"github.com/galen-hood/tabletop/internal/game/protocol"
	"github.com/galen-hood/tabletop/internal/game/registry"
	"github.com/galen-hood/tabletop/internal/game/room"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
	"github.com/galen-hood/tabletop/internal/observability"
	"github.com/galen-hood/tabletop/internal/storage/postgres"
)

// slugPattern constrains host and game URL slugs.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,30}$`)

// defaultPalette is used when a joining player does not pick a color.
var defaultPalette = []string{
	"#cc0000", "#00cc00", "#0066cc", "#cc9900",
	"#9900cc", "#00cccc", "#cc6600", "#666666",
}

// AdminStore covers the host and game administration queries the REST
// surface needs on top of the session layer's store.
type AdminStore interface {
	CreateHost(ctx context.Context, h *tabletop.Host) (*tabletop.Host, error)
	HostByURL(ctx context.Context, url string) (*tabletop.Host, error)
	TouchHost(ctx context.Context, url string, at time.Time) error
	CreateGame(ctx context.Context, g *tabletop.Game) (*tabletop.Game, error)
	GameByURL(ctx context.Context, hostURL, gameURL string) (*tabletop.Game, error)
	SetActiveScene(ctx context.Context, gameID, sceneID int64) error
}

// Handler serves the HTTP and websocket surface of the server.
type Handler struct {
	log      *zap.Logger
	cfg      config.SessionConfig
	reg      *registry.Registry
	store    AdminStore
	rand     dice.Source
	health   func(ctx context.Context) error
	upgrader websocket.Upgrader
}

// NewHandler builds the transport handler. health may be nil, in which
// case /healthz always reports ok.
func NewHandler(log *zap.Logger, cfg config.SessionConfig, reg *registry.Registry, store AdminStore, src dice.Source, health func(ctx context.Context) error) *Handler {
	return &Handler{
		log:    log,
		cfg:    cfg,
		reg:    reg,
		store:  store,
		rand:   src,
		health: health,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.healthz)
	r.Get("/status", h.status)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Post("/host/login", h.hostLogin)
	r.Post("/host/{host}/game", h.createGame)

	r.Route("/game/{host}/{game}", func(r chi.Router) {
		r.Post("/login", h.playerLogin)
		r.Get("/ws", h.playerWS)
		r.Post("/kick/{uuid}", h.kickPlayer)
		r.Post("/kick", h.kickAll)
		r.Post("/scene/{scene}/activate", h.activateScene)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Stats())
}

type hostLoginRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// hostLogin creates or revives a host: the host record is written on
// first login and the registry entry with its store handle is bound.
func (h *Handler) hostLogin(w http.ResponseWriter, r *http.Request) {
	var req hostLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !slugPattern.MatchString(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid host name or url")
		return
	}

	ctx := r.Context()
	host, err := h.store.HostByURL(ctx, req.URL)
	switch {
	case errors.Is(err, tabletop.ErrNotFound):
		host, err = h.store.CreateHost(ctx, &tabletop.Host{Name: req.Name, URL: req.URL})
		if err != nil {
			h.log.Error("creating host", zap.String("host", req.URL), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "host creation failed")
			return
		}
	case err != nil:
		h.log.Error("loading host", zap.String("host", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "host lookup failed")
		return
	}

	now := time.Now()
	if _, err := h.reg.Insert(ctx, host); err != nil && !errors.Is(err, registry.ErrHostExists) {
		// A failed store connection must surface to the host, not be
		// swallowed into a half-registered state.
		h.log.Error("binding host store", zap.String("host", host.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "host store unavailable")
		return
	}
	if hc := h.reg.GetByURL(host.URL); hc != nil {
		hc.Touch(now)
	}
	if err := h.store.TouchHost(ctx, host.URL, now); err != nil {
		h.log.Warn("touching host", zap.String("host", host.URL), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": host.URL, "name": host.Name})
}

type createGameRequest struct {
	URL string `json:"url"`
}

func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	hostURL := chi.URLParam(r, "host")
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !slugPattern.MatchString(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid game url")
		return
	}
	if h.reg.GetByURL(hostURL) == nil {
		notFound(w)
		return
	}

	game, err := h.store.CreateGame(r.Context(), &tabletop.Game{HostURL: hostURL, URL: req.URL})
	switch {
	case errors.Is(err, postgres.ErrGameURLTaken):
		writeError(w, http.StatusConflict, "game url already taken")
		return
	case err != nil:
		h.log.Error("creating game",
			zap.String("host", hostURL),
			zap.String("game", req.URL),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "game creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"url":          game.URL,
		"active_scene": game.ActiveScene,
	})
}

type playerLoginRequest struct {
	Name    string `json:"name"`
	Color   string `json:"color"`
	Country string `json:"country"`
	IsHost  bool   `json:"is_host"`
}

// playerLogin registers a player in the room. The websocket handshake
// follows on /ws with a JOIN frame referencing the registered name.
func (h *Handler) playerLogin(w http.ResponseWriter, r *http.Request) {
	hostURL := chi.URLParam(r, "host")
	gameURL := chi.URLParam(r, "game")

	var req playerLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 30 {
		writeError(w, http.StatusBadRequest, "invalid player name")
		return
	}

	hc := h.reg.GetByURL(hostURL)
	if hc == nil {
		notFound(w)
		return
	}
	if _, err := hc.Store().GameByURL(r.Context(), hostURL, gameURL); err != nil {
		notFound(w)
		return
	}

	if req.Color == "" {
		req.Color = defaultPalette[h.rand.Intn(len(defaultPalette))]
	}

	rm := hc.Ensure(gameURL)
	s, err := rm.Insert(req.Name, req.Color, req.Country, req.IsHost)
	if errors.Is(err, tabletop.ErrNameTaken) {
		writeError(w, http.StatusConflict, "name already in use")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "join failed")
		return
	}
	hc.Touch(time.Now())

	writeJSON(w, http.StatusOK, map[string]string{
		"uuid":  s.UUID,
		"color": s.Color,
	})
}

// playerWS upgrades the connection and binds it to a registered
// session. The first frame must be a JOIN naming the player; every
// later frame is pumped through the session's receive loop.
func (h *Handler) playerWS(w http.ResponseWriter, r *http.Request) {
	hostURL := chi.URLParam(r, "host")
	gameURL := chi.URLParam(r, "game")

	hc := h.reg.GetByURL(hostURL)
	if hc == nil {
		notFound(w)
		return
	}
	rm := hc.GetByURL(gameURL)
	if rm == nil {
		notFound(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := NewChannel(conn, h.cfg.SendTimeout)

	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = ch.Close()
		return
	}
	req, err := protocol.Decode(raw)
	if err != nil {
		_ = ch.Close()
		return
	}
	joinReq, ok := req.(*protocol.JoinRequest)
	if !ok {
		h.log.Debug("closing socket, first frame was not a join",
			zap.String("host", hostURL),
			zap.String("game", gameURL))
		_ = ch.Close()
		return
	}

	s, ok := rm.SessionByName(joinReq.Name)
	if !ok {
		h.log.Debug("closing socket for unregistered player",
			zap.String("player", joinReq.Name))
		_ = ch.Close()
		return
	}
	if err := s.Attach(ch); err != nil {
		h.log.Warn("rejecting second channel for session",
			zap.String("player", s.Name))
		_ = ch.Close()
		return
	}
	if err := rm.Login(r.Context(), s); err != nil {
		h.log.Warn("login handshake failed",
			zap.String("player", s.Name),
			zap.Error(err))
		_ = ch.Close()
		rm.Logout(s)
		return
	}
	hc.Touch(time.Now())

	s.Run(r.Context())
}

func (h *Handler) kickPlayer(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFor(r)
	if rm == nil {
		notFound(w)
		return
	}
	name, ok := rm.Disconnect(chi.URLParam(r, "uuid"))
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kicked": name})
}

func (h *Handler) kickAll(w http.ResponseWriter, r *http.Request) {
	rm := h.roomFor(r)
	if rm == nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"kicked": rm.DisconnectAll()})
}

// activateScene switches a game's active scene and pushes a full
// refresh to everyone in the room.
func (h *Handler) activateScene(w http.ResponseWriter, r *http.Request) {
	hostURL := chi.URLParam(r, "host")
	gameURL := chi.URLParam(r, "game")
	sceneID, err := strconv.ParseInt(chi.URLParam(r, "scene"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scene id")
		return
	}

	hc := h.reg.GetByURL(hostURL)
	if hc == nil {
		notFound(w)
		return
	}
	ctx := r.Context()
	game, err := hc.Store().GameByURL(ctx, hostURL, gameURL)
	if err != nil {
		notFound(w)
		return
	}
	if err := h.store.SetActiveScene(ctx, game.ID, sceneID); err != nil {
		notFound(w)
		return
	}
	game.ActiveScene = sceneID
	if rm := hc.GetByURL(gameURL); rm != nil {
		rm.BroadcastSceneSwitch(ctx, game)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"active_scene": sceneID})
}

func (h *Handler) roomFor(r *http.Request) *room.Room {
	hc := h.reg.GetByURL(chi.URLParam(r, "host"))
	if hc == nil {
		return nil
	}
	return hc.GetByURL(chi.URLParam(r, "game"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// notFound hides which level of the host/game/player hierarchy missed.
func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
