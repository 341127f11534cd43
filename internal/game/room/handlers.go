package room

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/game/dice"
	"github.com/galen-hood/tabletop/internal/game/protocol"
	"github.com/galen-hood/tabletop/internal/game/tabletop"
	"github.com/galen-hood/tabletop/internal/observability"
)

// OnPing answers a liveness probe to the sender only. A failed reply
// drops the session.
func (r *Room) OnPing(s *PlayerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ch == nil {
		return
	}
	if err := s.ch.Send(protocol.NewPong()); err != nil {
		_ = s.ch.Close()
		r.logoutLocked(s)
	}
}

// OnRoll draws a die, persists the outcome, and announces it to the
// whole room. An unsupported side count is dropped without a roll or a
// broadcast.
func (r *Room) OnRoll(ctx context.Context, s *PlayerSession, req *protocol.RollRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !dice.IsSupported(req.Sides) {
		r.log.Debug("ignoring unsupported die",
			zap.String("player", s.Name),
			zap.Int("sides", req.Sides))
		return
	}

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		r.log.Warn("roll: resolving game", zap.Error(err))
		return
	}

	now := r.now()
	roll := &tabletop.Roll{
		GameID: game.ID,
		Name:   s.Name,
		Color:  s.Color,
		Sides:  req.Sides,
		Result: dice.RollDie(req.Sides, r.rand),
		Rolled: now,
	}
	if err := r.store.CreateRoll(ctx, roll); err != nil {
		r.log.Warn("roll: persisting", zap.Error(err))
		return
	}
	if err := r.store.TouchGame(ctx, game.ID, now); err != nil {
		r.log.Warn("roll: touching game", zap.Error(err))
	}
	observability.DiceRolls.WithLabelValues(strconv.Itoa(req.Sides)).Inc()

	r.broadcastLocked(protocol.NewRollResult(protocol.RollInfo{
		Name:   roll.Name,
		Color:  roll.Color,
		Sides:  roll.Sides,
		Result: roll.Result,
		Recent: true,
	}), nil)
}

// OnSelect replaces the sender's selection verbatim and announces it.
// The ids are not validated against the scene.
func (r *Room) OnSelect(s *PlayerSession, req *protocol.SelectRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.selected = req.Selected
	r.broadcastLocked(protocol.NewSelect(s.Color, s.selected), nil)
}

// OnRange selects every token of the active scene whose bounding box
// intersects the query rectangle, either replacing or unioning with the
// sender's current selection. Incomplete rectangles are dropped.
func (r *Room) OnRange(ctx context.Context, s *PlayerSession, req *protocol.RangeRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !req.Complete() {
		return
	}

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		r.log.Warn("range: resolving game", zap.Error(err))
		return
	}
	tokens, err := r.store.TokensByScene(ctx, game.ActiveScene)
	if err != nil {
		r.log.Warn("range: loading tokens", zap.Error(err))
		return
	}

	var hits []int64
	for _, t := range tokens {
		if t.Intersects(*req.Left, *req.Top, *req.Width, *req.Height) {
			hits = append(hits, t.ID)
		}
	}

	if req.Adding {
		s.selected = unionIDs(s.selected, hits)
	} else {
		s.selected = hits
	}
	r.broadcastLocked(protocol.NewSelect(s.Color, s.selected), nil)
}

// OnOrder moves the named player one slot in the display order and
// announces the full index map. Moves past either end keep the order
// unchanged but still broadcast; a zero or out-of-range direction, or
// an unknown name, is dropped silently.
func (r *Room) OnOrder(s *PlayerSession, req *protocol.OrderRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Direction != -1 && req.Direction != 1 {
		return
	}

	at := -1
	for i, id := range r.order {
		if r.roster[id].Name == req.Name {
			at = i
			break
		}
	}
	if at < 0 {
		return
	}

	to := at + req.Direction
	if to >= 0 && to < len(r.order) {
		r.order[at], r.order[to] = r.order[to], r.order[at]
	}
	r.broadcastLocked(protocol.NewOrder(r.indicesLocked()), nil)
}

// OnUpdateToken applies a batch of token edits to the active scene and
// broadcasts the tokens that actually changed, tagged with the acting
// session's uuid. An empty effective batch still broadcasts an empty
// UPDATE and still refreshes the game's activity timestamp.
func (r *Room) OnUpdateToken(ctx context.Context, s *PlayerSession, req *protocol.UpdateRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		r.log.Warn("update: resolving game", zap.Error(err))
		return
	}

	now := r.now()
	for _, change := range req.Changes {
		r.applyChangeLocked(ctx, game, change, s.Color, now)
	}
	if err := r.store.TouchGame(ctx, game.ID, now); err != nil {
		r.log.Warn("update: touching game", zap.Error(err))
	}

	r.broadcastTokenUpdateLocked(ctx, s, game.ActiveScene, now)
}

// applyChangeLocked applies one UPDATE entry. Unknown ids and tokens
// outside the active scene are skipped.
func (r *Room) applyChangeLocked(ctx context.Context, game *tabletop.Game, change protocol.TokenChange, labelColor string, now time.Time) {
	tok, err := r.store.TokenByID(ctx, change.ID)
	if err != nil {
		r.log.Debug("update: skipping token", zap.Int64("token", change.ID), zap.Error(err))
		return
	}
	if tok.SceneID != game.ActiveScene {
		return
	}
	if tok.Locked && change.Locked == nil {
		return
	}

	patch := tabletop.TokenPatch{
		PosX:   change.PosX,
		PosY:   change.PosY,
		ZOrder: change.ZOrder,
		Size:   change.Size,
		Rotate: change.Rotate,
		FlipX:  change.FlipX,
		Locked: change.Locked,
		Text:   change.Text,
	}

	updated := false
	if change.Size != nil && *change.Size == tabletop.BackgroundSize {
		patch.Size = nil
		if err := r.promoteBackgroundLocked(ctx, game.ActiveScene, tok); err != nil {
			r.log.Warn("update: promoting background",
				zap.Int64("token", tok.ID), zap.Error(err))
			return
		}
		tok.Size = tabletop.BackgroundSize
		tok.Modified = now
		updated = true
	}
	if tok.Apply(now, patch, labelColor) {
		updated = true
	}
	if !updated {
		return
	}
	if err := r.store.UpdateToken(ctx, tok); err != nil {
		r.log.Warn("update: persisting token", zap.Int64("token", tok.ID), zap.Error(err))
	}
}

// promoteBackgroundLocked makes tok the scene background, deleting the
// previous background token if there was a different one.
func (r *Room) promoteBackgroundLocked(ctx context.Context, sceneID int64, tok *tabletop.Token) error {
	scene, err := r.store.SceneByID(ctx, sceneID)
	if err != nil {
		return err
	}
	if scene.Backing != nil && *scene.Backing == tok.ID {
		return nil
	}
	if scene.Backing != nil {
		if err := r.store.DeleteToken(ctx, *scene.Backing); err != nil {
			return err
		}
	}
	return r.store.SetBacking(ctx, sceneID, &tok.ID)
}

// BroadcastTokenUpdate pushes every token of the active scene modified
// at or after since to the whole room, tagged with the acting session's
// uuid. Batch import paths use this to surface out-of-band edits.
func (r *Room) BroadcastTokenUpdate(ctx context.Context, s *PlayerSession, since time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		r.log.Warn("token update: resolving game", zap.Error(err))
		return
	}
	r.broadcastTokenUpdateLocked(ctx, s, game.ActiveScene, since)
}

func (r *Room) broadcastTokenUpdateLocked(ctx context.Context, s *PlayerSession, sceneID int64, since time.Time) {
	tokens, err := r.store.TokensModifiedSince(ctx, sceneID, since)
	if err != nil {
		r.log.Warn("token update: loading tokens", zap.Error(err))
		return
	}
	infos := make([]protocol.TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		infos = append(infos, tokenInfo(t, s.UUID))
	}
	r.broadcastLocked(protocol.NewUpdate(infos), nil)
}

// OnCreateToken creates one token per url, placed evenly on a circle
// around the drop point. If the active scene has no background yet the
// first token becomes it; an explicit size of BackgroundSize promotes
// a created token the same way an update would.
func (r *Room) OnCreateToken(ctx context.Context, s *PlayerSession, req *protocol.CreateRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(req.URLs) == 0 {
		return
	}

	game, err := r.store.GameByURL(ctx, r.hostURL, r.gameURL)
	if err != nil {
		r.log.Warn("create: resolving game", zap.Error(err))
		return
	}
	scene, err := r.store.SceneByID(ctx, game.ActiveScene)
	if err != nil {
		r.log.Warn("create: loading scene", zap.Error(err))
		return
	}

	base := r.now()
	backing := scene.Backing
	created := make([]protocol.TokenInfo, 0, len(req.URLs))
	for k, url := range req.URLs {
		x, y := tabletop.PositionOnCircle(req.PosX, req.PosY, k, len(req.URLs))
		size := tabletop.ClampSize(req.Size)
		if size == tabletop.BackgroundSize && k > 0 {
			// One token per request may claim the background slot; later
			// URLs land as regular tokens instead of evicting each other.
			size = tabletop.MinTokenSize
		}
		tok := &tabletop.Token{
			SceneID: scene.ID,
			URL:     url,
			PosX:    x,
			PosY:    y,
			Size:    size,
			// Offset stamps keep creation order recoverable from the
			// modification cursor alone.
			Modified: base.Add(time.Duration(k) * time.Microsecond),
		}
		if k < len(req.Labels) && req.Labels[k] != "" {
			tok.Text = tabletop.NormalizeLabel(req.Labels[k])
			tok.Color = s.Color
		}
		if backing == nil {
			tok.Size = tabletop.BackgroundSize
		}
		if err := r.store.CreateToken(ctx, tok); err != nil {
			r.log.Warn("create: persisting token", zap.String("url", url), zap.Error(err))
			continue
		}
		if tok.Size == tabletop.BackgroundSize {
			if backing != nil {
				if err := r.store.DeleteToken(ctx, *backing); err != nil {
					r.log.Warn("create: deleting old background", zap.Error(err))
				}
			}
			if err := r.store.SetBacking(ctx, scene.ID, &tok.ID); err != nil {
				r.log.Warn("create: binding background", zap.Error(err))
			}
			id := tok.ID
			backing = &id
		}
		created = append(created, tokenInfo(tok, s.UUID))
	}

	if err := r.store.TouchGame(ctx, game.ID, base); err != nil {
		r.log.Warn("create: touching game", zap.Error(err))
	}
	r.broadcastLocked(protocol.NewCreate(created), nil)
}

// BroadcastSceneSwitch pushes a full REFRESH of the game's new active
// scene to every session.
func (r *Room) BroadcastSceneSwitch(ctx context.Context, game *tabletop.Game) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refresh, err := r.fetchRefresh(ctx, game.ActiveScene)
	if err != nil {
		r.log.Warn("scene switch: loading scene", zap.Error(err))
		return
	}
	r.broadcastLocked(refresh, nil)
}

// fetchRefresh assembles a REFRESH frame for the given scene.
func (r *Room) fetchRefresh(ctx context.Context, sceneID int64) (protocol.Refresh, error) {
	scene, err := r.store.SceneByID(ctx, sceneID)
	if err != nil {
		return protocol.Refresh{}, err
	}
	tokens, err := r.store.TokensByScene(ctx, scene.ID)
	if err != nil {
		return protocol.Refresh{}, err
	}
	infos := make([]protocol.TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		infos = append(infos, tokenInfo(t, ""))
	}
	return protocol.NewRefresh(scene.Backing, infos), nil
}

// recentRolls builds the login roll log: everything inside the latest
// window, most recent first, flagged recent inside the short window.
func (r *Room) recentRolls(ctx context.Context, gameID int64, now time.Time) ([]protocol.RollInfo, error) {
	rolls, err := r.store.RollsSince(ctx, gameID, now.Add(-r.cfg.LatestRollWindow))
	if err != nil {
		return nil, err
	}
	recentCutoff := now.Add(-r.cfg.RecentRollWindow)
	infos := make([]protocol.RollInfo, 0, len(rolls))
	for _, roll := range rolls {
		infos = append(infos, protocol.RollInfo{
			Name:   roll.Name,
			Color:  roll.Color,
			Sides:  roll.Sides,
			Result: roll.Result,
			Recent: !roll.Rolled.Before(recentCutoff),
		})
	}
	return infos, nil
}

func tokenInfo(t *tabletop.Token, actorUUID string) protocol.TokenInfo {
	return protocol.TokenInfo{
		ID:     t.ID,
		URL:    t.URL,
		PosX:   t.PosX,
		PosY:   t.PosY,
		ZOrder: t.ZOrder,
		Size:   t.Size,
		Rotate: t.Rotate,
		FlipX:  t.FlipX,
		Locked: t.Locked,
		Text:   t.Text,
		Color:  t.Color,
		UUID:   actorUUID,
	}
}

func unionIDs(current, extra []int64) []int64 {
	seen := make(map[int64]struct{}, len(current))
	out := make([]int64, 0, len(current)+len(extra))
	for _, id := range current {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range extra {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
