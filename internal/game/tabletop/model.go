// Package tabletop provides the shared-scene domain model: hosts, games,
// scenes, tokens, and dice rolls.
package tabletop

import (
	"math"
	"time"
)

// Scene canvas bounds. The client renders a fixed 16:9 canvas; token
// positions are clamped into it on every write.
const (
	MaxSceneWidth  = 1008
	MaxSceneHeight = 567
)

// Token size bounds. BackgroundSize is the reserved sentinel marking a
// token as the scene background.
const (
	MinTokenSize   = 1
	MaxTokenSize   = 1000
	BackgroundSize = -1
)

// MaxLabelLen is the maximum number of runes kept from a token label.
const MaxLabelLen = 15

// Host is a game-master record. Hosts own games; the registry keys its
// cache by Host URL.
type Host struct {
	// ID is the database primary key.
	ID int64
	// Name is the host's display name.
	Name string
	// URL is the host's stable URL slug, unique across the server.
	URL string
	// LastSeen is updated on host activity and drives idle expiry.
	LastSeen time.Time
}

// Game is one shared table owned by a host.
type Game struct {
	// ID is the database primary key.
	ID int64
	// HostURL is the owning host's URL slug.
	HostURL string
	// URL is the game's URL slug, unique per host.
	URL string
	// ActiveScene is the ID of the currently running scene.
	ActiveScene int64
	// LastActivity is the game's activity timestamp, refreshed by every
	// handler that touches game state. Drives game expiry.
	LastActivity time.Time
}

// Scene is a single battlemap within a game.
type Scene struct {
	// ID is the database primary key.
	ID int64
	// GameID is the owning game.
	GameID int64
	// Backing is the ID of the background token, or nil if the scene has
	// no background yet. A scene has at most one background.
	Backing *int64
}

// Token is a movable piece on a scene.
type Token struct {
	ID      int64
	SceneID int64
	// URL locates the token's image asset (owned by the upload collaborator).
	URL    string
	PosX   int
	PosY   int
	ZOrder int
	// Size is the square side length in canvas units, or BackgroundSize.
	Size   int
	Rotate float64
	FlipX  bool
	Locked bool
	// Text and Color form the token label.
	Text  string
	Color string
	// Modified is the sync cursor: stamped on every applied change and
	// compared against a client's last-seen timestamp on refresh.
	Modified time.Time
}

// Roll is one persisted dice outcome.
type Roll struct {
	ID     int64
	GameID int64
	// Name and Color identify the rolling player at roll time.
	Name   string
	Color  string
	Sides  int
	Result int
	Rolled time.Time
}

// TokenPatch carries a partial token edit. Nil fields are left unchanged.
type TokenPatch struct {
	PosX   *int
	PosY   *int
	ZOrder *int
	Size   *int
	Rotate *float64
	FlipX  *bool
	Locked *bool
	Text   *string
}

// Apply merges a patch into the token, stamping Modified when anything
// actually changed.
//
// Rules, in order:
//   - A locked token rejects the whole patch unless the patch itself
//     carries a Locked change.
//   - Position applies only when PosX and PosY are both present; a lone
//     coordinate is ignored entirely.
//   - Positions are clamped into the scene canvas, Size into
//     [MinTokenSize, MaxTokenSize], and label text to MaxLabelLen runes.
//
// Postcondition: Returns true iff at least one field changed; Modified
// equals now in that case.
func (t *Token) Apply(now time.Time, p TokenPatch, labelColor string) bool {
	if t.Locked && p.Locked == nil {
		return false
	}

	updated := false

	if p.Locked != nil && t.Locked != *p.Locked {
		t.Locked = *p.Locked
		updated = true
	}
	if p.PosX != nil && p.PosY != nil {
		t.PosX = ClampX(*p.PosX)
		t.PosY = ClampY(*p.PosY)
		updated = true
	}
	if p.ZOrder != nil {
		t.ZOrder = *p.ZOrder
		updated = true
	}
	if p.Size != nil {
		t.Size = clampSize(*p.Size)
		updated = true
	}
	if p.Rotate != nil {
		t.Rotate = *p.Rotate
		updated = true
	}
	if p.FlipX != nil {
		t.FlipX = *p.FlipX
		updated = true
	}
	if p.Text != nil {
		t.Text = truncateLabel(*p.Text)
		t.Color = labelColor
		updated = true
	}

	if updated {
		t.Modified = now
	}
	return updated
}

// Intersects reports whether the token's axis-aligned bounding box
// (center ± Size/2) touches the given query rectangle. Background tokens
// never intersect.
func (t *Token) Intersects(left, top, width, height int) bool {
	if t.Size == BackgroundSize {
		return false
	}
	half := float64(t.Size) / 2
	cx, cy := float64(t.PosX), float64(t.PosY)
	if cx+half < float64(left) || cx-half > float64(left+width) {
		return false
	}
	if cy+half < float64(top) || cy-half > float64(top+height) {
		return false
	}
	return true
}

// PositionOnCircle returns the position of the k-th of n tokens placed
// evenly on a circle of radius 32·sqrt(n) around (originX, originY).
// A single token (n == 1) lands on the origin itself. The result is
// clamped into the scene canvas.
//
// Precondition: 0 <= k < n.
func PositionOnCircle(originX, originY, k, n int) (int, int) {
	radius := 32 * math.Sqrt(float64(n))
	if n == 1 {
		radius = 0
	}
	rad := float64(k) * 2 * math.Pi / float64(n)

	x := originX - int(radius*math.Sin(rad))
	y := originY + int(radius*math.Cos(rad))
	return ClampX(x), ClampY(y)
}

// ClampX forces an x coordinate onto the scene canvas.
func ClampX(x int) int {
	return clamp(x, 0, MaxSceneWidth)
}

// ClampY forces a y coordinate onto the scene canvas.
func ClampY(y int) int {
	return clamp(y, 0, MaxSceneHeight)
}

// ClampSize forces a creation-time size into [MinTokenSize,
// MaxTokenSize], preserving the BackgroundSize sentinel.
func ClampSize(size int) int {
	if size == BackgroundSize {
		return size
	}
	return clampSize(size)
}

// NormalizeLabel truncates a label to MaxLabelLen runes.
func NormalizeLabel(text string) string {
	return truncateLabel(text)
}

func clampSize(size int) int {
	return clamp(size, MinTokenSize, MaxTokenSize)
}

func truncateLabel(text string) string {
	runes := []rune(text)
	if len(runes) > MaxLabelLen {
		return string(runes[:MaxLabelLen])
	}
	return text
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
