// Package protocol defines the tagged message model spoken over a player
// connection. Every frame is a JSON object carrying an OPID tag; inbound
// frames are decoded once into a typed request before dispatch.
package protocol

// Operation tags. ACCEPT through PING are server-to-client; PING, ROLL,
// SELECT, RANGE, ORDER, UPDATE, and CREATE also arrive client-to-server.
const (
	OpAccept  = "ACCEPT"
	OpRefresh = "REFRESH"
	OpJoin    = "JOIN"
	OpQuit    = "QUIT"
	OpOrder   = "ORDER"
	OpSelect  = "SELECT"
	OpRange   = "RANGE"
	OpRoll    = "ROLL"
	OpUpdate  = "UPDATE"
	OpCreate  = "CREATE"
	OpPing    = "PING"
)

// Message is a server-to-client frame.
type Message interface {
	// Opid returns the frame's operation tag.
	Opid() string
}

type envelope struct {
	OPID string `json:"OPID"`
}

// Opid returns the frame's operation tag.
func (e envelope) Opid() string { return e.OPID }

// PlayerInfo is a player's public identity as sent to clients.
type PlayerInfo struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Color   string `json:"color"`
	Country string `json:"country"`
	Index   int    `json:"index"`
}

// RollInfo is one dice outcome as sent to clients.
type RollInfo struct {
	Name   string `json:"name"`
	Color  string `json:"color"`
	Sides  int    `json:"sides"`
	Result int    `json:"result"`
	Recent bool   `json:"recent"`
}

// TokenInfo carries every synchronization-relevant token field, tagged
// with the uuid of the session whose action changed it (empty on plain
// refreshes).
type TokenInfo struct {
	ID     int64   `json:"id"`
	URL    string  `json:"url"`
	PosX   int     `json:"posx"`
	PosY   int     `json:"posy"`
	ZOrder int     `json:"zorder"`
	Size   int     `json:"size"`
	Rotate float64 `json:"rotate"`
	FlipX  bool    `json:"flipx"`
	Locked bool    `json:"locked"`
	Text   string  `json:"text"`
	Color  string  `json:"color"`
	UUID   string  `json:"uuid,omitempty"`
}

// Accept is the first handshake frame sent to a joining player.
type Accept struct {
	envelope
	UUID    string       `json:"uuid"`
	Players []PlayerInfo `json:"players"`
	Rolls   []RollInfo   `json:"rolls"`
}

// NewAccept builds an ACCEPT frame.
func NewAccept(uuid string, players []PlayerInfo, rolls []RollInfo) Accept {
	return Accept{envelope: envelope{OpAccept}, UUID: uuid, Players: players, Rolls: rolls}
}

// Refresh carries the full token state of the active scene.
type Refresh struct {
	envelope
	Background *int64      `json:"background"`
	Tokens     []TokenInfo `json:"tokens"`
}

// NewRefresh builds a REFRESH frame.
func NewRefresh(background *int64, tokens []TokenInfo) Refresh {
	return Refresh{envelope: envelope{OpRefresh}, Background: background, Tokens: tokens}
}

// Join announces a new player to everybody already in the room.
type Join struct {
	envelope
	PlayerInfo
}

// NewJoin builds a JOIN frame.
func NewJoin(p PlayerInfo) Join {
	return Join{envelope: envelope{OpJoin}, PlayerInfo: p}
}

// Quit announces that a player left.
type Quit struct {
	envelope
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// NewQuit builds a QUIT frame.
func NewQuit(name, uuid string) Quit {
	return Quit{envelope: envelope{OpQuit}, Name: name, UUID: uuid}
}

// Order carries the full uuid-to-display-index map.
type Order struct {
	envelope
	Indices map[string]int `json:"indices"`
}

// NewOrder builds an ORDER frame.
func NewOrder(indices map[string]int) Order {
	return Order{envelope: envelope{OpOrder}, Indices: indices}
}

// Select carries a player's new token selection.
type Select struct {
	envelope
	Color    string  `json:"color"`
	Selected []int64 `json:"selected"`
}

// NewSelect builds a SELECT frame.
func NewSelect(color string, selected []int64) Select {
	return Select{envelope: envelope{OpSelect}, Color: color, Selected: selected}
}

// RollResult announces a dice outcome.
type RollResult struct {
	envelope
	RollInfo
}

// NewRollResult builds a ROLL frame.
func NewRollResult(info RollInfo) RollResult {
	return RollResult{envelope: envelope{OpRoll}, RollInfo: info}
}

// Update carries the tokens actually changed by an edit. An empty token
// list is valid and doubles as a liveness signal.
type Update struct {
	envelope
	Tokens []TokenInfo `json:"tokens"`
}

// NewUpdate builds an UPDATE frame.
func NewUpdate(tokens []TokenInfo) Update {
	return Update{envelope: envelope{OpUpdate}, Tokens: tokens}
}

// Create carries newly created tokens in input order.
type Create struct {
	envelope
	Tokens []TokenInfo `json:"tokens"`
}

// NewCreate builds a CREATE frame.
func NewCreate(tokens []TokenInfo) Create {
	return Create{envelope: envelope{OpCreate}, Tokens: tokens}
}

// Pong is the reply to a client PING, sent to the sender only.
type Pong struct {
	envelope
}

// NewPong builds a PING reply frame.
func NewPong() Pong {
	return Pong{envelope: envelope{OpPing}}
}
