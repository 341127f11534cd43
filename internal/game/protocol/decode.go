package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownOp marks a frame whose OPID the server does not handle. The
// receive loop skips these for forward compatibility.
var ErrUnknownOp = errors.New("protocol: unknown operation")

// ErrMissingOp marks a frame without an OPID tag. Unlike an unknown tag
// this is a protocol violation and terminates the connection.
var ErrMissingOp = errors.New("protocol: missing OPID")

// Request is a decoded client-to-server frame.
type Request interface {
	request()
}

// JoinRequest is the first frame on a fresh connection, binding it to an
// already-registered player.
type JoinRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Game string `json:"game"`
}

// PingRequest asks for a liveness echo.
type PingRequest struct{}

// RollRequest asks to roll a single die.
type RollRequest struct {
	Sides int `json:"sides"`
}

// SelectRequest replaces the sender's token selection verbatim.
type SelectRequest struct {
	Selected []int64 `json:"selected"`
}

// RangeRequest selects all tokens intersecting a rectangle. Nil bounds
// mark an incomplete query, which handlers drop.
type RangeRequest struct {
	Left   *int `json:"left"`
	Top    *int `json:"top"`
	Width  *int `json:"width"`
	Height *int `json:"height"`
	Adding bool `json:"adding"`
}

// Complete reports whether all four bounds are present.
func (r RangeRequest) Complete() bool {
	return r.Left != nil && r.Top != nil && r.Width != nil && r.Height != nil
}

// OrderRequest moves the named player one slot left or right.
type OrderRequest struct {
	Name      string `json:"name"`
	Direction int    `json:"direction"`
}

// TokenChange is one entry of an UPDATE request. Nil fields are not part
// of the edit.
type TokenChange struct {
	ID     int64    `json:"id"`
	PosX   *int     `json:"posx"`
	PosY   *int     `json:"posy"`
	ZOrder *int     `json:"zorder"`
	Size   *int     `json:"size"`
	Rotate *float64 `json:"rotate"`
	FlipX  *bool    `json:"flipx"`
	Locked *bool    `json:"locked"`
	Text   *string  `json:"text"`
}

// UpdateRequest applies a batch of token edits.
type UpdateRequest struct {
	Changes []TokenChange `json:"changes"`
}

// CreateRequest creates one token per URL around a drop point.
type CreateRequest struct {
	PosX   int      `json:"posx"`
	PosY   int      `json:"posy"`
	Size   int      `json:"size"`
	URLs   []string `json:"urls"`
	Labels []string `json:"labels"`
}

func (JoinRequest) request()   {}
func (PingRequest) request()   {}
func (RollRequest) request()   {}
func (SelectRequest) request() {}
func (RangeRequest) request()  {}
func (OrderRequest) request()  {}
func (UpdateRequest) request() {}
func (CreateRequest) request() {}

// Decode parses a raw client frame into its typed request.
//
// Postcondition: Returns ErrMissingOp when the OPID tag is absent,
// ErrUnknownOp when the tag is not dispatchable, or a wrapped JSON error
// when the payload does not match the tag's shape.
func Decode(raw []byte) (Request, error) {
	var tag struct {
		OPID *string `json:"OPID"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("protocol: parsing frame: %w", err)
	}
	if tag.OPID == nil {
		return nil, ErrMissingOp
	}

	decode := func(into Request) (Request, error) {
		if err := json.Unmarshal(raw, into); err != nil {
			return nil, fmt.Errorf("protocol: parsing %s payload: %w", *tag.OPID, err)
		}
		return into, nil
	}

	switch *tag.OPID {
	case OpJoin:
		return decode(&JoinRequest{})
	case OpPing:
		return decode(&PingRequest{})
	case OpRoll:
		return decode(&RollRequest{})
	case OpSelect:
		return decode(&SelectRequest{})
	case OpRange:
		return decode(&RangeRequest{})
	case OpOrder:
		return decode(&OrderRequest{})
	case OpUpdate:
		return decode(&UpdateRequest{})
	case OpCreate:
		return decode(&CreateRequest{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, *tag.OPID)
	}
}
