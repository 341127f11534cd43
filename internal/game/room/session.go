package room

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/game/protocol"
)

// Channel is the message transport bound to a single player session.
// Send must be safe for concurrent use; Receive is called by exactly
// one goroutine.
type Channel interface {
	// Send writes one outbound message frame.
	Send(msg protocol.Message) error
	// Receive blocks for the next inbound frame and returns its raw
	// bytes.
	Receive() ([]byte, error)
	Close() error
}

// PlayerSession is one player's presence in a room. A session is
// created by Room.Insert and lives until logout or disconnect. The
// identity fields are immutable after creation; the mutable state
// (channel binding, selection) is guarded by the owning room's lock.
type PlayerSession struct {
	UUID    string
	Name    string
	Color   string
	Country string
	IsHost  bool

	room     *Room
	ch       Channel
	selected []int64
}

// Attach binds a channel to the session.
//
// Precondition: the session is registered in its room.
// Postcondition: inbound frames may be pumped via Run.
//
// Attaching twice is an error; a session's channel is bound at most
// once for its lifetime.
func (s *PlayerSession) Attach(ch Channel) error {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	if s.ch != nil {
		return errors.New("session already has a channel")
	}
	s.ch = ch
	return nil
}

// Run pumps inbound frames until the channel fails or the session is
// logged out, dispatching each decoded request to the room. Frames
// with an unrecognized tag are skipped; a frame without a tag, or one
// that is not valid JSON, terminates the session.
//
// Run always logs the session out before returning.
func (s *PlayerSession) Run(ctx context.Context) {
	defer s.room.Logout(s)
	for {
		raw, err := s.ch.Receive()
		if err != nil {
			s.room.log.Debug("session channel closed",
				zap.String("player", s.Name),
				zap.Error(err))
			return
		}
		req, err := protocol.Decode(raw)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownOp) {
				s.room.log.Debug("skipping unknown operation",
					zap.String("player", s.Name))
				continue
			}
			s.room.log.Warn("dropping session on malformed frame",
				zap.String("player", s.Name),
				zap.Error(err))
			return
		}
		s.dispatch(ctx, req)
	}
}

func (s *PlayerSession) dispatch(ctx context.Context, req protocol.Request) {
	switch req := req.(type) {
	case *protocol.PingRequest:
		s.room.OnPing(s)
	case *protocol.RollRequest:
		s.room.OnRoll(ctx, s, req)
	case *protocol.SelectRequest:
		s.room.OnSelect(s, req)
	case *protocol.RangeRequest:
		s.room.OnRange(ctx, s, req)
	case *protocol.OrderRequest:
		s.room.OnOrder(s, req)
	case *protocol.UpdateRequest:
		s.room.OnUpdateToken(ctx, s, req)
	case *protocol.CreateRequest:
		s.room.OnCreateToken(ctx, s, req)
	case *protocol.JoinRequest:
		// The join handshake happens before the channel is bound;
		// a second join on a live session is not dispatched.
		s.room.log.Warn("rejecting join on bound session",
			zap.String("player", s.Name))
	}
}
