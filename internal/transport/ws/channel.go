// Package ws exposes the game session layer over HTTP: a JSON REST
// surface for host and game administration and a websocket endpoint
// speaking the tagged frame protocol.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/galen-hood/tabletop/internal/game/protocol"
)

// Channel adapts a websocket connection to the session transport
// contract. Writes are serialized and bounded by the send timeout;
// reads are owned by the session's receive loop.
type Channel struct {
	conn        *websocket.Conn
	sendTimeout time.Duration

	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewChannel wraps an upgraded connection.
//
// Precondition: sendTimeout must be positive.
func NewChannel(conn *websocket.Conn, sendTimeout time.Duration) *Channel {
	// The hijacked connection inherits any read deadline the HTTP
	// server set before the upgrade; a session has no read timeout.
	_ = conn.SetReadDeadline(time.Time{})
	return &Channel{conn: conn, sendTimeout: sendTimeout}
}

// Send writes one outbound frame. A slow or dead peer fails the write
// after the send timeout; the session layer turns that into a
// disconnect of this one session.
func (c *Channel) Send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Receive blocks for the next inbound text frame.
func (c *Channel) Receive() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// Close shuts the connection down. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
