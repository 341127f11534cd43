package testutil

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a websocket test client speaking the tagged frame
// protocol, for integration testing against a running server.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &WSClient{conn: conn, t: t}
}

// Send marshals v as JSON and writes it as one frame.
//
// Postcondition: The frame is written, or the test fails.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending frame: %v", err)
	}
}

// SendRaw writes a pre-encoded text frame.
func (c *WSClient) SendRaw(raw string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		c.t.Fatalf("sending raw frame: %v", err)
	}
}

// ReadFrame reads one frame and returns its decoded JSON object.
//
// Postcondition: Returns the frame as a generic map, or fails on
// timeout or malformed JSON.
func (c *WSClient) ReadFrame(timeout time.Duration) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.t.Fatalf("decoding frame %q: %v", raw, err)
	}
	return frame
}

// ReadUntil reads frames until one carries the wanted OPID, skipping
// others. Returns the matching frame.
//
// Precondition: opid must be non-empty.
// Postcondition: Returns the first matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(opid string, timeout time.Duration) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %s frame within %s", opid, timeout)
		}
		frame := c.ReadFrame(remaining)
		if frame["OPID"] == opid {
			return frame
		}
	}
}

// ExpectClosed reads until the server closes the connection, skipping
// any frames still in flight.
//
// Postcondition: The connection is confirmed closed, or the test fails
// after the timeout.
func (c *WSClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	_ = c.conn.Close()
}
