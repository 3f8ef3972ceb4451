package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var errClientClosed = errors.New("client closed")

// Client is one WebSocket viewer. Frames are written by the broadcast loop
// only; the read side exists to notice when the viewer goes away.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		logger: logger.With("client", id),
	}
}

// send pushes one JPEG as a binary message. Any failure is final for this
// client.
func (c *Client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &TransportError{Client: c.id, Err: errClientClosed}
	}
	c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return &TransportError{Client: c.id, Err: err}
	}
	return nil
}

// readPump discards anything the viewer sends and returns once the
// connection is gone. Control frames (ping, close) are handled by
// ReadMessage itself.
func (c *Client) readPump() {
	c.conn.SetReadLimit(WebSocketReadLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// close sends a close frame with code and drops the connection. Safe to call
// more than once.
func (c *Client) close(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(WebSocketCloseDeadline))
	c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
