package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	id "payhub/pkg/domain"
)

const writeWait = 5 * time.Second

type closeRequest struct {
	code int
	text string
}

// client is one upgraded connection. The read loop runs on the handler
// goroutine; writePump owns every write to conn.
type client struct {
	id      id.ConnectionID
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closing closeRequest
	once    sync.Once
	logger  *slog.Logger
}

func newClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *client {
	connID := id.NewConnectionID()
	return &client{
		id:     connID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger.With("connection_id", connID),
	}
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *client) closeWith(code int, text string) {
	c.once.Do(func() {
		c.closing = closeRequest{code: code, text: text}
		close(c.done)
	})
}

// writePump drains the send queue and pings the peer every pingInterval.
// It closes the underlying connection on exit, which unblocks the reader.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(c.closing.code, c.closing.text)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames that were queued before close was requested.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
