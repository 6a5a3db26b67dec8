package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.courier/internal/model"
)

// Client is one live session. A single writer goroutine drains send, so a
// session sees events in the order they were published.
type Client struct {
	hub    *Hub
	userID model.UserID
	conn   *websocket.Conn
	send   chan Event
	done   chan struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, userID model.UserID, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan Event, h.sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() model.UserID {
	return c.userID
}

// Done is closed once the session has been detached.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump discards client frames; it exists to process control frames and
// to notice disconnects.
func (c *Client) readPump() {
	defer c.hub.Detach(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("notify: session for user %s closed: %v", c.userID, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Detach(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
