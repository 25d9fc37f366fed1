// Package streaming pumps session broadcast events to WebSocket clients.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client bridges one session subscriber channel to one WebSocket connection.
// The connection closes when the subscriber channel is closed, and the read
// pump tears the subscription down when the peer goes away.
type Client struct {
	conn        *websocket.Conn
	events      <-chan []byte
	unsubscribe func()
	logger      *logger.Logger
}

// NewClient creates a WebSocket client for a session subscription.
// unsubscribe is invoked exactly once when either pump exits.
func NewClient(conn *websocket.Conn, events <-chan []byte, unsubscribe func(), log *logger.Logger) *Client {
	return &Client{
		conn:        conn,
		events:      events,
		unsubscribe: unsubscribe,
		logger:      log,
	}
}

// Run starts both pumps and blocks until the write pump exits.
func (c *Client) Run() {
	go c.readPump()
	c.writePump()
}

// readPump consumes inbound frames so close/ping control messages are
// processed. Clients have nothing meaningful to send; any payload other
// than valid JSON is logged and ignored.
func (c *Client) readPump() {
	defer func() {
		c.unsubscribe()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if !json.Valid(message) {
			c.logger.Debug("ignoring non-JSON client message")
		}
	}
}

// writePump forwards broadcast events to the connection and keeps it alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.unsubscribe()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Registry closed the subscription
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
