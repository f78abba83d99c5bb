package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]bool // subscribed markets, or allMarkets
	closed bool
}

// trySend queues msg without blocking. It reports false when the buffer is
// full or the client is gone.
func (c *client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) sendControl(m serverMsg) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.trySend(data)
}

// close stops the write pump. Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// isSubscribed checks whether the client wants updates for market.
func (c *client) isSubscribed(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[allMarkets] || c.subs[market]
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendControl(serverMsg{Type: "error", Error: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

// handle applies a subscribe or unsubscribe request. Newly subscribed
// markets are primed with their cached snapshot after the acknowledgement.
func (c *client) handle(msg clientMsg) {
	markets := make([]string, 0, len(msg.Markets))
	for _, m := range msg.Markets {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != allMarkets && !common.IsHexAddress(m) {
			c.sendControl(serverMsg{Type: "error", Error: "invalid market " + m})
			return
		}
		markets = append(markets, m)
	}

	switch msg.Action {
	case "subscribe":
		c.mu.Lock()
		for _, m := range markets {
			c.subs[m] = true
		}
		c.mu.Unlock()
		c.sendControl(serverMsg{Type: "subscribed", Markets: markets})
		for _, m := range markets {
			c.hub.primed(c, m)
		}
	case "unsubscribe":
		c.mu.Lock()
		for _, m := range markets {
			delete(c.subs, m)
		}
		c.mu.Unlock()
		c.sendControl(serverMsg{Type: "unsubscribed", Markets: markets})
	default:
		c.sendControl(serverMsg{Type: "error", Error: "unknown action " + msg.Action})
	}
}

// writePump pumps messages from the hub to the WebSocket connection as
// text frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
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
