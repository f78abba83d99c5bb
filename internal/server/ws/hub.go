// Package ws pushes merged market snapshots to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// cacheTimeout bounds the cached snapshot lookup on subscribe.
	cacheTimeout = 2 * time.Second

	// allMarkets subscribes a client to every market.
	allMarkets = "*"
)

// upgrader configures the WebSocket upgrade parameters. Origins are checked
// by the CORS middleware in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMsg is the JSON message a client sends to manage subscriptions:
//
//	{"action":"subscribe","markets":["0x5fbd..."]}
//	{"action":"subscribe","markets":["*"]}
//	{"action":"unsubscribe","markets":["0x5fbd..."]}
type clientMsg struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

// serverMsg is a control message sent by the hub. Snapshot updates are
// forwarded verbatim as domain.SnapshotUpdate JSON.
type serverMsg struct {
	Type    string   `json:"type"`
	Markets []string `json:"markets,omitempty"`
	Error   string   `json:"error,omitempty"`
	Uptime  int64    `json:"uptime_seconds,omitempty"`
}

// Hub manages a set of connected WebSocket clients and forwards every
// snapshot update from the signal bus to the clients subscribed to its
// market.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	cache      domain.SnapshotCache
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries a payload along with the market it concerns so the
// hub can route it only to clients subscribed to that market.
type broadcastMsg struct {
	market string
	data   []byte
}

// NewHub creates a hub that bridges bus to connected WebSocket clients.
// cache may be nil, in which case new subscribers wait for the next update.
func NewHub(bus domain.SignalBus, cache domain.SnapshotCache, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		cache:      cache,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
// It handles client registration, unregistration, and message broadcasting.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgs, err := h.bus.Subscribe(ctx, domain.MarketChannelPattern)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.MarketChannelPattern, err)
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.MarketChannelPattern))
	go h.route(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.market) && !c.trySend(msg.data) {
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping message for slow client",
						slog.String("market", msg.market),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// route decodes the market of every bus payload and hands it to the event
// loop.
func (h *Hub) route(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.MarketChannelPattern),
				)
				return
			}
			var u domain.SnapshotUpdate
			if err := json.Unmarshal(data, &u); err != nil || u.Snapshot == nil {
				h.logger.Warn("ws: dropping undecodable update", slog.Int("bytes", len(data)))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{market: strings.ToLower(u.Snapshot.Address), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start with no subscriptions.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "websocket hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendControl(serverMsg{
		Type:   "status",
		Uptime: int64(time.Since(h.startedAt).Seconds()),
	})

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// primed sends the cached snapshot of market to c, if one exists.
func (h *Hub) primed(c *client, market string) {
	if h.cache == nil || market == allMarkets {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	snap, err := h.cache.Get(ctx, market)
	if err != nil {
		return
	}
	data, err := json.Marshal(domain.SnapshotUpdate{
		Type:      "snapshot",
		Snapshot:  &snap,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	c.trySend(data)
}
