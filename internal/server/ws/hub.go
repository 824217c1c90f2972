// Package ws fans signal bus traffic out to observer websocket clients.
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

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// DefaultChannels are the bus channels relayed to clients.
var DefaultChannels = []string{
	domain.ChannelPositions,
	domain.ChannelTrail,
	domain.ChannelTicks,
	domain.ChannelFeed,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope is the frame written to clients.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg lets a client narrow or widen its channel set:
// {"action":"subscribe","channels":["trail"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// Hub relays bus messages to connected websocket clients.
type Hub struct {
	bus      domain.SignalBus
	channels []string
	status   func() any
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates a Hub for channels (DefaultChannels when empty). status, if
// set, produces the snapshot sent to each client on connect.
func NewHub(bus domain.SignalBus, channels []string, status func() any, logger *slog.Logger) *Hub {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	return &Hub{
		bus:      bus,
		channels: channels,
		status:   status,
		logger:   logger.With(slog.String("component", "ws_hub")),
		clients:  make(map[*client]bool),
	}
}

// Run subscribes to the bus and broadcasts until ctx ends, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, h.channels...)
	if err != nil {
		return fmt.Errorf("ws: subscribe: %w", err)
	}
	h.logger.Info("hub started", slog.Any("channels", h.channels))

	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			h.broadcast(m)
		}
	}
}

func (h *Hub) broadcast(m domain.BusMessage) {
	if !json.Valid(m.Payload) {
		return
	}
	frame, err := json.Marshal(envelope{Channel: m.Channel, Data: m.Payload})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(m.Channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping message for slow client", slog.String("channel", m.Channel))
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("client connected", slog.Int("clients", h.ClientCount()))

	if h.status != nil {
		if data, err := json.Marshal(h.status()); err == nil {
			if frame, err := json.Marshal(envelope{Channel: "status", Data: data}); err == nil {
				c.send <- frame
			}
		}
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
		c.hub.logger.Info("client disconnected", slog.Int("clients", c.hub.ClientCount()))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.apply(sub)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToLower(msg.Action) {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
