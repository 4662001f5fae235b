package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeRiskCalculated   MessageType = "risk:calculated"
	MsgTypeBacktestComplete MessageType = "backtest:complete"
	MsgTypeHeartbeat        MessageType = "heartbeat"
	MsgTypeError            MessageType = "error"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RiskCalculatedEvent announces a stored risk snapshot
type RiskCalculatedEvent struct {
	ID           string    `json:"id"`
	PortfolioID  string    `json:"portfolioId"`
	VaR95        float64   `json:"var95"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// BacktestCompleteEvent announces a stored backtest result
type BacktestCompleteEvent struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	TotalReturn float64 `json:"totalReturn"`
	TotalTrades int     `json:"totalTrades"`
}

type outbound struct {
	channel string
	payload []byte
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans completion notifications out to connected clients. A client with
// no subscriptions receives every message; otherwise only its channels.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and messages until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ticker.C:
			h.deliver(outbound{payload: h.encode(MsgTypeHeartbeat, "", nil)})
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// deliver drops clients whose send buffer is full.
func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if msg.channel != "" && !client.wants(msg.channel) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("Dropping slow WebSocket client", zap.String("id", client.id))
		}
	}
}

func (h *Hub) encode(msgType MessageType, channel string, data interface{}) []byte {
	msg := WSMessage{
		Type:      msgType,
		Channel:   channel,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("Failed to marshal message data", zap.Error(err))
			return nil
		}
		msg.Data = raw
	}

	out, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return nil
	}
	return out
}

// Publish queues a message for every client listening on channel.
func (h *Hub) Publish(channel string, msgType MessageType, data interface{}) {
	payload := h.encode(msgType, channel, data)
	if payload == nil {
		return
	}

	select {
	case h.broadcast <- outbound{channel: channel, payload: payload}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("type", string(msgType)))
	}
}

// NotifyRiskCalculated announces a new risk snapshot on "risk:{portfolioId}".
func (h *Hub) NotifyRiskCalculated(r types.RiskMetricsResult) {
	event := RiskCalculatedEvent{
		ID:           r.ID,
		PortfolioID:  r.PortfolioID,
		VaR95:        r.VaR95,
		CalculatedAt: r.CalculatedAt,
	}
	h.Publish("risk:"+r.PortfolioID, MsgTypeRiskCalculated, event)
}

// NotifyBacktestComplete announces a stored backtest on "backtest:{symbol}".
func (h *Hub) NotifyBacktestComplete(r types.BacktestResult) {
	event := BacktestCompleteEvent{
		ID:          r.ID,
		Symbol:      r.Run.Symbol,
		TotalReturn: r.TotalReturn,
		TotalTrades: r.TotalTrades,
	}
	h.Publish("backtest:"+r.Run.Symbol, MsgTypeBacktestComplete, event)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:            uuid.New().String(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// wants reports whether the client receives messages published on channel.
// Subscribing to "risk" matches every "risk:{id}" channel.
func (c *Client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) == 0 {
		return true
	}
	if c.subscriptions[channel] {
		return true
	}
	if prefix, _, ok := strings.Cut(channel, ":"); ok {
		return c.subscriptions[prefix]
	}
	return false
}

func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = true
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

// ReadPump reads subscription requests until the connection closes.
func (c *Client) ReadPump() {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.subscribe(msg.Channel)
		case MsgTypeUnsubscribe:
			c.unsubscribe(msg.Channel)
		}
	}
}

// WritePump writes queued messages and keeps the connection alive with pings.
func (c *Client) WritePump() {
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
