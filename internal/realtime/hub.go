// Package realtime provides WebSocket streaming of live quota activity.
//
// Instead of polling the audit trail, dashboards subscribe to decisions as
// they happen: blocks the moment a user is cut off, warnings as budgets run
// down, configuration changes as admins apply them.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colinmxs/spendgate/internal/metrics"
	"github.com/colinmxs/spendgate/internal/quota"
)

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000

	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// normalCloseCodes are close codes for an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// EventType classifies streamed events.
type EventType string

const (
	EventBlock        EventType = "quota_block"
	EventWarning      EventType = "quota_warning"
	EventConfigChange EventType = "config_change"
)

// Event is one streamed message.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription narrows what a client receives. The zero value (and
// AllEvents) receive everything.
type Subscription struct {
	AllEvents     bool        `json:"allEvents"`
	EventTypes    []EventType `json:"eventTypes"`
	UserIDs       []string    `json:"userIds"`       // watch specific users
	MinPercentage float64     `json:"minPercentage"` // only decisions at or above this usage %
}

// wants reports whether an event passes this subscription's filters.
func (s Subscription) wants(event *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !containsType(s.EventTypes, event.Type) {
		return false
	}

	data, _ := event.Data.(map[string]interface{})

	if len(s.UserIDs) > 0 {
		userID, _ := data["userId"].(string)
		if !containsString(s.UserIDs, userID) {
			return false
		}
	}
	if s.MinPercentage > 0 {
		// Only filters events that carry a percentage at all.
		if pct, ok := data["percentageUsed"].(float64); ok && pct < s.MinPercentage {
			return false
		}
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Client is one WebSocket connection with its subscription.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Hub fans events out to connected WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run owns the client set until ctx is cancelled. All registration and
// fan-out funnels through here.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.totalClients.Add(1)
	if n := int64(len(h.clients)); n > h.peakClients.Load() {
		h.peakClients.Store(n)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client connected", "total", n)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client disconnected", "total", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send) // writePump sends CloseMessage on closed channel
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event failed", "error", err)
		return
	}

	var stalled []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	// Drop clients whose send buffer is full rather than block fan-out.
	if len(stalled) > 0 {
		h.mu.Lock()
		for _, client := range stalled {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) shouldSend(client *Client, event *Event) bool {
	return client.subscription().wants(event)
}

// Broadcast queues an event for fan-out, dropping it if the hub is backed
// up.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// PublishDecision streams a block or warning decision to subscribers.
// Within-limit decisions are not streamed; they carry no signal.
func (h *Hub) PublishDecision(userID string, d *quota.Decision) {
	eventType := EventWarning
	if d.Status == quota.StatusBlocked {
		eventType = EventBlock
	}

	h.Broadcast(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"userId":         userID,
			"status":         string(d.Status),
			"matchedBy":      d.MatchedBy,
			"period":         d.Period,
			"currentUsage":   d.CurrentUsage,
			"quotaLimit":     d.QuotaLimit,
			"percentageUsed": d.PercentageUsed,
			"warningLevel":   d.WarningLevel,
		},
	})
}

// PublishConfigChange streams a quota configuration change (tier,
// assignment, or override mutation).
func (h *Hub) PublishConfigChange(kind, id string) {
	h.Broadcast(&Event{
		Type:      EventConfigChange,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"kind": kind,
			"id":   id,
		},
	})
}

// Stats reports connection counters for the admin API.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and starts the client's pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true}, // until the client narrows it
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes subscription updates until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
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
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

var _ quota.DecisionSink = (*Hub)(nil)
