package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan-server/service/metrics"
)

// Message is the envelope written to every websocket client.
type Message struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	SentAt time.Time   `json:"sent_at"`
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	closed bool
}

// Hub tracks the open connections of each user. It only pushes; clients
// never send anything the server acts on.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*Client]struct{}),
		log:     log.With().Str("component", "ws").Logger(),
		metrics: m,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.metrics.ClientConnected()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.metrics.ClientDisconnected()
}

// Connected returns how many connections userID has open.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish sends an event to every connection of userID and returns how many
// received it. Clients whose buffer is full are dropped.
func (h *Hub) Publish(userID uuid.UUID, eventType string, data interface{}) int {
	payload, err := json.Marshal(Message{Type: eventType, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Str("event", eventType).Msg("marshal websocket message")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			delivered++
		default:
			h.log.Warn().Str("user_id", userID.String()).Msg("dropping slow websocket client")
			h.removeLocked(c)
		}
	}
	return delivered
}
