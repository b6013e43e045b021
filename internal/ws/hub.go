package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/logging"
)

// Hub is the connection registry. It holds at most one client per user; a
// second login replaces the first, and the displaced socket keeps running
// without receiving routed events.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logging.OrNop(log).Named("hub"),
	}
}

// Register makes c the handle for its user and returns the client it
// displaced, if any.
func (h *Hub) Register(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.clients[c.userID]
	h.clients[c.userID] = c
	if prev != nil && prev != c {
		h.log.Info("client displaced", zap.String("user_id", c.userID))
		return prev
	}
	return nil
}

// Unregister removes c only if it is still the registered handle for its
// user, so a displaced socket closing late cannot evict its replacement.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] != c {
		return false
	}
	delete(h.clients, c.userID)
	return true
}

func (h *Hub) Lookup(userID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit queues an event for userID. Offline users are skipped; nothing is
// buffered for them.
func (h *Hub) Emit(userID, event string, payload any) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	msg, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return false
	}
	if !c.enqueue(msg) {
		h.log.Warn("event dropped", zap.String("user_id", userID), zap.String("event", event))
		return false
	}
	return true
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.Envelope{Event: event, Data: data})
}
