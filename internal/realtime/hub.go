package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"mbraces/backend/internal/domain"
	"mbraces/backend/pkg/log"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	EventJackpot      = "jackpot_update"
	EventNotification = "notification"
)

type client struct {
	send chan []byte
}

// Hub fans events out to connected dashboard websockets and keeps a
// bounded buffer of the most recent notifications for late joiners.
// Delivery is fire-and-forget: a client whose send buffer is full is
// dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	recent  []domain.Notification
	log     zerolog.Logger
}

// recentBufferSize caps the in-memory notification backlog.
const recentBufferSize = 10

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		recent:  make([]domain.Notification, 0, recentBufferSize),
		log:     log.Logger().With().Str("component", "realtime").Logger(),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warn().Err(err).Str("event", event.Type).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) BroadcastJackpot(value domain.JackpotValue) {
	h.broadcast(Event{Type: EventJackpot, Payload: value})
}

func (h *Hub) BroadcastNotification(n domain.Notification) {
	h.mu.Lock()
	h.recent = append(h.recent, n)
	if len(h.recent) > recentBufferSize {
		h.recent = h.recent[len(h.recent)-recentBufferSize:]
	}
	h.mu.Unlock()

	h.broadcast(Event{Type: EventNotification, Payload: n})
}

// Recent returns the buffered notifications, newest last.
func (h *Hub) Recent() []domain.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Notification, len(h.recent))
	copy(out, h.recent)
	return out
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
