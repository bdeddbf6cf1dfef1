// Package hub fans committed queue events out to realtime observers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/TalelCS/melek/internal/models"

	"github.com/rs/zerolog"
)

const (
	ScopeBoard  = "board"
	ScopeTicket = "ticket"
)

// Subscription selects what an observer watches. The zero value receives
// nothing.
type Subscription struct {
	DayID    string
	Scope    string
	TicketID string
	Lang     string
	// Expires ends a board subscription with the admin session that opened it.
	Expires time.Time
}

func (s Subscription) Active() bool {
	return s.Scope != ""
}

type Client struct {
	ID           string
	Send         chan models.Event
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	Scope    string `json:"scope"`
	TicketID string `json:"ticket_id"`
	Token    string `json:"token"`
	Lang     string `json:"lang"`
}

func New(log zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister detaches the client and closes its Send channel. Calling it
// twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Subscription(client *Client) Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Subscription
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers event to every matching client without blocking. A client
// whose buffer is full misses the event; the next one triggers the same
// re-read.
func (h *Hub) Publish(_ context.Context, event models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, event) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			h.log.Warn().Str("client_id", client.ID).Str("event", event.Type).Msg("drop event for slow client")
		}
	}
}

func match(sub Subscription, event models.Event) bool {
	if !sub.Active() {
		return false
	}
	if sub.DayID != "" && sub.DayID != event.DayID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	switch msg.Action {
	case "unsubscribe":
		return msg, true
	case "subscribe":
	default:
		return SubscribeMessage{}, false
	}
	switch msg.Scope {
	case ScopeBoard:
		return msg, true
	case ScopeTicket:
		return msg, msg.TicketID != ""
	default:
		return SubscribeMessage{}, false
	}
}
