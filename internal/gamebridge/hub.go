package gamebridge

import (
	"sync"

	"go.uber.org/zap"
)

// Hub fans effect events out to subscribed clients. Clients that cannot keep
// up are dropped.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Broadcast delivers the event to every client subscribed to its channel.
func (h *Hub) Broadcast(event Event) {
	msg := ServerMessage{
		Type:  ServerMessageTypeEvent,
		Topic: event.ChannelID,
		Event: &event,
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.IsSubscribed(event.ChannelID) {
			continue
		}
		if client.Queue(msg) {
			continue
		}
		h.logger.Warn("dropping slow game client", zap.String("client_id", client.ID()))
		h.Unregister(client.ID())
	}
}

func (h *Hub) Subscribe(clientID string, topics []string) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	client.Subscribe(topics)
	return true
}

func (h *Hub) Unsubscribe(clientID string, topics []string) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	client.Unsubscribe(topics)
	return true
}

// ClientCount reports connected clients, used by the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
