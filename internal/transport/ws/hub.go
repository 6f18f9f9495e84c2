package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"payhub/internal/events"
	id "payhub/pkg/domain"
)

const defaultSendBuffer = 32

// Hub tracks live connections by connection id and queues outbound frames on
// them. Delivery is best effort: a full buffer drops the frame.
type Hub struct {
	mu         sync.RWMutex
	clients    map[id.ConnectionID]*client
	sendBuffer int
	logger     *slog.Logger
}

type HubOption func(*Hub)

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[id.ConnectionID]*client),
		sendBuffer: defaultSendBuffer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send queues event for connID. It returns false when the connection is
// unknown, closing, or its queue is full.
func (h *Hub) Send(ctx context.Context, connID id.ConnectionID, event events.Name, payload any) bool {
	return h.send(ctx, connID, event, "", payload)
}

func (h *Hub) send(ctx context.Context, connID id.ConnectionID, event events.Name, corrID string, payload any) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	msg, err := encodeFrame(event, corrID, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode outbound frame", "event", event, "error", err)
		return false
	}
	return c.enqueue(msg)
}

// Len returns the number of attached connections, handshaken or not.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every attached connection with a going-away close frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) attach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) detach(connID id.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
}
