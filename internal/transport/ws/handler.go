// Package ws is the WebSocket transport: it upgrades connections, validates
// inbound frames against the event schema and dispatches them to the
// presence registry and the payment coordinator.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"payhub/internal/events"
	"payhub/internal/payment/models"
	"payhub/internal/payment/service"
	"payhub/internal/platform/metrics"
	"payhub/internal/presence/registry"
	id "payhub/pkg/domain"
	"payhub/pkg/platform/audit"
)

const (
	defaultPingInterval = 10 * time.Second
	defaultPingTimeout  = 5 * time.Second
	maxFrameBytes       = 64 << 10
)

// Presence is the registry surface the transport drives.
type Presence interface {
	RegisterOrResume(connID id.ConnectionID) registry.HandshakeResult
	Resume(connID id.ConnectionID, previous id.UserID) registry.HandshakeResult
	Unregister(connID id.ConnectionID) (id.UserID, []id.ConnectionID, bool)
	Owner(connID id.ConnectionID) (id.UserID, bool)
	Len() int
}

// Notifier fans presence events out to connections.
type Notifier interface {
	NotifyConnections(ctx context.Context, event events.Name, connIDs []id.ConnectionID, payload any) int
}

// PaymentSubmitter decides payment submissions and notifies the submitter.
type PaymentSubmitter interface {
	Submit(ctx context.Context, from service.Submitter, req models.Request) models.Outcome
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Handler struct {
	hub          *Hub
	presence     Presence
	notifier     Notifier
	payments     PaymentSubmitter
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pingTimeout  time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	audit        AuditPublisher
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(h *Handler) {
		h.audit = publisher
	}
}

// WithKeepalive sets the ping interval and how long a peer may take to answer
// before the connection is considered dead.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(h *Handler) {
		if interval > 0 {
			h.pingInterval = interval
		}
		if timeout > 0 {
			h.pingTimeout = timeout
		}
	}
}

// WithAllowedOrigins restricts browser origins. Empty or "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = checkOrigin(origins)
	}
}

func New(hub *Hub, presence Presence, notifier Notifier, payments PaymentSubmitter, opts ...Option) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("hub is required")
	}
	if presence == nil {
		return nil, errors.New("presence registry is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if payments == nil {
		return nil, errors.New("payment submitter is required")
	}

	h := &Handler{
		hub:      hub,
		presence: presence,
		notifier: notifier,
		payments: payments,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(nil),
		},
		pingInterval: defaultPingInterval,
		pingTimeout:  defaultPingTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"origin", r.Header.Get("Origin"),
			"error", err,
		)
		return
	}

	c := newClient(conn, h.hub.sendBuffer, h.logger)
	h.hub.attach(c)
	go c.writePump(h.pingInterval)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer h.disconnect(ctx, c)

	c.logger.InfoContext(ctx, "connection opened", "remote_addr", r.RemoteAddr)
	h.readLoop(ctx, c)
}

// readLoop reads until the peer closes or misses a pong. The read deadline
// covers one ping interval plus the pong timeout and moves on every frame.
func (h *Handler) readLoop(ctx context.Context, c *client) {
	pongWait := h.pingInterval + h.pingTimeout
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.DebugContext(ctx, "connection read ended", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(ctx, c, raw)
	}
}

// dispatch handles one inbound frame. A panic is contained to the frame.
func (h *Handler) dispatch(ctx context.Context, c *client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "panic while handling frame", "panic", r)
		}
	}()

	f, err := decodeFrame(raw)
	if err != nil {
		h.reject(ctx, c, err)
		return
	}

	switch f.event {
	case events.Handshake:
		h.handshake(ctx, c, f)
	case events.SendPayment:
		h.submitPayment(ctx, c, f)
	}
}

func (h *Handler) reject(ctx context.Context, c *client, err error) {
	reason := rejectionReason(err)
	var event events.Name
	var pe *protocolError
	if errors.As(err, &pe) {
		event = pe.event
	}
	if h.metrics != nil {
		h.metrics.IncrementRejected(reason)
	}
	c.logger.WarnContext(ctx, "frame rejected", "reason", reason, "event", event)
	h.hub.Send(ctx, c.id, events.ProtocolError, events.ProtocolErrorPayload{Reason: reason, Event: event})
}

func (h *Handler) handshake(ctx context.Context, c *client, f frame) {
	var result registry.HandshakeResult
	if f.handshake.UserID != nil {
		result = h.presence.Resume(c.id, *f.handshake.UserID)
	} else {
		result = h.presence.RegisterOrResume(c.id)
	}

	h.hub.send(ctx, c.id, events.Handshake, f.id, events.HandshakeAck{
		UserID: result.UserID,
		Users:  result.Users,
	})

	outcome := handshakeOutcome(result)
	if h.metrics != nil {
		h.metrics.IncrementHandshakes(outcome)
		h.metrics.SetActiveUsers(h.presence.Len())
	}
	c.logger.InfoContext(ctx, "handshake completed",
		"user_id", result.UserID,
		"result", outcome,
		"active_users", len(result.Users),
	)
	if !result.Created {
		return
	}

	others := slices.DeleteFunc(slices.Clone(result.Connections), func(connID id.ConnectionID) bool {
		return connID == c.id
	})
	h.notifier.NotifyConnections(ctx, events.UserConnected, others, result.Users)

	action := audit.EventUserConnected
	if result.Resumed {
		action = audit.EventUserResumed
	}
	h.emitAudit(ctx, audit.Event{UserID: result.UserID, ConnectionID: c.id, Action: string(action)})
}

func (h *Handler) submitPayment(ctx context.Context, c *client, f frame) {
	userID, _ := h.presence.Owner(c.id)
	h.payments.Submit(ctx, service.Submitter{ConnectionID: c.id, UserID: userID}, *f.payment)
}

// disconnect detaches the connection and tells the remaining users. A
// connection that never completed a handshake leaves no trace.
func (h *Handler) disconnect(ctx context.Context, c *client) {
	h.hub.detach(c.id)
	c.close()

	userID, remaining, ok := h.presence.Unregister(c.id)
	if !ok {
		c.logger.InfoContext(ctx, "connection closed before handshake")
		return
	}
	if h.metrics != nil {
		h.metrics.IncrementDisconnects()
		h.metrics.SetActiveUsers(h.presence.Len())
	}
	c.logger.InfoContext(ctx, "connection closed", "user_id", userID, "remaining", len(remaining))

	h.notifier.NotifyConnections(ctx, events.UserDisconnected, remaining, c.id)
	h.emitAudit(ctx, audit.Event{
		UserID:       userID,
		ConnectionID: c.id,
		Action:       string(audit.EventUserDisconnected),
	})
}

func (h *Handler) emitAudit(ctx context.Context, event audit.Event) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "presence audit emit failed", "action", event.Action, "error", err)
	}
}

func handshakeOutcome(result registry.HandshakeResult) string {
	switch {
	case !result.Created:
		return "repeat"
	case result.Resumed:
		return "resumed"
	default:
		return "new"
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		return origin == "" || slices.Contains(allowed, origin)
	}
}
