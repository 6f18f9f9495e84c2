// Package broadcast delivers named events to users and connections.
//
// Delivery is best effort and at most once: offline recipients are skipped,
// nothing is queued or retried, and a failed send never reaches the caller
// beyond the delivered/skipped return value.
package broadcast

import (
	"context"
	"log/slog"

	"payhub/internal/events"
	"payhub/internal/platform/metrics"
	id "payhub/pkg/domain"
)

// Resolver maps a user to its live connection.
type Resolver interface {
	Resolve(userID id.UserID) (id.ConnectionID, bool)
}

// Sender writes one event to one live connection. It returns false when the
// connection is gone or cannot accept the event.
type Sender interface {
	Send(ctx context.Context, connID id.ConnectionID, event events.Name, payload any) bool
}

type Broadcaster struct {
	resolver Resolver
	sender   Sender
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Broadcaster)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

func New(resolver Resolver, sender Sender, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		resolver: resolver,
		sender:   sender,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Notify delivers event to every online user in userIDs and returns how many
// deliveries were handed to a connection.
func (b *Broadcaster) Notify(ctx context.Context, event events.Name, userIDs []id.UserID, payload any) int {
	delivered := 0
	for _, userID := range userIDs {
		if b.NotifyOne(ctx, event, userID, payload) {
			delivered++
		}
	}
	return delivered
}

// NotifyOne delivers event to a single user if online.
func (b *Broadcaster) NotifyOne(ctx context.Context, event events.Name, userID id.UserID, payload any) bool {
	connID, ok := b.resolver.Resolve(userID)
	if !ok {
		b.dropped(ctx, event, "recipient offline", "user_id", userID)
		return false
	}
	return b.NotifyConnection(ctx, event, connID, payload)
}

// NotifyConnections delivers event to each connection in connIDs.
func (b *Broadcaster) NotifyConnections(ctx context.Context, event events.Name, connIDs []id.ConnectionID, payload any) int {
	b.logger.DebugContext(ctx, "emitting event", "event", event, "recipients", len(connIDs))
	delivered := 0
	for _, connID := range connIDs {
		if b.NotifyConnection(ctx, event, connID, payload) {
			delivered++
		}
	}
	return delivered
}

// NotifyConnection delivers event to one connection.
func (b *Broadcaster) NotifyConnection(ctx context.Context, event events.Name, connID id.ConnectionID, payload any) bool {
	if !b.sender.Send(ctx, connID, event, payload) {
		b.dropped(ctx, event, "send failed", "connection_id", connID)
		return false
	}
	if b.metrics != nil {
		b.metrics.IncrementDelivered(string(event))
	}
	return true
}

func (b *Broadcaster) dropped(ctx context.Context, event events.Name, reason string, key string, value any) {
	if b.metrics != nil {
		b.metrics.IncrementDropped(string(event))
	}
	b.logger.DebugContext(ctx, "event not delivered",
		"event", event,
		"reason", reason,
		key, value,
	)
}
