// Package ports defines the interfaces the payment coordinator consumes.
package ports

import (
	"context"

	"payhub/internal/events"
	id "payhub/pkg/domain"
	"payhub/pkg/platform/audit"
)

// CacheStore is the external key-value store that owns payment durability.
// Implementations must be safe for concurrent use and CreateIfAbsent must be
// a single atomic conditional write.
type CacheStore interface {
	// Get returns the value stored at key; found is false when absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// CreateIfAbsent stores value at key only if key does not exist.
	// created is false when another writer got there first.
	CreateIfAbsent(ctx context.Context, key, value string) (created bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListByPrefix returns every key starting with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Notifier delivers an outcome event to the submitting connection.
type Notifier interface {
	NotifyConnection(ctx context.Context, event events.Name, connID id.ConnectionID, payload any) bool
}

// Authorizer decides whether a passcode authorizes creating a payment.
type Authorizer interface {
	Authorize(ctx context.Context, paymentID id.PaymentID, passcode string) bool
}

// AuditPublisher emits audit events for payment outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
