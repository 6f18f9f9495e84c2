package audit

import (
	"context"
	"time"

	id "payhub/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategorySecurity covers rejected authorization attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity: accepted and duplicate
	// payments, presence changes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category     EventCategory   `json:"category"`
	Timestamp    time.Time       `json:"timestamp"`
	UserID       id.UserID       `json:"userId,omitzero"`
	ConnectionID id.ConnectionID `json:"connectionId,omitzero"`
	PaymentID    id.PaymentID    `json:"paymentId,omitempty"`
	Action       string          `json:"action"`
	Decision     string          `json:"decision,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

type AuditEvent string

const (
	EventUserConnected    AuditEvent = "user_connected"
	EventUserResumed      AuditEvent = "user_resumed"
	EventUserDisconnected AuditEvent = "user_disconnected"

	EventPaymentAccepted  AuditEvent = "payment_accepted"
	EventPaymentDuplicate AuditEvent = "payment_duplicate"
	EventPaymentRejected  AuditEvent = "payment_rejected"
	EventPaymentFailed    AuditEvent = "payment_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventPaymentRejected: CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
	ListByPayment(ctx context.Context, paymentID id.PaymentID) ([]Event, error)
}
