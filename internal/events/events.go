// Package events defines the wire event names and the payload schema bound to
// each of them.
package events

import (
	"encoding/json"

	id "payhub/pkg/domain"
)

// Name identifies an event on the wire.
type Name string

// Inbound.
const (
	Handshake   Name = "handshake"
	SendPayment Name = "sendPayment"
)

// Outbound.
const (
	UserConnected    Name = "user_connected"
	UserDisconnected Name = "user_disconnected"
	PaymentReceived  Name = "paymentReceived"
	PaymentProcessed Name = "paymentProcessed"
	PaymentError     Name = "paymentError"
	ProtocolError    Name = "error"
)

// Inbound reports whether clients may send this event.
func (n Name) Inbound() bool {
	return n == Handshake || n == SendPayment
}

// Envelope is the frame shape in both directions. ID correlates a handshake
// with its acknowledgement.
type Envelope struct {
	Event Name            `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// HandshakeRequest is the optional handshake payload. A reconnecting client
// presents the user id it was issued before.
type HandshakeRequest struct {
	UserID *id.UserID `json:"userId,omitempty"`
}

// HandshakeAck acknowledges a handshake.
type HandshakeAck struct {
	UserID id.UserID   `json:"userId"`
	Users  []id.UserID `json:"users"`
}

// ProtocolErrorPayload explains why a frame was rejected.
type ProtocolErrorPayload struct {
	Reason string `json:"reason"`
	Event  Name   `json:"event,omitempty"`
}
