// Package domain holds the typed identifiers shared by presence and payments.
//
// UserID and ConnectionID are distinct UUID types so the compiler rejects a
// connection id where a user id is expected. PaymentID is client supplied and
// only validated for shape; it is the idempotency key.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "payhub/pkg/domain-errors"
)

// MaxPaymentIDLength bounds the client supplied idempotency key.
const MaxPaymentIDLength = 128

type (
	UserID       uuid.UUID
	ConnectionID uuid.UUID
	PaymentID    string
)

// NewUserID allocates a random (v4) user id.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewConnectionID allocates a random (v4) connection id.
func NewConnectionID() ConnectionID { return ConnectionID(uuid.New()) }

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id ConnectionID) String() string { return uuid.UUID(id).String() }
func (id PaymentID) String() string    { return string(id) }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ConnectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id ConnectionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ConnectionID) UnmarshalText(b []byte) error {
	parsed, err := ParseConnectionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseUserID parses a non-nil UUID user id.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseConnectionID parses a non-nil UUID connection id.
func ParseConnectionID(s string) (ConnectionID, error) {
	u, err := parseUUID(s, "connection id")
	return ConnectionID(u), err
}

// ParsePaymentID accepts any non-blank printable string up to
// MaxPaymentIDLength bytes. Surrounding whitespace is trimmed.
func ParsePaymentID(s string) (PaymentID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "payment id is required")
	}
	if len(s) > MaxPaymentIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "payment id too long")
	}
	for _, r := range s {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "payment id contains invalid characters")
		}
	}
	return PaymentID(s), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be nil")
	}
	return u, nil
}
