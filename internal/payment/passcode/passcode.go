// Package passcode verifies the shared payment passcode.
//
// The secret is held only as a bcrypt hash, so verification is constant time
// with respect to the secret and the plain value never stays in memory.
package passcode

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	id "payhub/pkg/domain"
)

// Verifier authorizes payment creation against one shared secret.
type Verifier struct {
	hash []byte
}

// FromHash builds a verifier from an existing bcrypt hash.
func FromHash(hash string) (*Verifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("passcode: invalid bcrypt hash: %w", err)
	}
	return &Verifier{hash: []byte(hash)}, nil
}

// FromSecret hashes secret with the given bcrypt cost (bcrypt.DefaultCost
// when cost is zero).
func FromSecret(secret string, cost int) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("passcode: secret must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return nil, fmt.Errorf("passcode: hash secret: %w", err)
	}
	return &Verifier{hash: hash}, nil
}

// Authorize reports whether passcode matches the shared secret. The payment
// id is accepted so per-payment secrets can replace this implementation
// without changing callers.
func (v *Verifier) Authorize(_ context.Context, _ id.PaymentID, passcode string) bool {
	return bcrypt.CompareHashAndPassword(v.hash, []byte(passcode)) == nil
}
