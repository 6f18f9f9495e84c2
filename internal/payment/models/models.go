package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"payhub/internal/events"
	id "payhub/pkg/domain"
	dErrors "payhub/pkg/domain-errors"
)

// KeyPrefix namespaces payment records in the cache.
const KeyPrefix = "payment:"

// Key returns the cache key for a payment record.
func Key(paymentID id.PaymentID) string {
	return KeyPrefix + string(paymentID)
}

// Amount keeps the submitted amount as its JSON token: a number literal such
// as 100.5, or a quoted numeric string such as "100.5". Echoes and stored
// records therefore keep the client's original form.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(b)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or numeric string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// MarshalJSON writes the amount in the form it was submitted. Values built in
// code are emitted as numbers when numeric and as strings otherwise.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.quoted() {
		return []byte(a), nil
	}
	if _, err := strconv.ParseFloat(string(a), 64); err == nil && json.Valid([]byte(a)) {
		return []byte(a), nil
	}
	return json.Marshal(string(a))
}

// Float parses the amount, unquoting a string token first.
func (a Amount) Float() (float64, error) {
	s := string(a)
	if a.quoted() {
		if err := json.Unmarshal([]byte(a), &s); err != nil {
			return 0, err
		}
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func (a Amount) quoted() bool {
	return len(a) >= 2 && a[0] == '"' && json.Valid([]byte(a))
}

// Request is a sendPayment submission.
type Request struct {
	To        string `json:"to"`
	Amount    Amount `json:"amount"`
	PaymentID string `json:"paymentId"`
	PayerName string `json:"payerName"`
	Passcode  string `json:"passcode"`
}

// Validate checks required fields and returns the parsed payment id. Errors
// carry CodeInvalidInput.
func (r Request) Validate() (id.PaymentID, error) {
	var missing []string
	if strings.TrimSpace(r.To) == "" {
		missing = append(missing, "to")
	}
	if r.Amount == "" {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(r.PaymentID) == "" {
		missing = append(missing, "paymentId")
	}
	if strings.TrimSpace(r.PayerName) == "" {
		missing = append(missing, "payerName")
	}
	if r.Passcode == "" {
		missing = append(missing, "passcode")
	}
	if len(missing) > 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "missing required fields: "+strings.Join(missing, ", "))
	}

	amount, err := r.Amount.Float()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "amount is not numeric")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	return id.ParsePaymentID(r.PaymentID)
}

// Echo is the request as returned to the submitter; the passcode is never
// echoed.
type Echo struct {
	To        string `json:"to"`
	Amount    Amount `json:"amount"`
	PaymentID string `json:"paymentId"`
	PayerName string `json:"payerName"`
}

func (r Request) Echo() Echo {
	return Echo{To: r.To, Amount: r.Amount, PaymentID: r.PaymentID, PayerName: r.PayerName}
}

// Status of a persisted record. Records are only ever created accepted.
type Status string

const StatusAccepted Status = "accepted"

// Record is the write-once payment record stored under Key(PaymentID).
type Record struct {
	PaymentID id.PaymentID `json:"paymentId"`
	To        string       `json:"to"`
	PayerName string       `json:"payerName"`
	Amount    Amount       `json:"amount"`
	Status    Status       `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewRecord builds the accepted record for a validated request.
func NewRecord(paymentID id.PaymentID, r Request, now time.Time) Record {
	return Record{
		PaymentID: paymentID,
		To:        r.To,
		PayerName: r.PayerName,
		Amount:    r.Amount,
		Status:    StatusAccepted,
		CreatedAt: now.UTC(),
	}
}

// Reason qualifies an outcome.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonDuplicate        Reason = "duplicate"
	ReasonMalformed        Reason = "malformed"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Outcome is the single terminal result of a submission.
type Outcome struct {
	Event  events.Name
	Reason Reason
	Echo   Echo
	// Err is the failure behind a paymentError outcome; never sent on the wire.
	Err error
}

func Received(req Request) Outcome {
	return Outcome{Event: events.PaymentReceived, Echo: req.Echo()}
}

func Processed(req Request) Outcome {
	return Outcome{Event: events.PaymentProcessed, Reason: ReasonDuplicate, Echo: req.Echo()}
}

func Failed(req Request, reason Reason, err error) Outcome {
	return Outcome{Event: events.PaymentError, Reason: reason, Echo: req.Echo(), Err: err}
}
