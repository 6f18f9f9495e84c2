package ws

import (
	"bytes"
	"encoding/json"
	"errors"

	"payhub/internal/events"
	"payhub/internal/payment/models"
)

// Rejection reasons reported in error frames and the rejected metric.
const (
	reasonInvalidJSON    = "invalid_json"
	reasonMissingEvent   = "missing_event"
	reasonUnknownEvent   = "unknown_event"
	reasonInvalidPayload = "invalid_payload"
)

// frame is an inbound envelope whose payload matched the schema of its
// event. Exactly one of handshake or payment is set.
type frame struct {
	event     events.Name
	id        string
	handshake *events.HandshakeRequest
	payment   *models.Request
}

type protocolError struct {
	reason string
	event  events.Name
}

func (e *protocolError) Error() string {
	if e.event == "" {
		return e.reason
	}
	return e.reason + ": " + string(e.event)
}

// decodeFrame parses raw into an envelope and binds its data to the payload
// type registered for the event name. A sendPayment payload with badly typed
// fields keeps the fields that did decode, so the coordinator reports it as
// malformed and the echo still carries its paymentId. Any other schema
// failure is a protocol error.
func decodeFrame(raw []byte) (frame, error) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return frame{}, &protocolError{reason: reasonInvalidJSON}
	}
	if env.Event == "" {
		return frame{}, &protocolError{reason: reasonMissingEvent}
	}
	if !env.Event.Inbound() {
		return frame{}, &protocolError{reason: reasonUnknownEvent, event: env.Event}
	}

	f := frame{event: env.Event, id: env.ID}
	switch env.Event {
	case events.Handshake:
		var req events.HandshakeRequest
		if !isAbsent(env.Data) {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				return frame{}, &protocolError{reason: reasonInvalidPayload, event: env.Event}
			}
		}
		f.handshake = &req
	case events.SendPayment:
		var req models.Request
		if !isAbsent(env.Data) {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				req = partialPayment(env.Data)
			}
		}
		f.payment = &req
	}
	return f, nil
}

// partialPayment decodes each sendPayment field on its own and drops those of
// the wrong type. A payload that is not an object yields an empty request.
func partialPayment(data json.RawMessage) models.Request {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.Request{}
	}
	var req models.Request
	for key, dst := range map[string]*string{
		"to":        &req.To,
		"paymentId": &req.PaymentID,
		"payerName": &req.PayerName,
		"passcode":  &req.Passcode,
	} {
		var v string
		if raw, ok := fields[key]; ok && json.Unmarshal(raw, &v) == nil {
			*dst = v
		}
	}
	var amount models.Amount
	if raw, ok := fields["amount"]; ok && amount.UnmarshalJSON(raw) == nil {
		req.Amount = amount
	}
	return req
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// encodeFrame builds an outbound envelope.
func encodeFrame(event events.Name, corrID string, payload any) ([]byte, error) {
	env := events.Envelope{Event: event, ID: corrID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func rejectionReason(err error) string {
	var pe *protocolError
	if errors.As(err, &pe) {
		return pe.reason
	}
	return reasonInvalidPayload
}
