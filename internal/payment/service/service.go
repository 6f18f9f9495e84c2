// Package service coordinates payment submissions.
//
// Each submission ends in exactly one of paymentReceived, paymentProcessed or
// paymentError, sent to the submitting connection only. The decision is
// computed after the cache round trip settles and the notification is sent
// once, from the decided outcome. Record creation is a single atomic
// conditional write, so concurrent submitters of one payment id cannot both
// be told the payment was accepted.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payhub/internal/payment/metrics"
	"payhub/internal/payment/models"
	"payhub/internal/payment/ports"
	id "payhub/pkg/domain"
	dErrors "payhub/pkg/domain-errors"
	"payhub/pkg/platform/audit"
	"payhub/pkg/platform/circuit"
	"payhub/pkg/platform/sentinel"
)

// Type aliases for interfaces from the ports package.
type (
	CacheStore     = ports.CacheStore
	Notifier       = ports.Notifier
	Authorizer     = ports.Authorizer
	AuditPublisher = ports.AuditPublisher
)

// DefaultStoreTimeout bounds the cache round trip of one submission.
const DefaultStoreTimeout = 3 * time.Second

// Submitter identifies who sent a payment. UserID is nil when the connection
// never completed a handshake.
type Submitter struct {
	ConnectionID id.ConnectionID
	UserID       id.UserID
}

type Service struct {
	cache        CacheStore
	notifier     Notifier
	authorizer   Authorizer
	audit        AuditPublisher
	breaker      *circuit.Breaker
	logger       *slog.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithBreaker guards the cache with a circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(cache CacheStore, notifier Notifier, authorizer Authorizer, opts ...Option) (*Service, error) {
	if cache == nil {
		return nil, errors.New("cache store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}

	svc := &Service{
		cache:        cache,
		notifier:     notifier,
		authorizer:   authorizer,
		logger:       slog.Default(),
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Submit decides the outcome of a payment request and notifies the submitter.
// It never returns an error: every failure becomes a paymentError outcome.
func (s *Service) Submit(ctx context.Context, from Submitter, req models.Request) models.Outcome {
	start := time.Now()
	s.logger.InfoContext(ctx, "payment submitted",
		"connection_id", from.ConnectionID,
		"payment_id", req.PaymentID,
	)

	outcome := s.decide(ctx, req)

	s.notifier.NotifyConnection(ctx, outcome.Event, from.ConnectionID, outcome.Echo)

	s.record(ctx, from, req, outcome, time.Since(start))
	return outcome
}

// decide runs the single three-way decision. It performs no notification.
func (s *Service) decide(ctx context.Context, req models.Request) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failed(req, models.ReasonStoreUnavailable,
				dErrors.New(dErrors.CodeInternal, fmt.Sprintf("panic during payment decision: %v", r)))
		}
	}()

	paymentID, err := req.Validate()
	if err != nil {
		return models.Failed(req, models.ReasonMalformed, err)
	}

	if s.breaker != nil && !s.breaker.Allow() {
		return models.Failed(req, models.ReasonStoreUnavailable,
			dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "payment cache circuit open"))
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	key := models.Key(paymentID)

	_, found, err := s.cache.Get(storeCtx, key)
	if err != nil {
		s.storeFailed()
		return models.Failed(req, models.ReasonStoreUnavailable, storeError(err, "lookup payment"))
	}

	switch {
	case found:
		s.storeSucceeded()
		return models.Processed(req)

	case !s.authorizer.Authorize(ctx, paymentID, req.Passcode):
		s.storeSucceeded()
		return models.Failed(req, models.ReasonUnauthorized,
			dErrors.New(dErrors.CodeUnauthorized, "passcode does not authorize payment"))

	default:
		value, err := json.Marshal(models.NewRecord(paymentID, req, s.now()))
		if err != nil {
			return models.Failed(req, models.ReasonStoreUnavailable,
				dErrors.Wrap(err, dErrors.CodeInternal, "encode payment record"))
		}
		created, err := s.cache.CreateIfAbsent(storeCtx, key, string(value))
		if err != nil {
			s.storeFailed()
			return models.Failed(req, models.ReasonStoreUnavailable, storeError(err, "create payment"))
		}
		s.storeSucceeded()
		if !created {
			// Another submitter created the record between our lookup and write.
			return models.Processed(req)
		}
		return models.Received(req)
	}
}

// ListPayments loads every stored payment record. Unreadable entries are
// skipped and logged.
func (s *Service) ListPayments(ctx context.Context) ([]models.Record, error) {
	keys, err := s.cache.ListByPrefix(ctx, models.KeyPrefix)
	if err != nil {
		return nil, storeError(err, "list payments")
	}
	records := make([]models.Record, 0, len(keys))
	for _, key := range keys {
		value, found, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, storeError(err, "load payment")
		}
		if !found {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable payment record", "key", key, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetPayment loads one payment record.
func (s *Service) GetPayment(ctx context.Context, paymentID id.PaymentID) (*models.Record, error) {
	value, found, err := s.cache.Get(ctx, models.Key(paymentID))
	if err != nil {
		return nil, storeError(err, "load payment")
	}
	if !found {
		return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode payment record")
	}
	return &rec, nil
}

// RemovePayment deletes a payment record. Submissions never call this.
func (s *Service) RemovePayment(ctx context.Context, paymentID id.PaymentID) error {
	if err := s.cache.Delete(ctx, models.Key(paymentID)); err != nil {
		return storeError(err, "remove payment")
	}
	s.logger.InfoContext(ctx, "payment removed", "payment_id", paymentID)
	return nil
}

func (s *Service) storeFailed() {
	if s.breaker == nil {
		return
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.Warn("payment cache circuit opened", "breaker", s.breaker.Name())
		if s.metrics != nil {
			s.metrics.SetBreakerOpen(true)
		}
	}
}

func (s *Service) storeSucceeded() {
	if s.breaker == nil {
		return
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.Info("payment cache circuit closed", "breaker", s.breaker.Name())
		if s.metrics != nil {
			s.metrics.SetBreakerOpen(false)
		}
	}
}

func (s *Service) record(ctx context.Context, from Submitter, req models.Request, outcome models.Outcome, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.IncrementOutcome(string(outcome.Event), string(outcome.Reason))
		s.metrics.ObserveSubmit(elapsed)
	}

	attrs := []any{
		"connection_id", from.ConnectionID,
		"payment_id", req.PaymentID,
		"event", outcome.Event,
		"reason", outcome.Reason,
		"duration_ms", elapsed.Milliseconds(),
	}
	if outcome.Err != nil {
		attrs = append(attrs, "error", outcome.Err)
		if outcome.Reason == models.ReasonStoreUnavailable {
			s.logger.ErrorContext(ctx, "payment failed", attrs...)
		} else {
			s.logger.WarnContext(ctx, "payment rejected", attrs...)
		}
	} else {
		s.logger.InfoContext(ctx, "payment decided", attrs...)
	}

	if s.audit == nil {
		return
	}
	event := audit.Event{
		UserID:       from.UserID,
		ConnectionID: from.ConnectionID,
		PaymentID:    id.PaymentID(req.PaymentID),
		Action:       string(auditAction(outcome.Reason)),
		Decision:     string(outcome.Event),
		Reason:       string(outcome.Reason),
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "payment audit emit failed", "payment_id", req.PaymentID, "error", err)
	}
}

func auditAction(reason models.Reason) audit.AuditEvent {
	switch reason {
	case models.ReasonNone:
		return audit.EventPaymentAccepted
	case models.ReasonDuplicate:
		return audit.EventPaymentDuplicate
	case models.ReasonUnauthorized:
		return audit.EventPaymentRejected
	default:
		return audit.EventPaymentFailed
	}
}

func storeError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, op)
}
