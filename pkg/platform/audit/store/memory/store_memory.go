package memory

import (
	"context"
	"sync"

	id "payhub/pkg/domain"
	audit "payhub/pkg/platform/audit"
)

// DefaultCapacity is the number of events retained when no capacity is set.
const DefaultCapacity = 1000

// InMemoryStore keeps the most recent events in a fixed-size ring. Once full,
// each append evicts the oldest event.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	head   int
	size   int
}

type Option func(*InMemoryStore)

// WithCapacity sets how many events are retained.
func WithCapacity(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.events = make([]audit.Event, n)
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{events: make([]audit.Event, DefaultCapacity)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.events)
	s.head, s.size = 0, 0
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := (s.head + s.size) % len(s.events)
	s.events[idx] = event
	if s.size < len(s.events) {
		s.size++
	} else {
		s.head = (s.head + 1) % len(s.events)
	}
	return nil
}

// Len returns the number of retained events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.UserID == userID }), nil
}

func (s *InMemoryStore) ListByPayment(_ context.Context, paymentID id.PaymentID) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.PaymentID == paymentID }), nil
}

// ListRecent returns the most recent limit events in append order.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, s.size)
	out := make([]audit.Event, 0, n)
	for i := s.size - n; i < s.size; i++ {
		out = append(out, s.at(i))
	}
	return out, nil
}

func (s *InMemoryStore) filter(keep func(audit.Event) bool) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for i := range s.size {
		if e := s.at(i); keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// at returns the i-th oldest retained event. Callers hold mu.
func (s *InMemoryStore) at(i int) audit.Event {
	return s.events[(s.head+i)%len(s.events)]
}
