package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"payhub/internal/payment/models"
	id "payhub/pkg/domain"
	dErrors "payhub/pkg/domain-errors"
	"payhub/pkg/platform/audit"
)

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

type stubAudit struct{ events []audit.Event }

func (s stubAudit) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	return s.events[max(len(s.events)-limit, 0):], nil
}

func (s stubAudit) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	var out []audit.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s stubAudit) ListByPayment(_ context.Context, paymentID id.PaymentID) ([]audit.Event, error) {
	var out []audit.Event
	for _, e := range s.events {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubPresence struct{ users []id.UserID }

func (s stubPresence) Users() []id.UserID { return s.users }
func (s stubPresence) Len() int           { return len(s.users) }

type stubPayments struct {
	records []models.Record
	err     error
}

func (s stubPayments) ListPayments(context.Context) ([]models.Record, error) {
	return s.records, s.err
}

func (s stubPayments) GetPayment(_ context.Context, paymentID id.PaymentID) (*models.Record, error) {
	for _, rec := range s.records {
		if rec.PaymentID == paymentID {
			return &rec, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
}

// =============================================================================
// Router Test Suite
// =============================================================================
// Covers routing, status mapping and JSON shapes of the diagnostic endpoints.
// The WebSocket endpoint itself is exercised in the ws package.

type RouterSuite struct {
	suite.Suite
	deps      Dependencies
	wsCalled  bool
	auditUser id.UserID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.wsCalled = false
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "payhub_test_total", Help: "test"}).Inc()
	s.auditUser = id.NewUserID()
	auditEvents := stubAudit{events: []audit.Event{
		{Action: string(audit.EventUserConnected), UserID: s.auditUser},
		{Action: string(audit.EventPaymentAccepted), PaymentID: "p1"},
	}}
	s.deps = Dependencies{
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			s.wsCalled = true
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
		Presence: stubPresence{users: []id.UserID{id.NewUserID(), id.NewUserID()}},
		Payments: stubPayments{records: []models.Record{{
			PaymentID: "p1",
			To:        "bob",
			PayerName: "alice",
			Amount:    "10",
			Status:    models.StatusAccepted,
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}}},
		Cache:    stubHealth{},
		Audit:    auditEvents,
		Gatherer: reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (s *RouterSuite) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewRouter(s.deps).ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (s *RouterSuite) TestHealth() {
	s.Run("redis reachable", func() {
		rec := s.do(http.MethodGet, "/healthz")
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"status":"ok","redis":"ok"}`, rec.Body.String())
	})

	s.Run("redis down", func() {
		s.deps.Cache = stubHealth{err: errors.New("dial tcp: refused")}
		rec := s.do(http.MethodGet, "/healthz")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.JSONEq(`{"status":"degraded","redis":"unavailable"}`, rec.Body.String())
	})

	s.Run("redis not configured", func() {
		s.deps.Cache = nil
		rec := s.do(http.MethodGet, "/healthz")
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"status":"ok","redis":"disabled"}`, rec.Body.String())
	})
}

func (s *RouterSuite) TestPresence() {
	rec := s.do(http.MethodGet, "/presence")

	s.Require().Equal(http.StatusOK, rec.Code)
	var body presenceResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(2, body.Count)
	s.Len(body.Users, 2)
}

func (s *RouterSuite) TestPayments() {
	s.Run("list", func() {
		rec := s.do(http.MethodGet, "/payments")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body paymentsResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Require().Len(body.Payments, 1)
		s.Equal(id.PaymentID("p1"), body.Payments[0].PaymentID)
	})

	s.Run("get", func() {
		rec := s.do(http.MethodGet, "/payments/p1")
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"paymentId":"p1"`)
	})

	s.Run("get unknown", func() {
		rec := s.do(http.MethodGet, "/payments/nope")
		s.Equal(http.StatusNotFound, rec.Code)
		s.Contains(rec.Body.String(), `"error":"not_found"`)
	})

	s.Run("store unavailable", func() {
		s.deps.Payments = stubPayments{err: dErrors.New(dErrors.CodeUnavailable, "list payments")}
		rec := s.do(http.MethodGet, "/payments")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *RouterSuite) TestAudit() {
	s.Run("default limit", func() {
		rec := s.do(http.MethodGet, "/audit")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body auditResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Len(body.Events, 2)
	})

	s.Run("explicit limit", func() {
		rec := s.do(http.MethodGet, "/audit?limit=1")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body auditResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Require().Len(body.Events, 1)
		s.Equal(id.PaymentID("p1"), body.Events[0].PaymentID)
	})

	s.Run("invalid limit", func() {
		rec := s.do(http.MethodGet, "/audit?limit=-3")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("filter by user", func() {
		rec := s.do(http.MethodGet, "/audit?userId="+s.auditUser.String())
		s.Require().Equal(http.StatusOK, rec.Code)
		var body auditResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Require().Len(body.Events, 1)
		s.Equal(string(audit.EventUserConnected), body.Events[0].Action)
	})

	s.Run("filter by payment", func() {
		rec := s.do(http.MethodGet, "/audit?paymentId=p1")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body auditResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Require().Len(body.Events, 1)
		s.Equal(string(audit.EventPaymentAccepted), body.Events[0].Action)
	})

	s.Run("unknown payment yields an empty list", func() {
		rec := s.do(http.MethodGet, "/audit?paymentId=nope")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"events":[]}`, rec.Body.String())
	})

	s.Run("rejects a malformed user id", func() {
		rec := s.do(http.MethodGet, "/audit?userId=not-a-uuid")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects both filters", func() {
		rec := s.do(http.MethodGet, "/audit?userId="+s.auditUser.String()+"&paymentId=p1")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("not mounted without a reader", func() {
		s.deps.Audit = nil
		rec := s.do(http.MethodGet, "/audit")
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *RouterSuite) TestMetrics() {
	rec := s.do(http.MethodGet, "/metrics")

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "payhub_test_total 1")
}

func (s *RouterSuite) TestWebSocketRoute() {
	s.Run("GET reaches the websocket handler", func() {
		rec := s.do(http.MethodGet, "/ws")
		s.True(s.wsCalled)
		s.Equal(http.StatusSwitchingProtocols, rec.Code)
	})

	s.Run("other methods are refused", func() {
		s.wsCalled = false
		rec := s.do(http.MethodPost, "/ws")
		s.False(s.wsCalled)
		s.Equal(http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRouterServesOverHTTP(t *testing.T) {
	router := NewRouter(Dependencies{
		WebSocket: http.NotFoundHandler(),
		Presence:  stubPresence{},
		Payments:  stubPayments{},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/presence")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
