// Package httptransport exposes the HTTP surface: the WebSocket endpoint and
// read-only diagnostics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payhub/internal/payment/models"
	"payhub/internal/platform/middleware"
	id "payhub/pkg/domain"
	dErrors "payhub/pkg/domain-errors"
	"payhub/pkg/platform/audit"
	"payhub/pkg/platform/httputil"
)

const (
	healthTimeout     = 2 * time.Second
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PresenceReader is the read side of the connection registry.
type PresenceReader interface {
	Users() []id.UserID
	Len() int
}

// PaymentReader lists stored payment records.
type PaymentReader interface {
	ListPayments(ctx context.Context) ([]models.Record, error)
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*models.Record, error)
}

// AuditReader returns the latest audit events, optionally for one user or
// one payment.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error)
	ListByPayment(ctx context.Context, paymentID id.PaymentID) ([]audit.Event, error)
}

// Dependencies wires the router. Cache may be nil when payments are kept in
// process memory. Audit may be nil, which leaves /audit unmounted. Gatherer
// defaults to the Prometheus default registry.
type Dependencies struct {
	WebSocket http.Handler
	Presence  PresenceReader
	Payments  PaymentReader
	Cache     HealthChecker
	Audit     AuditReader
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type handler struct {
	presence PresenceReader
	payments PaymentReader
	cache    HealthChecker
	audit    AuditReader
	logger   *slog.Logger
}

// NewRouter builds the chi router for every public endpoint.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handler{
		presence: deps.Presence,
		payments: deps.Payments,
		cache:    deps.Cache,
		audit:    deps.Audit,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	r.Method(http.MethodGet, "/ws", deps.WebSocket)
	r.Get("/healthz", h.handleHealth)
	r.Get("/presence", h.handlePresence)
	r.Get("/payments", h.handleListPayments)
	r.Get("/payments/{paymentID}", h.handleGetPayment)
	if deps.Audit != nil {
		r.Get("/audit", h.handleAudit)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Redis: "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.cache.Health(ctx); err != nil {
		h.logger.WarnContext(ctx, "redis health check failed", "error", err)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Redis: "unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Redis: "ok"})
}

type presenceResponse struct {
	Count int         `json:"count"`
	Users []id.UserID `json:"users"`
}

func (h *handler) handlePresence(w http.ResponseWriter, _ *http.Request) {
	users := h.presence.Users()
	httputil.WriteJSON(w, http.StatusOK, presenceResponse{Count: len(users), Users: users})
}

type paymentsResponse struct {
	Payments []models.Record `json:"payments"`
}

func (h *handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	records, err := h.payments.ListPayments(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list payments", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, paymentsResponse{Payments: records})
}

func (h *handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

type auditResponse struct {
	Events []audit.Event `json:"events"`
}

func (h *handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := defaultAuditLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	rawUser, rawPayment := query.Get("userId"), query.Get("paymentId")
	var (
		events []audit.Event
		err    error
	)
	switch {
	case rawUser != "" && rawPayment != "":
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "filter by userId or paymentId, not both"))
		return
	case rawUser != "":
		userID, parseErr := id.ParseUserID(rawUser)
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		events, err = h.audit.ListByUser(r.Context(), userID)
	case rawPayment != "":
		paymentID, parseErr := id.ParsePaymentID(rawPayment)
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		events, err = h.audit.ListByPayment(r.Context(), paymentID)
	default:
		events, err = h.audit.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit events", "error", err)
		httputil.WriteError(w, err)
		return
	}

	events = events[max(len(events)-limit, 0):]
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, auditResponse{Events: events})
}
