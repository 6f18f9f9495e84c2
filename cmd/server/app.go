package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	paymentmetrics "payhub/internal/payment/metrics"
	"payhub/internal/payment/passcode"
	"payhub/internal/payment/ports"
	"payhub/internal/payment/service"
	"payhub/internal/payment/store"
	"payhub/internal/platform/config"
	"payhub/internal/platform/metrics"
	platformredis "payhub/internal/platform/redis"
	"payhub/internal/presence/broadcast"
	"payhub/internal/presence/registry"
	httptransport "payhub/internal/transport/http"
	"payhub/internal/transport/ws"
	"payhub/pkg/platform/audit/publisher"
	auditmemory "payhub/pkg/platform/audit/store/memory"
	"payhub/pkg/platform/circuit"
)

const auditBuffer = 1024

type app struct {
	router   http.Handler
	hub      *ws.Hub
	registry *registry.Registry
	payments *service.Service
	audit    *publisher.Publisher
	redis    *platformredis.Client
}

// newApp builds the object graph. An empty Redis URL keeps payment records
// in process memory.
func newApp(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	presenceMetrics := metrics.New(reg)
	paymentMetrics := paymentmetrics.New(reg)

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	var (
		cache  ports.CacheStore
		health httptransport.HealthChecker
	)
	if redisClient != nil {
		cache = store.NewRedisCache(redisClient.Client)
		health = redisClient
	} else {
		log.Warn("redis not configured, payment records are kept in memory")
		cache = store.NewInMemoryCache()
	}

	verifier, err := newVerifier(cfg.Payment)
	if err != nil {
		closeRedis(redisClient)
		return nil, err
	}

	presence := registry.New(registry.WithResumeWindow(cfg.WebSocket.ResumeWindow))
	hub := ws.NewHub(ws.WithHubLogger(log), ws.WithSendBuffer(cfg.WebSocket.SendBuffer))
	broadcaster := broadcast.New(presence, hub,
		broadcast.WithLogger(log),
		broadcast.WithMetrics(presenceMetrics),
	)
	auditStore := auditmemory.NewInMemoryStore(auditmemory.WithCapacity(cfg.AuditCapacity))
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)
	breaker := circuit.New("payment-cache",
		circuit.WithFailureThreshold(cfg.Payment.BreakerFailures),
		circuit.WithCooldown(cfg.Payment.BreakerCooldown),
	)

	payments, err := service.New(cache, broadcaster, verifier,
		service.WithLogger(log),
		service.WithMetrics(paymentMetrics),
		service.WithAuditPublisher(auditPublisher),
		service.WithBreaker(breaker),
		service.WithStoreTimeout(cfg.Payment.StoreTimeout),
	)
	if err != nil {
		auditPublisher.Close()
		closeRedis(redisClient)
		return nil, fmt.Errorf("payment service: %w", err)
	}

	wsHandler, err := ws.New(hub, presence, broadcaster, payments,
		ws.WithLogger(log),
		ws.WithMetrics(presenceMetrics),
		ws.WithAuditPublisher(auditPublisher),
		ws.WithKeepalive(cfg.WebSocket.PingInterval, cfg.WebSocket.PingTimeout),
		ws.WithAllowedOrigins(cfg.WebSocket.AllowedOrigins),
	)
	if err != nil {
		auditPublisher.Close()
		closeRedis(redisClient)
		return nil, fmt.Errorf("websocket handler: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Dependencies{
		WebSocket: wsHandler,
		Presence:  presence,
		Payments:  payments,
		Cache:     health,
		Audit:     auditStore,
		Gatherer:  gatherer,
		Logger:    log,
	})

	return &app{
		router:   router,
		hub:      hub,
		registry: presence,
		payments: payments,
		audit:    auditPublisher,
		redis:    redisClient,
	}, nil
}

// Close drains the audit buffer and releases the Redis pool.
func (a *app) Close() {
	a.audit.Close()
	closeRedis(a.redis)
}

func newVerifier(cfg config.PaymentConfig) (*passcode.Verifier, error) {
	if cfg.PasscodeHash != "" {
		v, err := passcode.FromHash(cfg.PasscodeHash)
		if err != nil {
			return nil, fmt.Errorf("payment passcode hash: %w", err)
		}
		return v, nil
	}
	v, err := passcode.FromSecret(cfg.Passcode, 0)
	if err != nil {
		return nil, fmt.Errorf("payment passcode: %w", err)
	}
	return v, nil
}

func closeRedis(c *platformredis.Client) {
	if c != nil {
		_ = c.Close()
	}
}
