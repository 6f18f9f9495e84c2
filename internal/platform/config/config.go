package config

import (
	"os"
	"strconv"
	"time"

	strs "payhub/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr      string
	LogLevel  string
	Redis     RedisConfig
	Payment   PaymentConfig
	WebSocket WebSocketConfig
	// AuditCapacity is how many audit events are retained in memory.
	AuditCapacity int
}

// RedisConfig configures the payment cache connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PaymentConfig configures the submission coordinator.
type PaymentConfig struct {
	// Passcode is the shared secret accepted for new payments. Ignored when
	// PasscodeHash is set.
	Passcode string
	// PasscodeHash is a bcrypt hash of the shared secret.
	PasscodeHash string
	// StoreTimeout bounds each cache round trip of a submission.
	StoreTimeout time.Duration
	// BreakerFailures consecutive store failures open the cache breaker.
	BreakerFailures int
	// BreakerCooldown is the wait between probes while the breaker is open.
	BreakerCooldown time.Duration
}

// WebSocketConfig configures connection keepalive, origin policy and how long
// a disconnected user id stays resumable.
type WebSocketConfig struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	SendBuffer     int
	AllowedOrigins []string
	ResumeWindow   time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	passcode := os.Getenv("PAYMENT_PASSCODE")
	if passcode == "" {
		// Development default; override in any shared environment.
		passcode = "1234"
	}

	return Server{
		Addr:     envString("PAYHUB_ADDR", ":8080"),
		LogLevel: envString("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			URL:          envString("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Payment: PaymentConfig{
			Passcode:        passcode,
			PasscodeHash:    os.Getenv("PAYMENT_PASSCODE_HASH"),
			StoreTimeout:    envDuration("PAYMENT_STORE_TIMEOUT", 3*time.Second),
			BreakerFailures: envInt("PAYMENT_BREAKER_FAILURES", 5),
			BreakerCooldown: envDuration("PAYMENT_BREAKER_COOLDOWN", 5*time.Second),
		},
		WebSocket: WebSocketConfig{
			PingInterval:   envDuration("WS_PING_INTERVAL", 10*time.Second),
			PingTimeout:    envDuration("WS_PING_TIMEOUT", 5*time.Second),
			SendBuffer:     envInt("WS_SEND_BUFFER", 32),
			AllowedOrigins: envList("ALLOWED_ORIGINS"),
			ResumeWindow:   envDuration("PRESENCE_RESUME_WINDOW", 10*time.Minute),
		},
		AuditCapacity: envInt("AUDIT_CAPACITY", 1000),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envList(key string) []string {
	return strs.SplitList(os.Getenv(key), ",")
}
