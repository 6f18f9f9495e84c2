package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with defaults suited to long-lived WebSocket
// connections: header reads are bounded, bodies are not.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
