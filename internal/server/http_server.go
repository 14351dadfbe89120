// Package server constructs and stops the chatline HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Tyrowin/chatline/internal/logging"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// The write timeout is left at zero: hijacked WebSocket connections manage
// their own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info(ctx, "shutting down HTTP server")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
		return err
	}

	logger.Info(ctx, "HTTP server shutdown completed")
	return nil
}
