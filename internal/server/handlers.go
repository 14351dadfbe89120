// Package server exposes HTTP handlers, including the authenticated WebSocket
// upgrade and health checks.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatline/internal/auth"
)

const registerTimeout = 5 * time.Second

func newUpgrader(policy *originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.allows,
	}
}

// WebSocketHandler authenticates the handshake credential, upgrades the
// connection and admits it to the hub. A rejected credential gets 401 before
// any upgrade, so it never shows up in presence.
func (a *API) WebSocketHandler(c *gin.Context) {
	r := c.Request

	userID, err := a.auth.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		a.logger.Info(r.Context(), "websocket handshake rejected", "addr", r.RemoteAddr, "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, r, nil)
	if err != nil {
		a.logger.Warn(r.Context(), "websocket upgrade failed", "user", userID, "error", err)
		return
	}

	ws := NewConnection(conn, userID, r.RemoteAddr, a.cfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	if err := a.hub.Register(ctx, ws); err != nil {
		level := a.logger.Warn
		if errors.Is(err, ErrHubStopped) {
			level = a.logger.Info
		}
		level(ctx, "websocket registration failed", "user", userID, "error", err)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "chatline server is running!")
}

// StatusHandler reports that the message API is mounted.
func StatusHandler(c *gin.Context) {
	c.String(http.StatusOK, "API is running")
}
