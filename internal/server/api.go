// Package server implements the message API handlers: send, history,
// mark-seen and the sidebar view, backed by the message service and the hub.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/messages"
)

// API bundles everything the HTTP handlers need. It is built once at startup
// and passed to the router; nothing here is package-global.
type API struct {
	hub      *Hub
	auth     *auth.Authenticator
	messages *messages.Service
	limiters *userLimiters
	upgrader websocket.Upgrader
	cfg      Config
	logger   logging.Logger
}

// NewAPI wires the handlers to a hub, an authenticator and the message service.
func NewAPI(cfg Config, hub *Hub, authn *auth.Authenticator, svc *messages.Service, logger logging.Logger) *API {
	cfg = cfg.Sanitize()
	policy := newOriginPolicy(cfg.AllowedOrigins)
	for _, origin := range policy.invalid {
		logger.Warn(context.Background(), "ignoring invalid allowed origin", "origin", origin)
	}

	return &API{
		hub:      hub,
		auth:     authn,
		messages: svc,
		limiters: newUserLimiters(cfg.RateLimit),
		upgrader: newUpgrader(policy),
		cfg:      cfg,
		logger:   logger,
	}
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Send stores a message from the caller to :id and pushes it to the
// recipient's live connections.
func (a *API) Send(c *gin.Context) {
	sender := currentUser(c)
	if !a.limiters.allow(sender) {
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many messages, slow down"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	msg, err := a.messages.Send(c.Request.Context(), sender, c.Param("id"), messages.Payload{Text: req.Text, Image: req.Image})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "newMessage": msg})
}

// History returns the conversation with :id and marks it seen.
func (a *API) History(c *gin.Context) {
	msgs, err := a.messages.History(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

// MarkSeen flips the seen flag of message :id when the caller received it.
func (a *API) MarkSeen(c *gin.Context) {
	if err := a.messages.MarkSeen(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Users returns the caller's unseen counts per sender and the current online set.
func (a *API) Users(c *gin.Context) {
	unseen, err := a.messages.Unseen(c.Request.Context(), currentUser(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"unseenMessages": unseen,
		"onlineUsers":    a.hub.OnlineUsers(),
	})
}

func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messages.ErrInvalidPayload), errors.Is(err, messages.ErrInvalidRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, messages.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Message not found"})
	default:
		a.logger.Error(c.Request.Context(), "message api failure", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	}
}
