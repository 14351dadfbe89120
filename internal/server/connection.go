// Package server manages individual WebSocket connections, handling read/write
// pumps and lifecycle control for each authenticated session.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	unregisterTimeout = 5 * time.Second
)

// Connection is one authenticated, long-lived session of a user. A user may
// hold several at once (multi-device). Producers push encoded frames with
// Enqueue; a dedicated writer loop drains them to the socket.
type Connection struct {
	ID     string
	UserID string
	Addr   string

	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	maxMessageSize int64
	logger         logging.Logger
}

// NewConnection wraps an upgraded socket for userID. The id is freshly
// generated, so a reconnect of the same user is a different connection.
func NewConnection(conn *websocket.Conn, userID, addr string, cfg Config, logger logging.Logger) *Connection {
	cfg = cfg.Sanitize()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Connection{
		ID:             id,
		UserID:         userID,
		Addr:           addr,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		logger:         logger.With("conn", id, "user", userID),
	}
}

// Send returns the outbound queue for reading. Only the writer loop, or a
// test standing in for it, should consume it.
func (c *Connection) Send() <-chan []byte {
	return c.send
}

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Enqueue hands a frame to the writer loop without blocking. It fails with
// ErrDeliveryBestEffort when the connection is closing or its queue is full.
func (c *Connection) Enqueue(frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection %s is closing", ErrDeliveryBestEffort, c.ID)
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: connection %s send buffer full", ErrDeliveryBestEffort, c.ID)
	}
}

// Close marks the connection closing. The writer loop sends a close frame and
// releases the socket. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Connection) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn(context.Background(), "error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn(context.Background(), "error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs a read failure at a level matching how expected it is.
func (c *Connection) logReadError(err error) {
	ctx := context.Background()

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn(ctx, "frame exceeded maximum size", "limit", c.maxMessageSize)
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info(ctx, "client disconnected", "reason", err)
		return
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info(ctx, "connection closed", "reason", err)
		return
	}

	c.logger.Warn(ctx, "websocket read error", "error", err)
}

// readPump is the transport's close notification path: whenever the socket
// stops producing frames, for whatever reason, the connection leaves the
// registry before anything else happens. Inbound frames carry no commands;
// messages are sent through the HTTP API.
func (c *Connection) readPump(h *Hub) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
		defer cancel()
		if err := h.Unregister(ctx, c.UserID, c.ID); err != nil && !errors.Is(err, ErrHubStopped) {
			c.logger.Warn(ctx, "unregister failed", "error", err)
		}
		c.Close()
	}()

	c.setupReadConnection()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logReadError(err)
			return
		}
		c.logger.Debug(context.Background(), "ignoring inbound frame")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Connection) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.done:
		c.writeCloseMessage()
		return false
	case frame := <-c.send:
		return c.writeTextMessage(frame)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeSocket closes the underlying WebSocket, ignoring expected errors.
func (c *Connection) closeSocket() {
	c.Close()
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn(context.Background(), "error closing connection", "error", err)
	}
}

// writeCloseMessage sends a close frame to the client
func (c *Connection) writeCloseMessage() {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug(context.Background(), "error writing close message", "error", err)
	}
}

// writeTextMessage writes a frame and any frames queued behind it as one
// newline separated WebSocket message.
func (c *Connection) writeTextMessage(frame []byte) bool {
	ctx := context.Background()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn(ctx, "error setting write deadline", "error", err)
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Warn(ctx, "error creating writer", "error", err)
		return false
	}

	if _, err := w.Write(frame); err != nil {
		c.logger.Warn(ctx, "error writing frame", "error", err)
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.logger.Warn(ctx, "error closing writer", "error", err)
		return false
	}
	return true
}

// writeQueuedMessages drains what is already queued into the open writer.
func (c *Connection) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.logger.Warn(context.Background(), "error writing separator", "error", err)
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			c.logger.Warn(context.Background(), "error writing queued frame", "error", err)
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Connection) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn(context.Background(), "error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn(context.Background(), "error writing ping", "error", err)
		return false
	}
	return true
}
