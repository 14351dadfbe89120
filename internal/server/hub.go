// Package server coordinates connection registration, presence broadcast, and
// connection cleanup for the chatline WebSocket system via the Hub type.
package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/chatline/internal/logging"
)

// PresenceObserver is told about every OnlineSet the hub broadcasts, in
// commit order. Implementations must not block.
type PresenceObserver interface {
	PresenceChanged(online []string)
}

type registration struct {
	conn   *Connection
	result chan error
}

type unregistration struct {
	userID string
	connID string
	result chan error
}

// Hub is the presence registry. Its Run loop is the only goroutine that
// mutates the registry; it also holds the write lock while doing so, so
// ConnectionsFor and OnlineUsers always read a committed state. Every
// mutation is followed, on the same goroutine, by a presence broadcast built
// from the post-mutation state, which gives all connections the same
// broadcast order.
type Hub struct {
	conns      map[string]map[string]*Connection
	register   chan registration
	unregister chan unregistration
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     logging.Logger
	observers  []PresenceObserver
}

// NewHub creates a Hub ready to Run.
func NewHub(logger logging.Logger, observers ...PresenceObserver) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:      make(map[string]map[string]*Connection),
		register:   make(chan registration),
		unregister: make(chan unregistration),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
		observers:  observers,
	}
}

// Register admits an authenticated connection. It returns once the
// connection is in the registry and the resulting presence snapshot has been
// queued to every connection. Registering the same connection twice fails
// with ErrAlreadyRegistered and leaves the registry untouched.
func (h *Hub) Register(ctx context.Context, c *Connection) error {
	if c == nil {
		return ErrNilConnection
	}

	req := registration{conn: c, result: make(chan error, 1)}
	select {
	case h.register <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}
	return <-req.result
}

// Unregister removes a connection. Removing a connection that is not
// registered is a no-op, so duplicate close notifications are harmless.
func (h *Hub) Unregister(ctx context.Context, userID, connID string) error {
	req := unregistration{userID: userID, connID: connID, result: make(chan error, 1)}
	select {
	case h.unregister <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}
	return <-req.result
}

// ConnectionsFor returns a snapshot of userID's open connections.
func (h *Hub) ConnectionsFor(userID string) []*Connection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	set := h.conns[userID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// OnlineUsers returns the users with at least one open connection, sorted.
func (h *Hub) OnlineUsers() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Run starts the hub's main event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownConnections()
			return

		case req := <-h.register:
			req.result <- h.addConnection(req.conn)

		case req := <-h.unregister:
			h.removeConnection(req.userID, req.connID)
			req.result <- nil
		}
	}
}

func (h *Hub) addConnection(c *Connection) error {
	h.mutex.Lock()
	set, ok := h.conns[c.UserID]
	if _, dup := set[c.ID]; dup {
		h.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.ID)
	}
	if !ok {
		set = make(map[string]*Connection)
		h.conns[c.UserID] = set
	}
	set[c.ID] = c
	online, targets := h.snapshotLocked()
	h.mutex.Unlock()

	h.logger.Info(h.ctx, "connection registered",
		"user", c.UserID, "conn", c.ID, "addr", c.Addr, "devices", len(set), "online", len(online))

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump(h)
		}()
	}

	h.broadcastPresence(online, targets)
	return nil
}

func (h *Hub) removeConnection(userID, connID string) {
	h.mutex.Lock()
	set := h.conns[userID]
	c, ok := set[connID]
	if !ok {
		h.mutex.Unlock()
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
	online, targets := h.snapshotLocked()
	h.mutex.Unlock()

	c.Close()
	h.logger.Info(h.ctx, "connection unregistered",
		"user", userID, "conn", connID, "devices", len(set), "online", len(online))

	h.broadcastPresence(online, targets)
}

// snapshotLocked returns the online set and every open connection.
// Callers must hold the mutex.
func (h *Hub) snapshotLocked() ([]string, []*Connection) {
	targets := make([]*Connection, 0, len(h.conns))
	for _, set := range h.conns {
		for _, c := range set {
			targets = append(targets, c)
		}
	}
	return h.onlineLocked(), targets
}

// broadcastPresence pushes one OnlineSet snapshot to every target. A
// connection that cannot take it is skipped.
func (h *Hub) broadcastPresence(online []string, targets []*Connection) {
	frame, err := encodeEvent(EventOnlineUsers, online)
	if err != nil {
		h.logger.Error(h.ctx, "encode presence event", "error", err)
		return
	}

	for _, c := range targets {
		if err := c.Enqueue(frame); err != nil {
			h.logger.Warn(h.ctx, "presence push skipped", "user", c.UserID, "conn", c.ID, "error", err)
		}
	}

	for _, o := range h.observers {
		o.PresenceChanged(online)
	}
}

// shutdownConnections closes every registered connection.
func (h *Hub) shutdownConnections() {
	h.logger.Info(context.Background(), "shutting down all connections")

	h.mutex.Lock()
	_, targets := h.snapshotLocked()
	h.conns = make(map[string]map[string]*Connection)
	h.mutex.Unlock()

	for _, c := range targets {
		c.Close()
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn(context.Background(), "error closing connection", "conn", c.ID, "error", err)
			}
		}
	}

	h.logger.Info(context.Background(), "closed connections", "count", len(targets))
}

// Shutdown stops the Run loop and waits for it and the connection goroutines
// to finish, or for timeout. The timeout also covers a Run that was never
// started.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info(context.Background(), "initiating hub shutdown")

	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn(context.Background(), "hub shutdown timeout reached, run loop did not stop")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info(context.Background(), "hub shutdown completed")
		return nil
	case <-timer.C:
		h.logger.Warn(context.Background(), "hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
