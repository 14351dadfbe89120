// Package server defines the named events pushed to connections and utility
// helpers shared by the hub and connection code.
package server

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event names on the wire. Clients switch on the name, never on payload shape.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

var (
	// ErrDeliveryBestEffort marks a push that one connection could not accept.
	// It is logged and never propagated past the connection it concerns.
	ErrDeliveryBestEffort = errors.New("delivery failed")

	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrHubStopped        = errors.New("hub stopped")
	ErrNilConnection     = errors.New("nil connection")
)

// Event is the frame written to a connection.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeEvent(name string, data any) ([]byte, error) {
	return json.Marshal(Event{Event: name, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
