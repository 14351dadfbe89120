// Package server routes freshly stored messages to the recipient's live
// connections.
package server

import (
	"context"

	"github.com/Tyrowin/chatline/internal/messages"
)

// Deliver pushes a persisted message to every open connection of its
// recipient and returns how many accepted it. An offline recipient is not an
// error: the message is already stored and will be read on the next fetch.
// Each connection gets the event at most once; failures are isolated.
func (h *Hub) Deliver(msg messages.Message) int {
	targets := h.ConnectionsFor(msg.ReceiverID)
	if len(targets) == 0 {
		return 0
	}

	ctx := context.Background()
	frame, err := encodeEvent(EventNewMessage, msg)
	if err != nil {
		h.logger.Error(ctx, "encode message event", "id", msg.ID, "error", err)
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if err := c.Enqueue(frame); err != nil {
			h.logger.Warn(ctx, "message push skipped", "id", msg.ID, "user", c.UserID, "conn", c.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
