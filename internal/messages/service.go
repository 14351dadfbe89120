// Package messages orchestrates sending, marking and reading messages on top
// of a Store, handing new messages to a Notifier for live delivery.
package messages

import (
	"context"
	"strings"

	"github.com/Tyrowin/chatline/internal/logging"
)

// Notifier pushes a persisted message to the recipient's live connections
// and reports how many accepted it.
type Notifier interface {
	Deliver(msg Message) int
}

// Service implements the send / mark-seen / history operations that the HTTP
// layer exposes. Creating a message and fanning it out are separate steps:
// a fanout that reaches nobody never undoes the stored message.
type Service struct {
	store    Store
	notifier Notifier
	logger   logging.Logger
}

// NewService returns a Service. notifier may be nil, in which case messages
// are only stored.
func NewService(store Store, notifier Notifier, logger logging.Logger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger}
}

// Send validates and stores a message from senderID to receiverID, then hands
// it to the notifier for live delivery.
func (s *Service) Send(ctx context.Context, senderID, receiverID string, p Payload) (Message, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" || receiverID == senderID {
		return Message{}, ErrInvalidRecipient
	}

	p, err := p.Normalize()
	if err != nil {
		return Message{}, err
	}

	msg, err := s.store.Create(ctx, Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       p.Text,
		Image:      p.Image,
	})
	if err != nil {
		s.logger.Error(ctx, "message create failed", "from", senderID, "to", receiverID, "error", err)
		return Message{}, err
	}

	live := 0
	if s.notifier != nil {
		live = s.notifier.Deliver(msg)
	}
	s.logger.Debug(ctx, "message sent", "id", msg.ID, "from", senderID, "to", receiverID, "live", live)

	return msg, nil
}

// MarkSeen flips the seen flag of a single message on behalf of reader. Only
// the receiver of a message can mark it; for anyone else it does not exist.
func (s *Service) MarkSeen(ctx context.Context, reader, id string) error {
	return s.store.MarkSeen(ctx, id, reader)
}

// History returns the conversation between reader and partner as it was at
// fetch time, then marks everything partner sent to reader as seen: opening a
// conversation is what makes its messages seen.
func (s *Service) History(ctx context.Context, reader, partner string) ([]Message, error) {
	msgs, err := s.store.Conversation(ctx, reader, partner)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.MarkConversationSeen(ctx, reader, partner); err != nil {
		return nil, err
	}

	return msgs, nil
}

// Unseen returns per-sender unseen counts for reader.
func (s *Service) Unseen(ctx context.Context, reader string) (map[string]int, error) {
	return s.store.UnseenCounts(ctx, reader)
}
