package messages

import "context"

// Store persists messages. Implementations wrap backend failures with
// ErrPersistenceUnavailable.
type Store interface {
	// Create stores msg, assigning ID and CreatedAt when empty. CreatedAt is
	// monotonically ordered across calls.
	Create(ctx context.Context, msg Message) (Message, error)

	// MarkSeen flips the seen flag of one message addressed to receiverID.
	// Marking an already seen message succeeds; an unknown id, or a message
	// addressed to someone else, returns ErrNotFound.
	MarkSeen(ctx context.Context, id, receiverID string) error

	// Conversation returns every message exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]Message, error)

	// MarkConversationSeen marks all unseen messages from sender to reader as
	// seen and reports how many changed.
	MarkConversationSeen(ctx context.Context, reader, sender string) (int64, error)

	// UnseenCounts returns, per sender, how many messages to reader are unseen.
	// Senders with nothing unseen are omitted.
	UnseenCounts(ctx context.Context, reader string) (map[string]int, error)
}
