// Package messages provides an in-memory Store for tests and development runs.
package messages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps messages in process memory. It backs tests and
// single-process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	last     time.Time
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*Message),
		now:      time.Now,
	}
}

// Create stores msg, assigning an id when empty and a CreatedAt strictly
// after every earlier message.
func (s *MemoryStore) Create(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	// Strictly increasing, even when the clock does not advance between calls.
	created := s.now().UTC()
	if !created.After(s.last) {
		created = s.last.Add(time.Microsecond)
	}
	s.last = created
	msg.CreatedAt = created

	stored := msg
	s.messages[msg.ID] = &stored
	return msg, nil
}

// MarkSeen flips the seen flag of message id if receiverID is its receiver.
func (s *MemoryStore) MarkSeen(_ context.Context, id, receiverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.ReceiverID != receiverID {
		return ErrNotFound
	}
	m.Seen = true
	return nil
}

// Conversation returns copies of the messages between a and b, oldest first.
func (s *MemoryStore) Conversation(_ context.Context, a, b string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkConversationSeen marks everything sender sent to reader as seen.
func (s *MemoryStore) MarkConversationSeen(_ context.Context, reader, sender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages {
		if m.SenderID == sender && m.ReceiverID == reader && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

// UnseenCounts counts reader's unseen messages per sender.
func (s *MemoryStore) UnseenCounts(_ context.Context, reader string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, m := range s.messages {
		if m.ReceiverID == reader && !m.Seen {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}
