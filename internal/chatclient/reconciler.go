// Package chatclient is the client side of chatline: a WebSocket session that
// receives presence and message events, the reconciler that decides what an
// incoming message does to local state, and an HTTP client for the message API.
package chatclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/messages"
)

const markSeenTimeout = 5 * time.Second

// Disposition says where an incoming message went.
type Disposition int

const (
	// InactiveConversation: counted as unseen for its sender.
	InactiveConversation Disposition = iota
	// ActiveConversation: shown in the open conversation and marked seen.
	ActiveConversation
)

func (d Disposition) String() string {
	if d == ActiveConversation {
		return "active"
	}
	return "inactive"
}

// SeenMarker persists the seen flag of one message.
type SeenMarker interface {
	MarkSeen(ctx context.Context, id string) error
}

// Reconciler owns the per-session view: the open conversation's history and
// the unseen counter per sender. All updates go through one mutex so two
// messages arriving at once never lose an increment.
type Reconciler struct {
	mu       sync.Mutex
	selected func() string
	marker   SeenMarker
	logger   logging.Logger
	history  []messages.Message
	unseen   map[string]int
	inflight sync.WaitGroup
}

// NewReconciler returns a reconciler. selected reports the partner whose
// conversation is open, or "" when none is; the reconciler only reads it.
func NewReconciler(selected func() string, marker SeenMarker, logger logging.Logger) *Reconciler {
	return &Reconciler{
		selected: selected,
		marker:   marker,
		logger:   logger,
		unseen:   make(map[string]int),
	}
}

// HandleIncoming applies a newly arrived message to local state.
//
// If its sender is the open conversation's partner, the message is marked
// seen locally, appended to the history, and the seen flag is persisted in
// the background. Otherwise the sender's unseen counter goes up by one.
func (r *Reconciler) HandleIncoming(msg messages.Message) Disposition {
	partner := r.selected()

	r.mu.Lock()
	defer r.mu.Unlock()

	if partner == "" || msg.SenderID != partner {
		r.unseen[msg.SenderID]++
		return InactiveConversation
	}

	msg.Seen = true
	r.history = append(r.history, msg)
	r.markSeen(msg.ID)
	return ActiveConversation
}

// markSeen persists the flag without blocking the caller. A failure only
// means the server still thinks the message is unseen; it is logged.
func (r *Reconciler) markSeen(id string) {
	if r.marker == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(context.Background(), "mark seen panicked", "id", id, "panic", p)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), markSeenTimeout)
		defer cancel()
		if err := r.marker.MarkSeen(ctx, id); err != nil {
			r.logger.Warn(ctx, "mark seen failed", "id", id, "error", err)
		}
	}()
}

// LoadConversation replaces the open history with a fresh fetch for partner
// and clears partner's unseen counter. Messages with partner that arrived
// live while the fetch was in flight are kept, so the result is the fetch
// plus those arrivals, oldest first.
func (r *Reconciler) LoadConversation(partner string, history []messages.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fetched := make(map[string]struct{}, len(history))
	for _, m := range history {
		fetched[m.ID] = struct{}{}
	}

	merged := append([]messages.Message(nil), history...)
	for _, m := range r.history {
		if _, ok := fetched[m.ID]; ok {
			continue
		}
		if m.SenderID == partner || m.ReceiverID == partner {
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	r.history = merged
	delete(r.unseen, partner)
}

// SetUnseen replaces all counters, e.g. with the server's counts at startup.
func (r *Reconciler) SetUnseen(counts map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unseen = make(map[string]int, len(counts))
	for sender, n := range counts {
		if n > 0 {
			r.unseen[sender] = n
		}
	}
}

// Unseen returns the unseen count for sender.
func (r *Reconciler) Unseen(sender string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unseen[sender]
}

// UnseenCounts returns a copy of all non-zero counters.
func (r *Reconciler) UnseenCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.unseen))
	for sender, n := range r.unseen {
		out[sender] = n
	}
	return out
}

// History returns a copy of the open conversation.
func (r *Reconciler) History() []messages.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messages.Message(nil), r.history...)
}

// Wait blocks until background mark-seen calls have finished.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}
