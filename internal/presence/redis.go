// Package presence mirrors the hub's online set into Redis so that
// request/response services can ask who is online without talking to the
// WebSocket process. The mirror is write-only from the hub's point of view:
// nothing read back from Redis ever influences routing.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/chatline/internal/logging"
)

const cleanupTimeout = 2 * time.Second

// RedisMirror keeps a Redis set equal to the latest online snapshot.
type RedisMirror struct {
	rdb     redis.Cmdable
	key     string
	logger  logging.Logger
	updates chan []string
}

// NewRedisMirror returns a mirror writing to key. Call Run to start it.
func NewRedisMirror(rdb redis.Cmdable, key string, logger logging.Logger) *RedisMirror {
	return &RedisMirror{
		rdb:     rdb,
		key:     key,
		logger:  logger.With("component", "presence-mirror", "key", key),
		updates: make(chan []string, 1),
	}
}

// PresenceChanged records a new snapshot without blocking. If an older one
// is still waiting to be written it is replaced, since only the latest state
// matters.
func (m *RedisMirror) PresenceChanged(online []string) {
	snapshot := append([]string(nil), online...)
	for {
		select {
		case m.updates <- snapshot:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Run writes snapshots until ctx is done, then removes the key. Write
// failures are logged and the next snapshot is tried as usual.
func (m *RedisMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.clear()
			return nil
		case online := <-m.updates:
			if err := m.write(ctx, online); err != nil {
				m.logger.Warn(ctx, "presence mirror write failed", "online", len(online), "error", err)
			}
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, online []string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(online) > 0 {
			members := make([]any, len(online))
			for i, u := range online {
				members[i] = u
			}
			pipe.SAdd(ctx, m.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror presence: %w", err)
	}
	return nil
}

func (m *RedisMirror) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		m.logger.Warn(ctx, "presence mirror cleanup failed", "error", err)
	}
}

// Online reads the mirrored set back. It is meant for other services and
// tooling, never for routing decisions.
func (m *RedisMirror) Online(ctx context.Context) ([]string, error) {
	users, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	return users, nil
}

// IsOnline reports whether user is in the mirrored set.
func (m *RedisMirror) IsOnline(ctx context.Context, user string) (bool, error) {
	ok, err := m.rdb.SIsMember(ctx, m.key, user).Result()
	if err != nil {
		return false, fmt.Errorf("read presence: %w", err)
	}
	return ok, nil
}
