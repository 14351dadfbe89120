package server

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tyrowin/chatline/internal/logging"
)

type recordingObserver struct {
	mu        sync.Mutex
	snapshots [][]string
}

func (o *recordingObserver) PresenceChanged(online []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots = append(o.snapshots, append([]string(nil), online...))
}

func (o *recordingObserver) all() [][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]string(nil), o.snapshots...)
}

// TestRegisterBroadcastsToEveryConnection checks that the connection that
// triggered a change gets the new snapshot too.
func TestRegisterBroadcastsToEveryConnection(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()
	cfg := testConfig()

	alice := newTestConn("alice", cfg)
	require.NoError(t, h.Register(ctx, alice))
	assert.Equal(t, []string{"alice"}, lastOnline(t, alice))

	bob := newTestConn("bob", cfg)
	require.NoError(t, h.Register(ctx, bob))
	assert.Equal(t, []string{"alice", "bob"}, lastOnline(t, alice))
	assert.Equal(t, []string{"alice", "bob"}, lastOnline(t, bob))

	require.NoError(t, h.Unregister(ctx, "alice", alice.ID))
	assert.Equal(t, []string{"bob"}, lastOnline(t, bob))
	assert.Empty(t, drain(t, alice), "removed connection gets nothing further")
	assert.Equal(t, []string{"bob"}, h.OnlineUsers())
}

func TestRegisterDuplicateIsRejected(t *testing.T) {
	obs := &recordingObserver{}
	h := newTestHub(t, obs)
	ctx := context.Background()

	alice := newTestConn("alice", testConfig())
	require.NoError(t, h.Register(ctx, alice))
	drain(t, alice)

	err := h.Register(ctx, alice)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Empty(t, drain(t, alice), "rejected register must not broadcast")
	assert.Len(t, obs.all(), 1)
	assert.Len(t, h.ConnectionsFor("alice"), 1)
}

func TestRegisterNil(t *testing.T) {
	h := newTestHub(t)
	assert.ErrorIs(t, h.Register(context.Background(), nil), ErrNilConnection)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	obs := &recordingObserver{}
	h := newTestHub(t, obs)
	ctx := context.Background()

	alice := newTestConn("alice", testConfig())
	require.NoError(t, h.Register(ctx, alice))
	drain(t, alice)

	require.NoError(t, h.Unregister(ctx, "alice", "no-such-conn"))
	require.NoError(t, h.Unregister(ctx, "nobody", "x"))

	require.NoError(t, h.Unregister(ctx, "alice", alice.ID))
	require.NoError(t, h.Unregister(ctx, "alice", alice.ID), "duplicate close notification")

	assert.Len(t, obs.all(), 2, "only the register and the first unregister broadcast")
	assert.Empty(t, h.OnlineUsers())
}

func TestMultiDevicePresence(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()
	cfg := testConfig()

	phone := newTestConn("alice", cfg)
	laptop := newTestConn("alice", cfg)
	bob := newTestConn("bob", cfg)
	require.NotEqual(t, phone.ID, laptop.ID)

	for _, c := range []*Connection{phone, laptop, bob} {
		require.NoError(t, h.Register(ctx, c))
	}
	assert.Len(t, h.ConnectionsFor("alice"), 2)
	assert.Equal(t, []string{"alice", "bob"}, lastOnline(t, bob))

	require.NoError(t, h.Unregister(ctx, "alice", phone.ID))
	assert.Equal(t, []string{"alice", "bob"}, lastOnline(t, bob), "alice still has a device online")
	assert.Equal(t, []string{"alice", "bob"}, lastOnline(t, laptop))

	require.NoError(t, h.Unregister(ctx, "alice", laptop.ID))
	assert.Equal(t, []string{"bob"}, lastOnline(t, bob))
	assert.Empty(t, h.ConnectionsFor("alice"))
}

// TestRandomSequencesKeepOnlineSetExact replays random register/unregister
// sequences against a model and compares after every step.
func TestRandomSequencesKeepOnlineSetExact(t *testing.T) {
	cfg := testConfig()
	cfg.SendBufferSize = 4096
	users := []string{"u1", "u2", "u3", "u4"}

	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newTestHub(t)
			ctx := context.Background()

			watcher := newTestConn("watcher", cfg)
			require.NoError(t, h.Register(ctx, watcher))

			open := map[string][]*Connection{}
			for step := 0; step < 200; step++ {
				user := users[rng.Intn(len(users))]
				if len(open[user]) == 0 || rng.Intn(2) == 0 {
					c := newTestConn(user, cfg)
					require.NoError(t, h.Register(ctx, c))
					open[user] = append(open[user], c)
				} else {
					i := rng.Intn(len(open[user]))
					c := open[user][i]
					open[user] = append(open[user][:i], open[user][i+1:]...)
					require.NoError(t, h.Unregister(ctx, user, c.ID))
				}

				want := []string{"watcher"}
				for u, conns := range open {
					if len(conns) > 0 {
						want = append(want, u)
					}
				}
				sort.Strings(want)

				require.Equal(t, want, h.OnlineUsers(), "step %d", step)
				require.Equal(t, want, lastOnline(t, watcher), "step %d", step)
				for u, conns := range open {
					require.Len(t, h.ConnectionsFor(u), len(conns), "step %d user %s", step, u)
				}
			}
		})
	}
}

// TestConcurrentRegistrationsObserveOneOrder registers from many goroutines
// and checks that every connection saw exactly the tail of the global
// broadcast sequence, starting with its own registration.
func TestConcurrentRegistrationsObserveOneOrder(t *testing.T) {
	obs := &recordingObserver{}
	h := newTestHub(t, obs)
	cfg := testConfig()

	const n = 40
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = newTestConn(fmt.Sprintf("user-%02d", i), cfg)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			assert.NoError(t, h.Register(context.Background(), c))
		}(c)
	}
	wg.Wait()

	global := obs.all()
	require.Len(t, global, n)

	for _, c := range conns {
		var seen [][]string
		for _, ev := range drain(t, c) {
			seen = append(seen, decodeOnline(t, ev))
		}
		require.NotEmpty(t, seen)
		assert.Contains(t, seen[0], c.UserID)
		assert.Equal(t, global[len(global)-len(seen):], seen, "connection %s", c.UserID)
	}
}

func TestBroadcastSkipsConnectionThatCannotAccept(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := NewHub(logging.NewZapLogger(zap.New(core)))
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	ctx := context.Background()

	small := testConfig()
	small.SendBufferSize = 1
	slow := newTestConn("slow", small)
	require.NoError(t, h.Register(ctx, slow))

	gone := newTestConn("gone", testConfig())
	require.NoError(t, h.Register(ctx, gone))
	gone.Close()

	bob := newTestConn("bob", testConfig())
	require.NoError(t, h.Register(ctx, bob))

	assert.Equal(t, []string{"bob", "gone", "slow"}, lastOnline(t, bob))
	assert.GreaterOrEqual(t, logs.FilterMessage("presence push skipped").Len(), 2)
	assert.Len(t, drain(t, slow), 1)
}

func TestConnectionsForReturnsCopy(t *testing.T) {
	h := newTestHub(t)
	alice := newTestConn("alice", testConfig())
	require.NoError(t, h.Register(context.Background(), alice))

	got := h.ConnectionsFor("alice")
	got[0] = nil

	assert.Same(t, alice, h.ConnectionsFor("alice")[0])
}

func TestRegisterAfterShutdown(t *testing.T) {
	h := NewHub(logging.NewNop())
	go h.Run()
	require.NoError(t, h.Shutdown(time.Second))

	err := h.Register(context.Background(), newTestConn("alice", testConfig()))
	assert.ErrorIs(t, err, ErrHubStopped)
	assert.ErrorIs(t, h.Unregister(context.Background(), "alice", "x"), ErrHubStopped)
}

func TestRegisterHonoursContext(t *testing.T) {
	h := NewHub(logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Register(ctx, newTestConn("alice", testConfig()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShutdownClosesConnections(t *testing.T) {
	h := NewHub(logging.NewNop())
	go h.Run()

	alice := newTestConn("alice", testConfig())
	require.NoError(t, h.Register(context.Background(), alice))
	require.NoError(t, h.Shutdown(time.Second))

	select {
	case <-alice.Done():
	default:
		t.Fatal("connection not closed by shutdown")
	}
	assert.Empty(t, h.OnlineUsers())
}

func TestShutdownWithoutRunTimesOut(t *testing.T) {
	h := NewHub(logging.NewNop())

	done := make(chan error, 1)
	go func() { done <- h.Shutdown(50 * time.Millisecond) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown ignored its timeout")
	}
}
