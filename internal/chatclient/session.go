package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/messages"
)

// Event names pushed by the server.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

const handshakeTimeout = 10 * time.Second

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session is one live connection to the server. Presence snapshots go to
// OnPresence; messages go through the Reconciler and then to OnMessage.
type Session struct {
	conn       *websocket.Conn
	reconciler *Reconciler
	logger     logging.Logger

	OnPresence func(online []string)
	OnMessage  func(msg messages.Message, d Disposition)
}

// Dial opens a session to wsURL (for example "ws://localhost:8080/ws"). The
// token travels in the handshake header. A rejected token yields an error
// wrapping auth.ErrUnauthorized; the HTTP API remains usable without a session.
func Dial(ctx context.Context, wsURL, token string, r *Reconciler, logger logging.Logger) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set(auth.TokenHeader, token)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", wsURL, auth.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return &Session{conn: conn, reconciler: r, logger: logger}, nil
}

// Run reads events until the connection ends or ctx is done. A normal close
// by either side returns nil.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			if len(frame) == 0 {
				continue
			}
			s.dispatch(ctx, frame)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, frame []byte) {
	var ev event
	if err := json.Unmarshal(frame, &ev); err != nil {
		s.logger.Warn(ctx, "undecodable frame", "error", err)
		return
	}

	switch ev.Event {
	case EventOnlineUsers:
		var online []string
		if err := json.Unmarshal(ev.Data, &online); err != nil {
			s.logger.Warn(ctx, "bad presence payload", "error", err)
			return
		}
		if s.OnPresence != nil {
			s.OnPresence(online)
		}
	case EventNewMessage:
		var msg messages.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			s.logger.Warn(ctx, "bad message payload", "error", err)
			return
		}
		d := s.reconciler.HandleIncoming(msg)
		if d == ActiveConversation {
			msg.Seen = true
		}
		if s.OnMessage != nil {
			s.OnMessage(msg, d)
		}
	default:
		s.logger.Debug(ctx, "ignoring event", "event", ev.Event)
	}
}

// Close sends a close frame and releases the connection.
func (s *Session) Close() {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = s.conn.Close()
}
