package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/messages"
)

// ErrRequestFailed is returned for any non-2xx answer other than 401.
var ErrRequestFailed = errors.New("request failed")

const requestTimeout = 10 * time.Second

// APIClient calls the chatline message API as one user.
type APIClient struct {
	http *resty.Client
}

// NewAPIClient returns a client for the server at baseURL (for example
// "http://localhost:8080") authenticating with token.
func NewAPIClient(baseURL, token string) *APIClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader(auth.TokenHeader, token).
		SetHeader("Accept", "application/json").
		SetTimeout(requestTimeout)
	return &APIClient{http: c}
}

type apiError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Users is the sidebar view: who is online and how many unseen messages each
// sender has for the caller.
type Users struct {
	Unseen map[string]int `json:"unseenMessages"`
	Online []string       `json:"onlineUsers"`
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, auth.ErrUnauthorized)
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			msg = e.Message
		}
		return fmt.Errorf("%w: %s: %s", ErrRequestFailed, op, msg)
	}
	return nil
}

// MarkSeen marks one message seen. It satisfies SeenMarker.
func (c *APIClient) MarkSeen(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&apiError{}).
		Put("/api/messages/mark/" + url.PathEscape(id))
	return checkResponse("mark seen", resp, err)
}

// Send posts a message to receiver and returns it as stored.
func (c *APIClient) Send(ctx context.Context, receiver string, p messages.Payload) (messages.Message, error) {
	var out struct {
		NewMessage messages.Message `json:"newMessage"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(p).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/messages/send/" + url.PathEscape(receiver))
	if err := checkResponse("send", resp, err); err != nil {
		return messages.Message{}, err
	}
	return out.NewMessage, nil
}

// History fetches the conversation with partner. The server marks partner's
// messages seen as a side effect.
func (c *APIClient) History(ctx context.Context, partner string) ([]messages.Message, error) {
	var out struct {
		Messages []messages.Message `json:"messages"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/messages/" + url.PathEscape(partner))
	if err := checkResponse("history", resp, err); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Users fetches unseen counts and the online set.
func (c *APIClient) Users(ctx context.Context) (Users, error) {
	var out Users
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/messages/users")
	if err := checkResponse("users", resp, err); err != nil {
		return Users{}, err
	}
	return out, nil
}
