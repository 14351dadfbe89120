// Package messages is the persistence collaborator of the real-time core: it
// creates messages, flips their seen flag and serves conversation history.
package messages

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrPersistenceUnavailable wraps every failure of the backing store.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	ErrInvalidPayload   = errors.New("message needs exactly one of text or image")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNotFound         = errors.New("message not found")
)

// Message is a direct message between two users. It is immutable once created
// except for Seen, which goes from false to true at most once.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Payload is the user supplied part of a message: a text body or an image
// reference, never both.
type Payload struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Normalize trims the payload and checks that exactly one field is set.
func (p Payload) Normalize() (Payload, error) {
	p.Text = strings.TrimSpace(p.Text)
	p.Image = strings.TrimSpace(p.Image)
	if (p.Text == "") == (p.Image == "") {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}
