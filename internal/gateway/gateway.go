// Package gateway sends single transactional emails.
package gateway

import (
	"context"
	"fmt"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers one message. A returned error means the message was not
// accepted; its text is recorded on the recipient row.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Error is a rejection reported by the remote API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway rejected message (%d): %s", e.StatusCode, e.Message)
}
