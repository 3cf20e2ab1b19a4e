// Package transport defines the delivery backends a dispatch run sends through.
package transport

import (
	"context"

	"github.com/oarkflow/clubmail/internal/message"
)

// Dialer opens a delivery session. A dispatch run opens exactly one.
type Dialer interface {
	// Open connects, negotiates security and authenticates.
	Open(ctx context.Context) (Session, error)

	// Name returns the human-readable name of this transport.
	Name() string
}

// Session delivers messages until it is closed.
type Session interface {
	// Send delivers one message.
	Send(ctx context.Context, msg *message.Message) error

	// Close ends the session.
	Close() error
}
