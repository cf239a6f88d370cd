package queue

import (
	"context"
	"errors"
)

// ErrFull is returned by Send when the backend cannot accept more messages right now.
var ErrFull = errors.New("queue full")

// ErrClosed is returned by Send after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
