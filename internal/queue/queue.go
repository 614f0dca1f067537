package queue

import (
	"context"
	"time"
)

// Message is one delivery from a lane queue. The receipt handle is only
// valid until the visibility timeout expires.
type Message struct {
	ID      string
	Body    []byte
	Receipt string
}

// Queue provides at-least-once delivery with visibility timeouts. A received
// message stays invisible until it is deleted, its visibility is extended, or
// the timeout lapses and it returns to the ready set.
type Queue interface {
	// Send enqueues a message body.
	Send(ctx context.Context, queue string, body []byte) error
	// Receive returns up to max messages, making them invisible for the
	// configured timeout. Expired in-flight messages are reclaimed first.
	Receive(ctx context.Context, queue string, max int) ([]Message, error)
	// Delete acknowledges a delivery. Deleting an expired receipt is a no-op;
	// the message may already be redelivered.
	Delete(ctx context.Context, queue string, receipt string) error
	// ExtendVisibility moves the invisibility deadline. A zero duration
	// returns the message to the ready set immediately (nack).
	ExtendVisibility(ctx context.Context, queue string, receipt string, d time.Duration) error
	// Depth returns the number of ready messages.
	Depth(ctx context.Context, queue string) (int64, error)
}
