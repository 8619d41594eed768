// Package eventlog defines the durable, partitioned event log the workers
// consume from. Delivery is at-least-once: a message handed to a consumer
// stays pending until acknowledged, and pending messages idle past the
// claim timeout become eligible for reclaim by a peer.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/loomery/loom/pkg/models"
)

var ErrClosed = errors.New("event log is closed")

// Message is one delivery of an event to a consumer.
type Message struct {
	// Stream the message was read from.
	Stream string
	// ID is the log-assigned position within the stream.
	ID string
	// Event is the decoded payload.
	Event *models.Event
}

// Appender is the producer half of the log. Append durably records the
// event; it gives no guarantee the event has been processed.
type Appender interface {
	Append(ctx context.Context, event *models.Event) error
}

// Consumer is the worker-facing half of the log.
type Consumer interface {
	// Read blocks up to block waiting for new messages for the given
	// consumer. Count bounds the batch per stream; everything the read
	// claims is returned. An empty result on timeout is not an error.
	Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error)

	// Ack removes a delivered message from the group's pending list.
	Ack(ctx context.Context, stream, id string) error

	// Reclaim transfers up to count messages that have been pending longer
	// than minIdle to the given consumer.
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error)
}

// Log is the full durable log contract.
type Log interface {
	Appender
	Consumer

	// EnsureGroup creates the consumer group on the stream for the given
	// event type if it does not exist yet.
	EnsureGroup(ctx context.Context, eventType string) error

	Close() error
}
