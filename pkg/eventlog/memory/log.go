// Package memory provides an in-process event log with the same
// claim/ack/reclaim semantics as the Redis backend. It backs tests and the
// test-workflow sandbox; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/models"
)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

type stream struct {
	name    string
	nextSeq int64
	entries []eventlog.Message
	// cursor is the index of the next entry not yet delivered to the group.
	cursor  int
	pending map[string]*pendingEntry
}

// Log is an in-memory eventlog.Log with a single implicit consumer group.
type Log struct {
	mu      sync.Mutex
	prefix  string
	maxLen  int
	streams map[string]*stream
	notify  chan struct{}
	closed  bool
}

func NewLog(prefix string, maxLen int) *Log {
	if prefix == "" {
		prefix = "loom:events"
	}

	if maxLen <= 0 {
		maxLen = 10000
	}

	return &Log{
		prefix:  prefix,
		maxLen:  maxLen,
		streams: make(map[string]*stream),
		notify:  make(chan struct{}),
	}
}

func (l *Log) streamKey(eventType string) string {
	return l.prefix + ":" + eventType
}

func (l *Log) getStream(key string) *stream {
	s, ok := l.streams[key]
	if !ok {
		s = &stream{name: key, pending: make(map[string]*pendingEntry)}
		l.streams[key] = s
	}

	return s
}

func (l *Log) Append(_ context.Context, event *models.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return eventlog.ErrClosed
	}

	s := l.getStream(l.streamKey(event.Type))
	s.nextSeq++

	copied := *event
	copied.StreamID = fmt.Sprintf("%d-0", s.nextSeq)

	s.entries = append(s.entries, eventlog.Message{
		Stream: s.name,
		ID:     copied.StreamID,
		Event:  &copied,
	})

	// Trim-to-length: drop oldest entries already consumed by the cursor.
	if len(s.entries) > l.maxLen && s.cursor > 0 {
		drop := len(s.entries) - l.maxLen
		if drop > s.cursor {
			drop = s.cursor
		}

		s.entries = s.entries[drop:]
		s.cursor -= drop
	}

	close(l.notify)
	l.notify = make(chan struct{})

	return nil
}

func (l *Log) EnsureGroup(_ context.Context, eventType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.getStream(l.streamKey(eventType))

	return nil
}

func (l *Log) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]eventlog.Message, error) {
	deadline := time.Now().Add(block)

	for {
		l.mu.Lock()

		if l.closed {
			l.mu.Unlock()

			return nil, eventlog.ErrClosed
		}

		messages := l.takeLocked(consumer, count)
		wait := l.notify

		l.mu.Unlock()

		if len(messages) > 0 {
			return messages, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (l *Log) takeLocked(consumer string, count int64) []eventlog.Message {
	var messages []eventlog.Message

	for _, s := range l.streams {
		for s.cursor < len(s.entries) && int64(len(messages)) < count {
			msg := s.entries[s.cursor]
			s.cursor++

			s.pending[msg.ID] = &pendingEntry{
				consumer:    consumer,
				deliveredAt: time.Now(),
				deliveries:  1,
			}

			delivered := *msg.Event
			delivered.DeliveryCount = 1
			messages = append(messages, eventlog.Message{Stream: msg.Stream, ID: msg.ID, Event: &delivered})
		}

		if int64(len(messages)) >= count {
			break
		}
	}

	return messages
}

func (l *Log) Ack(_ context.Context, streamName, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return nil
	}

	delete(s.pending, id)

	return nil
}

func (l *Log) Reclaim(_ context.Context, consumer string, minIdle time.Duration, count int64) ([]eventlog.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var reclaimed []eventlog.Message

	for _, s := range l.streams {
		for _, msg := range s.entries {
			entry, ok := s.pending[msg.ID]
			if !ok || time.Since(entry.deliveredAt) < minIdle {
				continue
			}

			if int64(len(reclaimed)) >= count {
				return reclaimed, nil
			}

			entry.consumer = consumer
			entry.deliveredAt = time.Now()
			entry.deliveries++

			delivered := *msg.Event
			delivered.DeliveryCount = entry.deliveries
			reclaimed = append(reclaimed, eventlog.Message{Stream: msg.Stream, ID: msg.ID, Event: &delivered})
		}
	}

	return reclaimed, nil
}

// PendingCount reports unacknowledged deliveries, for tests.
func (l *Log) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, s := range l.streams {
		total += len(s.pending)
	}

	return total
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.notify)
		l.notify = make(chan struct{})
	}

	return nil
}
