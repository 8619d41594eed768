package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Event is anything publishable on the lifecycle bus.
type Event interface {
	GetType() EventType
}

type Handler func(ctx context.Context, event any) error

// Bus is a watermill gochannel pub/sub carrying lifecycle events inside
// the worker process.
type Bus struct {
	pubsub        *gochannel.GoChannel
	subscriptions map[EventType]Handler
}

func NewBus(logger *slog.Logger) *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 1000},
		watermill.NewSlogLogger(logger),
	)

	return &Bus{
		pubsub:        pubsub,
		subscriptions: make(map[EventType]Handler),
	}
}

func (b *Bus) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(eventTypeMetadataKey, string(event.GetType()))

	return b.pubsub.Publish(Topic, msg)
}

// Handle registers a handler for an event type. Call before Subscribe.
func (b *Bus) Handle(eventType EventType, handler Handler) {
	b.subscriptions[eventType] = handler
}

// Subscribe starts the dispatch loop. Events without a handler are acked
// and dropped.
func (b *Bus) Subscribe(ctx context.Context) error {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := EventType(msg.Metadata.Get(eventTypeMetadataKey))

			handler, exists := b.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			var event any

			switch eventType {
			case ExecutionStartedEvent:
				event = &ExecutionStarted{}
			case ExecutionSuspendedEvent:
				event = &ExecutionSuspended{}
			case ExecutionCompletedEvent:
				event = &ExecutionCompleted{}
			case ExecutionFailedEvent:
				event = &ExecutionFailed{}
			default:
				msg.Ack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
