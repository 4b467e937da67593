package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

const (
	TopicTransferStatus = "transfer.status"
	TopicSheetsChanged  = "sheets.changed"

	MetadataMediaKey = "media_key"
)

// Event is a delivered message.
type Event struct {
	ID      string
	Topic   string
	Key     models.MediaKey // Empty for events not tied to a track
	Payload []byte
}

// Decode unmarshals the JSON payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events in publish order.
type Handler func(Event)

// SubscriberBuffer is how many events a subscriber may fall behind before new ones are dropped for it.
const SubscriberBuffer = 1024

// Bus is an in-process publish/subscribe hub backed by a watermill go channel.
//
// Publish returns once every current subscriber has buffered the message, so events on a topic reach each
// subscriber in the order they were published. A subscriber whose buffer is full misses the event; a slow
// handler never blocks publishers.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewBus creates a new Bus.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = shared.WithLogger(logger, "component", "bus")
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(logger))
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish encodes payload as JSON and publishes it on topic, tagged with key when non-empty.
func (b *Bus) Publish(topic string, key models.MediaKey, payload any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if key != "" {
		msg.Metadata.Set(MetadataMediaKey, key.String())
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	return nil
}

// Subscribe delivers every event on topic to handler until ctx ends or the returned func is called.
//
// The unsubscribe func hands every buffered event to handler, waits for it to return and is safe to call
// more than once.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	return b.subscribe(ctx, topic, "", handler)
}

// SubscribeKey is Subscribe filtered to events tagged with key.
func (b *Bus) SubscribeKey(ctx context.Context, topic string, key models.MediaKey, handler Handler) (func(), error) {
	return b.subscribe(ctx, topic, key, handler)
}

func (b *Bus) subscribe(ctx context.Context, topic string, key models.MediaKey, handler Handler) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	buffered := make(chan Event, SubscriberBuffer)
	go func() {
		defer close(buffered)
		for msg := range messages {
			event := Event{
				ID:      msg.UUID,
				Topic:   topic,
				Key:     models.MediaKey(msg.Metadata.Get(MetadataMediaKey)),
				Payload: msg.Payload,
			}
			if key == "" || event.Key == key {
				select {
				case buffered <- event:
				default:
					b.logger.Warn("Subscriber is behind, dropping event", "topic", topic, "key", event.Key)
				}
			}
			msg.Ack()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range buffered {
			handler(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// Close shuts down the bus. Later publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.pubsub.Close()
}
