package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sealedbid/internal/auction"
)

const (
	// EventsChannel carries live lifecycle events for WebSocket fan-out.
	EventsChannel = "auction:events"
	// EventsStream keeps a trimmed, replayable copy of the same events.
	EventsStream = "auction:events:stream"

	streamMaxLen int64 = 10000
)

// EventBus publishes auction events on Pub/Sub and appends them to a stream.
// It implements auction.Notifier.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.rdb}
}

// Notify encodes ev as JSON, publishes it and appends it to the stream.
func (b *EventBus) Notify(ctx context.Context, ev auction.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Publish(ctx, EventsChannel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: EventsStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(ev.Type),
			"payload": payload,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe returns raw event payloads published by any replica. The channel
// is closed when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", EventsChannel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns the latest count events from the stream, oldest first.
// The hub replays them to clients that subscribe to an auction.
func (b *EventBus) Recent(ctx context.Context, count int) ([]auction.Event, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, EventsStream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", EventsStream, err)
	}

	events := make([]auction.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["payload"].(string)
		if !ok {
			continue
		}
		var ev auction.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

var _ auction.Notifier = (*EventBus)(nil)
