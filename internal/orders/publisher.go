package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/bean-collective/internal/kafka"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// EventSink is satisfied by *kafkax.Producer.
type EventSink interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// EventPublisher fans committed changes out: an envelope to Kafka, the fresh
// order into the read cache and a running-total message on Redis. Both
// backends are optional.
type EventPublisher struct {
	Sink    EventSink
	Redis   *redis.Client
	Service string
	Log     *slog.Logger
}

var _ Notifier = (*EventPublisher)(nil)

func (p *EventPublisher) Notify(ctx context.Context, c Change) {
	if p.Sink != nil {
		if topic := topicFor(c.EventType); topic != "" {
			ev := Envelope{
				EventID:       uuid.NewString(),
				EventType:     c.EventType,
				EventVersion:  EnvelopeVersion,
				OccurredAt:    time.Now().UTC(),
				Producer:      p.Service,
				TraceID:       TraceID(ctx),
				CorrelationID: c.Order.ID,
				Payload:       kafkax.MustMarshal(c.Payload),
			}
			p.Sink.Publish(topic, PartitionKey(c.Order.ID), kafkax.MustMarshal(ev),
				kafkax.EventHeaders(c.EventType, EnvelopeVersion)...)
		}
	}

	if p.Redis == nil {
		return
	}
	// The change is committed; finish the Redis legs even if the caller is gone.
	ctx = context.WithoutCancel(ctx)
	key := fmt.Sprintf(redisx.KeyOrderCache, c.Order.ID)
	if _, err := redisx.SetIfNewer(ctx, p.Redis, key, c.Order.Version, c.Order, redisx.TTLOrderCache); err != nil {
		p.logger().WarnContext(ctx, "order cache refresh failed",
			slog.String("order_id", c.Order.ID), slog.Any("error", err))
		if err := p.Redis.Del(ctx, key).Err(); err != nil {
			p.logger().WarnContext(ctx, "order cache invalidation failed",
				slog.String("order_id", c.Order.ID), slog.Any("error", err))
		}
	}
	upd := NewTotalUpdate(c.EventType, c.Order)
	if err := redisx.PublishJSON(ctx, p.Redis, fmt.Sprintf(redisx.ChannelOrderTotals, c.Order.ID), upd); err != nil {
		p.logger().WarnContext(ctx, "total publish failed",
			slog.String("order_id", c.Order.ID), slog.Any("error", err))
	}
}

func (p *EventPublisher) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
