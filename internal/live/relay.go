package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/redis/go-redis/v9"
)

var channelPrefix = strings.TrimSuffix(redisx.ChannelOrderTotals, "%s")

// Relay forwards running-total messages from Redis pub/sub into a Hub, so
// every API replica serves updates committed by any other.
type Relay struct {
	ps  *redis.PubSub
	log *slog.Logger
}

// Subscribe pattern-subscribes to every order's totals channel and waits for
// Redis to confirm.
func Subscribe(ctx context.Context, rdb *redis.Client, log *slog.Logger) (*Relay, error) {
	if log == nil {
		log = slog.Default()
	}
	ps := rdb.PSubscribe(ctx, redisx.PatternOrderTotals)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", redisx.PatternOrderTotals, err)
	}
	return &Relay{ps: ps, log: log}, nil
}

// Run blocks until ctx is done or the subscription is closed.
func (r *Relay) Run(ctx context.Context, hub *Hub) {
	defer r.ps.Close()
	ch := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			orderID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if orderID == "" || orderID == msg.Channel {
				r.log.Warn("unexpected totals channel", slog.String("channel", msg.Channel))
				continue
			}
			hub.Broadcast(orderID, []byte(msg.Payload))
		}
	}
}
