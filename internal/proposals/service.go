// Package proposals turns governance events into order changes.
package proposals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/bean-collective/internal/kafka"
	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type Service struct {
	Orders *orders.Service
	Redis  *redis.Client // dedup; nil disables it
	Name   string        // dedup namespace
	Log    *slog.Logger
}

// HandleProposalPassed opens an order for a passed proposal. Replays and
// proposals that already have an order are acknowledged.
func (s *Service) HandleProposalPassed(ctx context.Context, m kafkago.Message) error {
	return s.handle(ctx, m, orders.EventProposalPassed, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.ProposalPassedPayload](env.Payload)
		if err != nil {
			return orders.Validationf("%v", err)
		}
		o, err := s.Orders.CreateOrder(ctx, orders.CreateOrderInput{
			ProposalID:       p.ProposalID,
			CoffeeBeanID:     p.CoffeeBeanID,
			TargetQuantityKg: p.TargetQuantityKg,
			MoqKg:            p.MoqKg,
			BiddingDays:      p.BiddingDays,
		})
		if err != nil {
			return err
		}
		s.logger().InfoContext(ctx, "order opened for proposal",
			slog.Int64("proposal_id", p.ProposalID), slog.String("order_id", o.ID))
		return nil
	})
}

// HandleOrderSettlement applies a settlement decided on the governance side.
func (s *Service) HandleOrderSettlement(ctx context.Context, m kafkago.Message) error {
	return s.handle(ctx, m, orders.EventOrderSettlement, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.OrderSettlementPayload](env.Payload)
		if err != nil {
			return orders.Validationf("%v", err)
		}
		_, err = s.Orders.SettleOrder(ctx, p.OrderID, p.Status)
		return err
	})
}

// handle decodes the envelope, claims its event id and runs fn. Domain errors
// are final and the message is acknowledged; anything else releases the claim
// and is returned so the offset is not committed.
func (s *Service) handle(ctx context.Context, m kafkago.Message, want string, fn func(context.Context, orders.Envelope) error) error {
	log := s.logger().With(slog.String("topic", m.Topic), slog.Int64("offset", m.Offset))

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.WarnContext(ctx, "dropping undecodable message", slog.Any("error", err))
		return nil
	}
	if env.EventType != want {
		return nil
	}
	log = log.With(slog.String("event_id", env.EventID), slog.String("event_type", env.EventType))

	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if s.Redis != nil && env.EventID != "" {
		claimed, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !claimed {
			log.DebugContext(ctx, "duplicate event skipped")
			return nil
		}
	}

	err := fn(orders.WithTraceID(ctx, env.TraceID), env)
	switch kind := orders.KindOf(err); {
	case err == nil:
		return nil
	case kind == orders.KindConflict:
		log.InfoContext(ctx, "event already applied or not applicable", slog.String("reason", err.Error()))
		return nil
	case kind != "":
		log.WarnContext(ctx, "rejected event acknowledged", slog.Any("error", err))
		return nil
	}

	if s.Redis != nil && env.EventID != "" {
		if rerr := redisx.Release(context.WithoutCancel(ctx), s.Redis, dkey); rerr != nil {
			log.WarnContext(ctx, "dedup release failed", slog.Any("error", rerr))
		}
	}
	return err
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
