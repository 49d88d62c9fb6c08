package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultBiddingDays = 14
	MaxBiddingDays     = 365
)

// Quantities and prices must fit the NUMERIC columns they are stored in.
const (
	kgPlaces    = 3
	pricePlaces = 2
)

var (
	kgLimit    = decimal.New(1, 11) // NUMERIC(14,3)
	priceLimit = decimal.New(1, 10) // NUMERIC(12,2)
)

type PlaceBidInput struct {
	OrderID    string
	MinKg      decimal.Decimal
	MaxKg      decimal.Decimal
	PricePerKg decimal.Decimal
}

// UpdateBidInput leaves a field unchanged when it is nil.
type UpdateBidInput struct {
	MinKg      *decimal.Decimal
	MaxKg      *decimal.Decimal
	PricePerKg *decimal.Decimal
}

type CreateOrderInput struct {
	ProposalID       int64
	CoffeeBeanID     string
	TargetQuantityKg decimal.Decimal
	MoqKg            decimal.Decimal
	BiddingDays      int // 0 -> Service.BiddingDays
}

// Change describes a committed mutation of an order or one of its bids.
type Change struct {
	EventType string
	Order     Order // state right after the commit
	Payload   any
}

type Notifier interface {
	Notify(ctx context.Context, c Change)
}

// Service owns every write to orders and bids.
type Service struct {
	Store       Store
	Notifier    Notifier // optional
	Now         func() time.Time
	BiddingDays int
	Log         *slog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Service) notify(ctx context.Context, c Change) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Notify(ctx, c)
}

func validateBid(minKg, maxKg, price decimal.Decimal) error {
	if !minKg.IsPositive() || !maxKg.IsPositive() || !price.IsPositive() {
		return Validationf("All values must be positive")
	}
	if minKg.GreaterThan(maxKg) {
		return Validationf("minKg cannot be greater than maxKg")
	}
	if err := checkAmount("Quantities", kgPlaces, kgLimit, minKg, maxKg); err != nil {
		return err
	}
	return checkAmount("Prices", pricePlaces, priceLimit, price)
}

// checkAmount rejects values Postgres would round or could not store.
func checkAmount(name string, places int32, limit decimal.Decimal, vs ...decimal.Decimal) error {
	for _, v := range vs {
		if !v.Equal(v.Truncate(places)) {
			return Validationf("%s allow at most %d decimal places", name, places)
		}
		if v.GreaterThanOrEqual(limit) {
			return Validationf("%s must be below %s", name, limit)
		}
	}
	return nil
}

func (s *Service) PlaceBid(ctx context.Context, userID string, in PlaceBidInput) (BidResult, error) {
	if userID == "" {
		return BidResult{}, Unauthorizedf("Unauthorized")
	}
	if in.OrderID == "" {
		return BidResult{}, Validationf("orderId is required")
	}

	var (
		res   BidResult
		after Order
	)
	err := s.Store.WithOrder(ctx, in.OrderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		now := s.now()
		// window first: a closed order rejects bids whatever their shape
		if err := checkWindow(o, now); err != nil {
			return err
		}
		if err := validateBid(in.MinKg, in.MaxKg, in.PricePerKg); err != nil {
			return err
		}
		bid, err := tx.InsertBid(ctx, Bid{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			UserID:     userID,
			MinKg:      in.MinKg,
			MaxKg:      in.MaxKg,
			PricePerKg: in.PricePerKg,
			Status:     BidActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		total, err := tx.AdjustTotal(ctx, bid.MaxKg)
		if err != nil {
			return err
		}
		res = BidResult{Bid: bid, TotalBidKg: total}
		after = tx.Order()
		return nil
	})
	if err != nil {
		return BidResult{}, err
	}

	s.logger().InfoContext(ctx, "bid placed",
		slog.String("order_id", after.ID), slog.String("bid_id", res.Bid.ID),
		slog.String("max_kg", res.Bid.MaxKg.String()), slog.String("total_bid_kg", res.TotalBidKg.String()))
	s.notify(ctx, Change{
		EventType: EventBidPlaced,
		Order:     after,
		Payload:   BidChangedPayload{Bid: res.Bid, PrevMaxKg: decimal.Zero, TotalBidKg: res.TotalBidKg},
	})
	return res, nil
}

func (s *Service) UpdateBid(ctx context.Context, userID, bidID string, in UpdateBidInput) (BidResult, error) {
	if userID == "" {
		return BidResult{}, Unauthorizedf("Unauthorized")
	}
	if bidID == "" {
		return BidResult{}, Validationf("bidId is required")
	}
	orderID, err := s.Store.BidOrderID(ctx, bidID, userID)
	if err != nil {
		return BidResult{}, err
	}

	var (
		res     BidResult
		after   Order
		prevMax decimal.Decimal
	)
	err = s.Store.WithOrder(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		bid, err := tx.FindBid(ctx, bidID, userID)
		if err != nil {
			return err
		}
		if !bid.Live() {
			return Conflictf("Cannot update a cancelled bid")
		}
		now := s.now()
		if err := checkWindow(o, now); err != nil {
			return err
		}

		prevMax = bid.MaxKg
		if in.MinKg != nil {
			bid.MinKg = *in.MinKg
		}
		if in.MaxKg != nil {
			bid.MaxKg = *in.MaxKg
		}
		if in.PricePerKg != nil {
			bid.PricePerKg = *in.PricePerKg
		}
		if err := validateBid(bid.MinKg, bid.MaxKg, bid.PricePerKg); err != nil {
			return err
		}
		bid.UpdatedAt = now

		saved, err := tx.SaveBid(ctx, bid)
		if err != nil {
			return err
		}
		total := o.TotalBidKg
		if delta := saved.MaxKg.Sub(prevMax); !delta.IsZero() {
			if total, err = tx.AdjustTotal(ctx, delta); err != nil {
				return err
			}
		}
		res = BidResult{Bid: saved, TotalBidKg: total}
		after = tx.Order()
		return nil
	})
	if err != nil {
		return BidResult{}, err
	}

	s.logger().InfoContext(ctx, "bid updated",
		slog.String("order_id", after.ID), slog.String("bid_id", bidID),
		slog.String("prev_max_kg", prevMax.String()), slog.String("total_bid_kg", res.TotalBidKg.String()))
	s.notify(ctx, Change{
		EventType: EventBidUpdated,
		Order:     after,
		Payload:   BidChangedPayload{Bid: res.Bid, PrevMaxKg: prevMax, TotalBidKg: res.TotalBidKg},
	})
	return res, nil
}

// CancelBid is allowed whatever the state of the bidding window.
func (s *Service) CancelBid(ctx context.Context, userID, bidID string) (BidResult, error) {
	if userID == "" {
		return BidResult{}, Unauthorizedf("Unauthorized")
	}
	if bidID == "" {
		return BidResult{}, Validationf("Bid id is required")
	}
	orderID, err := s.Store.BidOrderID(ctx, bidID, userID)
	if err != nil {
		return BidResult{}, err
	}

	var (
		res   BidResult
		after Order
	)
	err = s.Store.WithOrder(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		bid, err := tx.FindBid(ctx, bidID, userID)
		if err != nil {
			return err
		}
		if !bid.Live() {
			return Conflictf("Bid is already cancelled")
		}
		bid.Status = BidCancelled
		bid.UpdatedAt = s.now()
		saved, err := tx.SaveBid(ctx, bid)
		if err != nil {
			return err
		}
		total, err := tx.AdjustTotal(ctx, saved.MaxKg.Neg())
		if err != nil {
			return err
		}
		res = BidResult{Bid: saved, TotalBidKg: total}
		after = tx.Order()
		return nil
	})
	if err != nil {
		return BidResult{}, err
	}

	s.logger().InfoContext(ctx, "bid cancelled",
		slog.String("order_id", after.ID), slog.String("bid_id", bidID),
		slog.String("total_bid_kg", res.TotalBidKg.String()))
	s.notify(ctx, Change{
		EventType: EventBidCancelled,
		Order:     after,
		Payload:   BidChangedPayload{Bid: res.Bid, PrevMaxKg: res.Bid.MaxKg, TotalBidKg: res.TotalBidKg},
	})
	return res, nil
}

// CreateOrder opens the bidding round for a passed proposal. A proposal gets
// at most one order; a second attempt fails with Conflict.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	if in.ProposalID <= 0 || in.CoffeeBeanID == "" {
		return Order{}, Validationf("Required fields: proposalId, coffeeBeanId, targetQuantityKg, moqKg")
	}
	if !in.TargetQuantityKg.IsPositive() || !in.MoqKg.IsPositive() {
		return Order{}, Validationf("targetQuantityKg and moqKg must be positive")
	}
	if err := checkAmount("Quantities", kgPlaces, kgLimit, in.TargetQuantityKg, in.MoqKg); err != nil {
		return Order{}, err
	}
	if in.BiddingDays < 0 || in.BiddingDays > MaxBiddingDays {
		return Order{}, Validationf("biddingDays must be between 1 and %d", MaxBiddingDays)
	}

	if _, err := s.Store.OrderByProposal(ctx, in.ProposalID); err == nil {
		return Order{}, Conflictf("An order for this proposal already exists")
	} else if !IsKind(err, KindNotFound) {
		return Order{}, err
	}
	if _, err := s.Store.GetBean(ctx, in.CoffeeBeanID); err != nil {
		return Order{}, err
	}

	days := in.BiddingDays
	if days == 0 {
		days = s.BiddingDays
	}
	if days <= 0 || days > MaxBiddingDays {
		days = DefaultBiddingDays
	}
	now := s.now()
	o, err := s.Store.InsertOrder(ctx, Order{
		ID:               uuid.NewString(),
		ProposalID:       in.ProposalID,
		CoffeeBeanID:     in.CoffeeBeanID,
		TargetQuantityKg: in.TargetQuantityKg,
		MoqKg:            in.MoqKg,
		TotalBidKg:       decimal.Zero,
		BiddingEndsAt:    now.AddDate(0, 0, days),
		Status:           StatusBidding,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Order{}, err
	}

	s.logger().InfoContext(ctx, "order created",
		slog.String("order_id", o.ID), slog.Int64("proposal_id", o.ProposalID),
		slog.Time("bidding_ends_at", o.BiddingEndsAt))
	s.notify(ctx, Change{EventType: EventOrderCreated, Order: o, Payload: OrderCreatedPayload{Order: o}})
	return o, nil
}

// SettleOrder applies a status decided outside this service (deadline sweep,
// settlement). Re-applying the current status is a no-op.
func (s *Service) SettleOrder(ctx context.Context, orderID string, to Status) (Order, error) {
	if orderID == "" {
		return Order{}, Validationf("orderId is required")
	}
	if !to.Valid() {
		return Order{}, Validationf("unknown order status %q", to)
	}

	var (
		after   Order
		from    Status
		changed bool
	)
	err := s.Store.WithOrder(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		from = o.Status
		if from == to {
			after = o
			return nil
		}
		if !CanTransition(from, to) {
			return Conflictf("Order cannot move from %s to %s", from, to)
		}
		var err error
		after, err = tx.SetStatus(ctx, to)
		changed = err == nil
		return err
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		s.logger().InfoContext(ctx, "order settled",
			slog.String("order_id", orderID), slog.String("from", string(from)), slog.String("to", string(to)))
		s.notify(ctx, Change{
			EventType: EventOrderSettled,
			Order:     after,
			Payload:   OrderSettledPayload{OrderID: orderID, From: from, To: to},
		})
	}
	return after, nil
}

// ---- reads ----

func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]OrderSummary, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, Validationf("unknown order status %q", f.Status)
	}
	return s.Store.ListOrders(ctx, f)
}

func (s *Service) ListOrderBids(ctx context.Context, orderID string) ([]Bid, error) {
	if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.Store.ListBidsByOrder(ctx, orderID)
}

func (s *Service) ListMyBids(ctx context.Context, userID string) ([]UserBid, error) {
	if userID == "" {
		return nil, Unauthorizedf("Unauthorized")
	}
	return s.Store.ListBidsByUser(ctx, userID)
}

func (s *Service) ListBeans(ctx context.Context, f BeanFilter) ([]CoffeeBean, error) {
	switch f.Sort {
	case SortByName, SortByPrice, SortByPriceDesc, SortByMoq:
	default:
		f.Sort = SortByName
	}
	return s.Store.ListBeans(ctx, f)
}

func (s *Service) GetBean(ctx context.Context, id string) (BeanDetail, error) {
	b, err := s.Store.GetBean(ctx, id)
	if err != nil {
		return BeanDetail{}, err
	}
	open, err := s.Store.ListOrdersByBean(ctx, id, StatusBidding)
	if err != nil {
		return BeanDetail{}, err
	}
	return BeanDetail{CoffeeBean: b, Orders: open}, nil
}
