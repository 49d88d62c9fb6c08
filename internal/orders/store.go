package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the aggregation service. Lookups
// return NotFound/Conflict *Error values where the kind is known.
type Store interface {
	GetBean(ctx context.Context, id string) (CoffeeBean, error)
	ListBeans(ctx context.Context, f BeanFilter) ([]CoffeeBean, error)
	UpsertBean(ctx context.Context, b CoffeeBean) error

	GetOrder(ctx context.Context, id string) (Order, error)
	OrderByProposal(ctx context.Context, proposalID int64) (Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]OrderSummary, error)
	ListOrdersByBean(ctx context.Context, beanID string, status Status) ([]Order, error)
	// InsertOrder fails with Conflict when the proposal already has an order.
	InsertOrder(ctx context.Context, o Order) (Order, error)

	ListBidsByOrder(ctx context.Context, orderID string) ([]Bid, error)
	ListBidsByUser(ctx context.Context, userID string) ([]UserBid, error)
	// BidOrderID resolves the order of a bid owned by userID.
	BidOrderID(ctx context.Context, bidID, userID string) (string, error)

	// WithOrder runs fn while holding the order exclusively. Every write made
	// through tx commits together when fn returns nil and is discarded otherwise.
	WithOrder(ctx context.Context, orderID string, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderTx is a unit of work scoped to one locked order.
type OrderTx interface {
	// Order is the locked order as read at the start of the unit of work.
	Order() Order
	FindBid(ctx context.Context, bidID, userID string) (Bid, error)
	// InsertBid fails with Conflict if the user already has a live bid on the order.
	InsertBid(ctx context.Context, b Bid) (Bid, error)
	SaveBid(ctx context.Context, b Bid) (Bid, error)
	// AdjustTotal adds delta to the running total and returns the new value.
	AdjustTotal(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error)
	SetStatus(ctx context.Context, to Status) (Order, error)
}
