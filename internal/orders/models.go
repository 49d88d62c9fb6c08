package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type CoffeeBean struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Origin      string          `json:"origin"`
	Region      string          `json:"region"`
	Process     string          `json:"process"`
	RoastLevel  string          `json:"roast_level"`
	FlavorNotes []string        `json:"flavor_notes"`
	Description string          `json:"description"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	MoqKg       decimal.Decimal `json:"moq_kg"`
	Available   bool            `json:"available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BeanDetail is a bean together with the orders currently open for bidding on it.
type BeanDetail struct {
	CoffeeBean
	Orders []Order `json:"orders"`
}

type Order struct {
	ID               string          `json:"id"`
	ProposalID       int64           `json:"proposal_id"`
	CoffeeBeanID     string          `json:"coffee_bean_id"`
	TargetQuantityKg decimal.Decimal `json:"target_quantity_kg"`
	MoqKg            decimal.Decimal `json:"moq_kg"`
	TotalBidKg       decimal.Decimal `json:"total_bid_kg"`
	BiddingEndsAt    time.Time       `json:"bidding_ends_at"`
	Status           Status          `json:"status"`  // lihat status.go
	Version          int64           `json:"version"` // +1 on every write to the row
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MoqMet reports whether committed quantity has reached the order's MOQ.
func (o Order) MoqMet() bool { return o.TotalBidKg.GreaterThanOrEqual(o.MoqKg) }

type BeanSummary struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Origin     string          `json:"origin"`
	RoastLevel string          `json:"roast_level"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
}

// OrderSummary is the list view of an order.
type OrderSummary struct {
	Order
	CoffeeBean BeanSummary `json:"coffee_bean"`
	BidCount   int         `json:"bid_count"`
}

type Bid struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	MinKg      decimal.Decimal `json:"min_kg"`
	MaxKg      decimal.Decimal `json:"max_kg"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
	Status     BidStatus       `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Live reports whether the bid still counts towards its order's total.
func (b Bid) Live() bool { return b.Status != BidCancelled }

type BidOrderRef struct {
	ID         string `json:"id"`
	ProposalID int64  `json:"proposal_id"`
	Status     Status `json:"status"`
	BeanName   string `json:"coffee_bean_name"`
}

// UserBid is a bid as listed on the member's own page.
type UserBid struct {
	Bid
	Order BidOrderRef `json:"order"`
}

// BidResult is what every bid mutation returns: the bid as written and the
// order's running total right after the write.
type BidResult struct {
	Bid        Bid             `json:"bid"`
	TotalBidKg decimal.Decimal `json:"total_bid_kg"`
}

type BeanSort string

const (
	SortByName      BeanSort = "name"
	SortByPrice     BeanSort = "price"
	SortByPriceDesc BeanSort = "price_desc"
	SortByMoq       BeanSort = "moq"
)

type BeanFilter struct {
	Origin     string
	RoastLevel string
	Available  *bool
	Sort       BeanSort
}

type OrderFilter struct {
	Status     Status
	ProposalID *int64
}
