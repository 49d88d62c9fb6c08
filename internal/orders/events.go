package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventBidPlaced       = "BidPlaced"
	EventBidUpdated      = "BidUpdated"
	EventBidCancelled    = "BidCancelled"
	EventOrderSettled    = "OrderSettled"
	EventProposalPassed  = "ProposalPassed"
	EventOrderSettlement = "OrderSettlement"
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, or proposal id for governance events
	Payload       json.RawMessage `json:"payload"`
}

// ---- produced ----

type OrderCreatedPayload struct {
	Order Order `json:"order"`
}

type BidChangedPayload struct {
	Bid        Bid             `json:"bid"`
	PrevMaxKg  decimal.Decimal `json:"prev_max_kg"`
	TotalBidKg decimal.Decimal `json:"total_bid_kg"`
}

type OrderSettledPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

// ---- consumed from the governance side ----

type ProposalPassedPayload struct {
	ProposalID       int64           `json:"proposal_id"`
	CoffeeBeanID     string          `json:"coffee_bean_id"`
	TargetQuantityKg decimal.Decimal `json:"target_quantity_kg"`
	MoqKg            decimal.Decimal `json:"moq_kg"`
	BiddingDays      int             `json:"bidding_days,omitempty"`
}

type OrderSettlementPayload struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
}

// TotalUpdate is the message pushed to live subscribers of an order.
type TotalUpdate struct {
	OrderID    string          `json:"order_id"`
	EventType  string          `json:"event_type"`
	TotalBidKg decimal.Decimal `json:"total_bid_kg"`
	MoqKg      decimal.Decimal `json:"moq_kg"`
	MoqMet     bool            `json:"moq_met"`
	Status     Status          `json:"status"`
	// Version orders updates of one order; clients keep the highest seen.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTotalUpdate(eventType string, o Order) TotalUpdate {
	return TotalUpdate{
		OrderID:    o.ID,
		EventType:  eventType,
		TotalBidKg: o.TotalBidKg,
		MoqKg:      o.MoqKg,
		MoqMet:     o.MoqMet(),
		Status:     o.Status,
		Version:    o.Version,
		UpdatedAt:  o.UpdatedAt,
	}
}
