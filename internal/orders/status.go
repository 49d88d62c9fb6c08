package orders

type Status string

const (
	StatusBidding   Status = "bidding"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusFulfilled Status = "fulfilled"
)

var validNext = map[Status]map[Status]bool{
	StatusBidding:   {StatusConfirmed: true, StatusFailed: true},
	StatusConfirmed: {StatusFulfilled: true},
	StatusFailed:    {},
	StatusFulfilled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type BidStatus string

const (
	BidActive    BidStatus = "active"
	BidCancelled BidStatus = "cancelled"
	// BidAccepted is shown by clients but nothing in this service produces it.
	BidAccepted BidStatus = "accepted"
)
