package orders

import "time"

// IsOpenForBidding reports whether o accepts bid placement or changes at now.
// The deadline itself is already closed.
func IsOpenForBidding(o Order, now time.Time) bool {
	return o.Status == StatusBidding && now.Before(o.BiddingEndsAt)
}

// checkWindow returns the Conflict error a closed window maps to.
func checkWindow(o Order, now time.Time) error {
	if o.Status != StatusBidding {
		return Conflictf("This order is no longer accepting bids")
	}
	if !now.Before(o.BiddingEndsAt) {
		return Conflictf("Bidding period has ended")
	}
	return nil
}
