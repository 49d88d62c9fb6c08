package orders

import (
	"testing"
	"time"
)

func TestIsOpenForBidding(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		status Status
		ends   time.Time
		want   bool
	}{
		{"bidding, before deadline", StatusBidding, now.Add(time.Hour), true},
		{"bidding, at deadline", StatusBidding, now, false},
		{"bidding, past deadline", StatusBidding, now.Add(-time.Second), false},
		{"confirmed, before deadline", StatusConfirmed, now.Add(time.Hour), false},
		{"failed", StatusFailed, now.Add(time.Hour), false},
		{"fulfilled", StatusFulfilled, now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{Status: tt.status, BiddingEndsAt: tt.ends}
			if got := IsOpenForBidding(o, now); got != tt.want {
				t.Errorf("IsOpenForBidding() = %v, want %v", got, tt.want)
			}
			if err := checkWindow(o, now); (err == nil) != tt.want {
				t.Errorf("checkWindow() = %v, open = %v", err, tt.want)
			} else if err != nil && !IsKind(err, KindConflict) {
				t.Errorf("checkWindow() kind = %q, want conflict", KindOf(err))
			}
		})
	}
}
