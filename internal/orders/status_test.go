package orders

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusBidding, StatusConfirmed, true},
		{StatusBidding, StatusFailed, true},
		{StatusBidding, StatusFulfilled, false},
		{StatusConfirmed, StatusFulfilled, true},
		{StatusConfirmed, StatusBidding, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusFulfilled, StatusFailed, false},
		{Status("unknown"), StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusBidding, StatusConfirmed, StatusFailed, StatusFulfilled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("accepted").Valid() {
		t.Error("accepted is a bid status, not an order status")
	}
}
