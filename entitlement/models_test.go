package entitlement

import "testing"

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		balance   int64
		cost      int64
		allowed   bool
		remaining int64
		reason    string
	}{
		{"exact balance", 1, 1, true, 0, ""},
		{"surplus", 10, 3, true, 7, ""},
		{"short", 2, 3, false, 2, ReasonInsufficientCredits},
		{"zero cost", 5, 0, false, 5, ReasonInvalidCost},
		{"negative cost", 5, -1, false, 5, ReasonInvalidCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Check("acct_1", tt.balance, tt.cost)
			if r.Allowed != tt.allowed {
				t.Errorf("Allowed: got %v, want %v", r.Allowed, tt.allowed)
			}
			if r.Remaining != tt.remaining {
				t.Errorf("Remaining: got %d, want %d", r.Remaining, tt.remaining)
			}
			if r.Reason != tt.reason {
				t.Errorf("Reason: got %q, want %q", r.Reason, tt.reason)
			}
		})
	}
}
