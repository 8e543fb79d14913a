// Package entitlement decides whether an account may spend credits.
package entitlement

// Reasons reported on a denied Result.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonNoSession           = "no_session"
	ReasonInvalidCost         = "invalid_cost"
)

// Result is the outcome of a spend check.
type Result struct {
	Allowed   bool   `json:"allowed"`
	AccountID string `json:"account_id,omitempty"`
	Balance   int64  `json:"balance"`
	Cost      int64  `json:"cost"`
	Remaining int64  `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// Check evaluates spending cost credits from balance.
func Check(accountID string, balance, cost int64) *Result {
	r := &Result{
		AccountID: accountID,
		Balance:   balance,
		Cost:      cost,
		Remaining: balance,
	}
	switch {
	case cost <= 0:
		r.Reason = ReasonInvalidCost
	case balance < cost:
		r.Reason = ReasonInsufficientCredits
	default:
		r.Allowed = true
		r.Remaining = balance - cost
	}
	return r
}

// Denied returns a Result rejected for reason.
func Denied(reason string, cost int64) *Result {
	return &Result{Cost: cost, Reason: reason}
}
