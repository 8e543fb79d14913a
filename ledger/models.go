package ledger

import (
	"time"

	"github.com/xraph/credits/id"
)

// Kind is the typed reason for a balance change.
type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindConsumption Kind = "consumption"
	KindBonus       Kind = "bonus"
	KindMerge       Kind = "merge"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindConsumption, KindBonus, KindMerge:
		return true
	}
	return false
}

// Entry is an immutable record of a single balance change.
type Entry struct {
	ID          id.EntryID   `json:"id"`
	AccountID   id.AccountID `json:"account_id"`
	Amount      int64        `json:"amount"`
	Kind        Kind         `json:"kind"`
	Description string       `json:"description"`
	// Sequence is the account version once this entry is applied.
	Sequence     int64     `json:"sequence"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
