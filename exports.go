package credits

import (
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/types"
)

// Re-export common types for convenience so users don't have to import the
// sub-packages for everyday calls.

// Price is re-exported from types package.
type Price = types.Price

// Entity is re-exported from types package.
type Entity = types.Entity

// Profile is re-exported from account package.
type Profile = account.Profile

// Ledger entry kinds.
const (
	KindPurchase    = ledger.KindPurchase
	KindConsumption = ledger.KindConsumption
	KindBonus       = ledger.KindBonus
	KindMerge       = ledger.KindMerge
)

// Re-export constructors
var (
	NewPrice  = types.NewPrice
	MustPrice = types.MustPrice
	NewEntity = types.NewEntity
)
