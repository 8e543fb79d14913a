// Package billing defines the store-side purchase verification service and
// its outcomes.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/types"
)

// ErrUnknownTransaction is returned when the vendor has no record of a
// transaction.
var ErrUnknownTransaction = errors.New("billing: unknown transaction")

// Outcome is the vendor's verdict on a transaction.
type Outcome string

const (
	OutcomeVerified   Outcome = "verified"
	OutcomeUnverified Outcome = "unverified"
	OutcomePending    Outcome = "pending"
)

// Verification is the vendor's answer for one receipt.
type Verification struct {
	Outcome             Outcome     `json:"outcome"`
	ProductID           string      `json:"product_id"`
	VendorTransactionID string      `json:"vendor_transaction_id"`
	Price               types.Price `json:"price"`
	Timestamp           time.Time   `json:"timestamp"`
}

// Verifier is the billing service. Implementations must be safe for
// concurrent use.
type Verifier interface {
	// Verify asks the vendor about receipt.
	Verify(ctx context.Context, receipt purchase.Receipt) (*Verification, error)

	// Products returns the purchasable credit packs.
	Products(ctx context.Context) ([]purchase.Pack, error)

	// History returns every receipt the vendor holds for accountID.
	History(ctx context.Context, accountID id.AccountID) ([]purchase.Receipt, error)
}

// FindPack returns the pack for productID.
func FindPack(packs []purchase.Pack, productID string) (purchase.Pack, bool) {
	for _, p := range packs {
		if p.ProductID == productID {
			return p, true
		}
	}
	return purchase.Pack{}, false
}
