package purchase

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Record is the immutable record of one verified store transaction.
type Record struct {
	ID                  id.PurchaseID `json:"id"`
	AccountID           id.AccountID  `json:"account_id"`
	ProductID           string        `json:"product_id"`
	CreditsGranted      int64         `json:"credits_granted"`
	Price               types.Price   `json:"price"`
	VendorTransactionID string        `json:"vendor_transaction_id"`
	IsRestored          bool          `json:"is_restored"`
	Timestamp           time.Time     `json:"timestamp"`
}

// Pack is a purchasable bundle of credits.
type Pack struct {
	ProductID string      `json:"product_id" validate:"required"`
	Title     string      `json:"title,omitempty"`
	Credits   int64       `json:"credits" validate:"gt=0"`
	Price     types.Price `json:"price"`
}

// Receipt is what the client hands over after a store checkout.
type Receipt struct {
	ProductID           string `json:"product_id" validate:"required"`
	VendorTransactionID string `json:"vendor_transaction_id" validate:"required"`
	// Payload is the opaque vendor receipt, if any.
	Payload string `json:"payload,omitempty"`
}
