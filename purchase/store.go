package purchase

import (
	"context"

	"github.com/xraph/credits/id"
)

type Store interface {
	// CreatePurchase fails with a duplicate error when the vendor
	// transaction id was recorded before.
	CreatePurchase(ctx context.Context, r *Record) error
	GetPurchaseByVendorTransaction(ctx context.Context, vendorTransactionID string) (*Record, error)
	// ListPurchases returns records newest first.
	ListPurchases(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Record, error)
	DeletePurchases(ctx context.Context, accountID id.AccountID) error
}

type ListOpts struct {
	Limit  int
	Offset int
}
