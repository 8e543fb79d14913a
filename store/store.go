package store

import (
	"context"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
)

// Store is the Remote Account Store: accounts, their append-only credit
// ledger and purchase records.
type Store interface {
	account.Store
	ledger.Store
	purchase.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
