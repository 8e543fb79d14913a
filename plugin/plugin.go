// Package plugin provides an extensible plugin system for Credits.
// Plugins can hook into account, ledger and purchase lifecycle events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized. r is the *credits.Reconciler.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, r interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called when a guest or registered account is created.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnAccountPromoted is called when a guest becomes a registered account.
type OnAccountPromoted interface {
	Plugin
	OnAccountPromoted(ctx context.Context, a *account.Account, carriedOver int64) error
}

// OnSignedOut is called after the current account is signed out.
type OnSignedOut interface {
	Plugin
	OnSignedOut(ctx context.Context, accountID string) error
}

// OnAccountDeleted is called after an account and its history are deleted.
type OnAccountDeleted interface {
	Plugin
	OnAccountDeleted(ctx context.Context, accountID string) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnBalanceAdjusted is called after a ledger entry is applied.
type OnBalanceAdjusted interface {
	Plugin
	OnBalanceAdjusted(ctx context.Context, a *account.Account, e *ledger.Entry) error
}

// OnInsufficientCredits is called when a debit is rejected.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, accountID string, balance, delta int64) error
}

// OnEntitlementChecked is called when a spend check is evaluated.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, result *entitlement.Result) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseVerified is called after a purchase is credited and recorded.
type OnPurchaseVerified interface {
	Plugin
	OnPurchaseVerified(ctx context.Context, r *purchase.Record) error
}

// OnPurchaseRejected is called when a receipt fails verification, is
// pending or is a replay.
type OnPurchaseRejected interface {
	Plugin
	OnPurchaseRejected(ctx context.Context, receipt purchase.Receipt, reason error) error
}

// ──────────────────────────────────────────────────
// Generation hooks
// ──────────────────────────────────────────────────

// OnGenerationCompleted is called after a paid generation succeeds.
type OnGenerationCompleted interface {
	Plugin
	OnGenerationCompleted(ctx context.Context, accountID string, cost int64, elapsed time.Duration) error
}
