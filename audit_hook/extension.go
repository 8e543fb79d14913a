// Package audithook bridges Credits lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/purchase"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnAccountCreated      = (*Extension)(nil)
	_ plugin.OnAccountPromoted     = (*Extension)(nil)
	_ plugin.OnSignedOut           = (*Extension)(nil)
	_ plugin.OnAccountDeleted      = (*Extension)(nil)
	_ plugin.OnBalanceAdjusted     = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnEntitlementChecked  = (*Extension)(nil)
	_ plugin.OnPurchaseVerified    = (*Extension)(nil)
	_ plugin.OnPurchaseRejected    = (*Extension)(nil)
	_ plugin.OnGenerationCompleted = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Credits lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryIdentity, nil,
		"is_guest", a.IsGuest,
		"installation_id", a.LinkedInstallationID,
	)
}

// OnAccountPromoted implements plugin.OnAccountPromoted.
func (e *Extension) OnAccountPromoted(ctx context.Context, a *account.Account, carriedOver int64) error {
	return e.record(ctx, ActionAccountPromoted, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryIdentity, nil,
		"carried_over", carriedOver,
		"balance", a.CreditBalance,
	)
}

// OnSignedOut implements plugin.OnSignedOut.
func (e *Extension) OnSignedOut(ctx context.Context, accountID string) error {
	return e.record(ctx, ActionSignedOut, SeverityInfo, OutcomeSuccess,
		ResourceAccount, accountID, CategoryIdentity, nil,
	)
}

// OnAccountDeleted implements plugin.OnAccountDeleted.
func (e *Extension) OnAccountDeleted(ctx context.Context, accountID string) error {
	return e.record(ctx, ActionAccountDeleted, SeverityWarning, OutcomeSuccess,
		ResourceAccount, accountID, CategoryIdentity, nil,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnBalanceAdjusted implements plugin.OnBalanceAdjusted.
func (e *Extension) OnBalanceAdjusted(ctx context.Context, a *account.Account, entry *ledger.Entry) error {
	return e.record(ctx, ActionBalanceAdjusted, SeverityInfo, OutcomeSuccess,
		ResourceLedger, entry.ID.String(), CategoryCredits, nil,
		"account_id", a.ID.String(),
		"amount", entry.Amount,
		"kind", string(entry.Kind),
		"sequence", entry.Sequence,
		"balance_after", entry.BalanceAfter,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, accountID string, balance, delta int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceLedger, accountID, CategoryCredits, nil,
		"balance", balance,
		"delta", delta,
	)
}

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (e *Extension) OnEntitlementChecked(ctx context.Context, result *entitlement.Result) error {
	// Only denied checks are audited.
	if result.Allowed {
		return nil
	}
	return e.record(ctx, ActionEntitlementDenied, SeverityInfo, OutcomeFailure,
		ResourceEntitlement, result.AccountID, CategoryAccess, nil,
		"reason", result.Reason,
		"balance", result.Balance,
		"cost", result.Cost,
	)
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseVerified implements plugin.OnPurchaseVerified.
func (e *Extension) OnPurchaseVerified(ctx context.Context, rec *purchase.Record) error {
	return e.record(ctx, ActionPurchaseVerified, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, rec.VendorTransactionID, CategoryPayment, nil,
		"account_id", rec.AccountID.String(),
		"product_id", rec.ProductID,
		"credits", rec.CreditsGranted,
		"price", rec.Price.String(),
		"restored", rec.IsRestored,
	)
}

// OnPurchaseRejected implements plugin.OnPurchaseRejected.
func (e *Extension) OnPurchaseRejected(ctx context.Context, receipt purchase.Receipt, reason error) error {
	return e.record(ctx, ActionPurchaseRejected, SeverityWarning, OutcomeFailure,
		ResourcePurchase, receipt.VendorTransactionID, CategoryPayment, reason,
		"product_id", receipt.ProductID,
	)
}

// ──────────────────────────────────────────────────
// Generation hooks
// ──────────────────────────────────────────────────

// OnGenerationCompleted implements plugin.OnGenerationCompleted.
func (e *Extension) OnGenerationCompleted(ctx context.Context, accountID string, cost int64, elapsed time.Duration) error {
	return e.record(ctx, ActionGenerationCompleted, SeverityInfo, OutcomeSuccess,
		ResourceGeneration, accountID, CategoryUsage, nil,
		"cost", cost,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
