// Package observability provides a metrics extension for Credits that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/purchase"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated      = (*MetricsExtension)(nil)
	_ plugin.OnAccountPromoted     = (*MetricsExtension)(nil)
	_ plugin.OnSignedOut           = (*MetricsExtension)(nil)
	_ plugin.OnAccountDeleted      = (*MetricsExtension)(nil)
	_ plugin.OnBalanceAdjusted     = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked  = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseVerified    = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseRejected    = (*MetricsExtension)(nil)
	_ plugin.OnGenerationCompleted = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Credits plugin to track account and credit flow.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	GuestAccountsCreated      Counter
	RegisteredAccountsCreated Counter
	AccountsPromoted          Counter
	CreditsCarriedOver        Counter
	SignOuts                  Counter
	AccountsDeleted           Counter

	// Ledger metrics
	CreditsGranted      Counter
	CreditsConsumed     Counter
	LedgerEntries       Counter
	InsufficientCredits Counter

	// Entitlement metrics
	EntitlementChecks Counter
	EntitlementDenied Counter

	// Purchase metrics
	PurchasesVerified Counter
	PurchasesRestored Counter
	PurchasesRejected Counter
	PurchaseCredits   Histogram

	// Generation metrics
	Generations       Counter
	GenerationLatency Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		GuestAccountsCreated:      factory.Counter("credits.account.guest.created"),
		RegisteredAccountsCreated: factory.Counter("credits.account.registered.created"),
		AccountsPromoted:          factory.Counter("credits.account.promoted"),
		CreditsCarriedOver:        factory.Counter("credits.account.carried_over"),
		SignOuts:                  factory.Counter("credits.session.signed_out"),
		AccountsDeleted:           factory.Counter("credits.account.deleted"),

		// Ledger metrics
		CreditsGranted:      factory.Counter("credits.ledger.granted"),
		CreditsConsumed:     factory.Counter("credits.ledger.consumed"),
		LedgerEntries:       factory.Counter("credits.ledger.entries"),
		InsufficientCredits: factory.Counter("credits.ledger.insufficient"),

		// Entitlement metrics
		EntitlementChecks: factory.Counter("credits.entitlement.checks"),
		EntitlementDenied: factory.Counter("credits.entitlement.denied"),

		// Purchase metrics
		PurchasesVerified: factory.Counter("credits.purchase.verified"),
		PurchasesRestored: factory.Counter("credits.purchase.restored"),
		PurchasesRejected: factory.Counter("credits.purchase.rejected"),
		PurchaseCredits:   factory.Histogram("credits.purchase.credits"),

		// Generation metrics
		Generations:       factory.Counter("credits.generation.completed"),
		GenerationLatency: factory.Histogram("credits.generation.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, a *account.Account) error {
	if a.IsGuest {
		m.GuestAccountsCreated.Inc()
	} else {
		m.RegisteredAccountsCreated.Inc()
	}
	return nil
}

// OnAccountPromoted implements plugin.OnAccountPromoted.
func (m *MetricsExtension) OnAccountPromoted(_ context.Context, _ *account.Account, carriedOver int64) error {
	m.AccountsPromoted.Inc()
	if carriedOver > 0 {
		m.CreditsCarriedOver.Add(float64(carriedOver))
	}
	return nil
}

// OnSignedOut implements plugin.OnSignedOut.
func (m *MetricsExtension) OnSignedOut(_ context.Context, _ string) error {
	m.SignOuts.Inc()
	return nil
}

// OnAccountDeleted implements plugin.OnAccountDeleted.
func (m *MetricsExtension) OnAccountDeleted(_ context.Context, _ string) error {
	m.AccountsDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnBalanceAdjusted implements plugin.OnBalanceAdjusted.
func (m *MetricsExtension) OnBalanceAdjusted(_ context.Context, _ *account.Account, e *ledger.Entry) error {
	m.LedgerEntries.Inc()
	// Merge entries move credits between accounts and are not counted.
	switch {
	case e.Kind == ledger.KindMerge:
	case e.Amount > 0:
		m.CreditsGranted.Add(float64(e.Amount))
	default:
		m.CreditsConsumed.Add(float64(-e.Amount))
	}
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _ string, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, result *entitlement.Result) error {
	m.EntitlementChecks.Inc()
	if !result.Allowed {
		m.EntitlementDenied.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseVerified implements plugin.OnPurchaseVerified.
func (m *MetricsExtension) OnPurchaseVerified(_ context.Context, rec *purchase.Record) error {
	if rec.IsRestored {
		m.PurchasesRestored.Inc()
	} else {
		m.PurchasesVerified.Inc()
	}
	m.PurchaseCredits.Observe(float64(rec.CreditsGranted))
	return nil
}

// OnPurchaseRejected implements plugin.OnPurchaseRejected.
func (m *MetricsExtension) OnPurchaseRejected(_ context.Context, _ purchase.Receipt, _ error) error {
	m.PurchasesRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Generation hooks
// ──────────────────────────────────────────────────

// OnGenerationCompleted implements plugin.OnGenerationCompleted.
func (m *MetricsExtension) OnGenerationCompleted(_ context.Context, _ string, _ int64, elapsed time.Duration) error {
	m.Generations.Inc()
	m.GenerationLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
