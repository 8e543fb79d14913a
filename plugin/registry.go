package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
)

// DefaultTimeout bounds a single plugin hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onAccountCreated      []OnAccountCreated
	onAccountPromoted     []OnAccountPromoted
	onSignedOut           []OnSignedOut
	onAccountDeleted      []OnAccountDeleted
	onBalanceAdjusted     []OnBalanceAdjusted
	onInsufficientCredits []OnInsufficientCredits
	onEntitlementChecked  []OnEntitlementChecked
	onPurchaseVerified    []OnPurchaseVerified
	onPurchaseRejected    []OnPurchaseRejected
	onGenerationCompleted []OnGenerationCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnAccountPromoted); ok {
		r.onAccountPromoted = append(r.onAccountPromoted, v)
	}
	if v, ok := p.(OnSignedOut); ok {
		r.onSignedOut = append(r.onSignedOut, v)
	}
	if v, ok := p.(OnAccountDeleted); ok {
		r.onAccountDeleted = append(r.onAccountDeleted, v)
	}
	if v, ok := p.(OnBalanceAdjusted); ok {
		r.onBalanceAdjusted = append(r.onBalanceAdjusted, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnEntitlementChecked); ok {
		r.onEntitlementChecked = append(r.onEntitlementChecked, v)
	}
	if v, ok := p.(OnPurchaseVerified); ok {
		r.onPurchaseVerified = append(r.onPurchaseVerified, v)
	}
	if v, ok := p.(OnPurchaseRejected); ok {
		r.onPurchaseRejected = append(r.onPurchaseRejected, v)
	}
	if v, ok := p.(OnGenerationCompleted); ok {
		r.onGenerationCompleted = append(r.onGenerationCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnAccountCreated)(nil)).Elem(), "OnAccountCreated")
	checkInterface(reflect.TypeOf((*OnAccountPromoted)(nil)).Elem(), "OnAccountPromoted")
	checkInterface(reflect.TypeOf((*OnSignedOut)(nil)).Elem(), "OnSignedOut")
	checkInterface(reflect.TypeOf((*OnAccountDeleted)(nil)).Elem(), "OnAccountDeleted")
	checkInterface(reflect.TypeOf((*OnBalanceAdjusted)(nil)).Elem(), "OnBalanceAdjusted")
	checkInterface(reflect.TypeOf((*OnInsufficientCredits)(nil)).Elem(), "OnInsufficientCredits")
	checkInterface(reflect.TypeOf((*OnEntitlementChecked)(nil)).Elem(), "OnEntitlementChecked")
	checkInterface(reflect.TypeOf((*OnPurchaseVerified)(nil)).Elem(), "OnPurchaseVerified")
	checkInterface(reflect.TypeOf((*OnPurchaseRejected)(nil)).Elem(), "OnPurchaseRejected")
	checkInterface(reflect.TypeOf((*OnGenerationCompleted)(nil)).Elem(), "OnGenerationCompleted")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, reconciler interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(ctx, r, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, reconciler)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	r.mu.RLock()
	plugins := r.onAccountCreated
	r.mu.RUnlock()

	emit(ctx, r, "OnAccountCreated", plugins, func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

// EmitAccountPromoted emits an account promoted event.
func (r *Registry) EmitAccountPromoted(ctx context.Context, a *account.Account, carriedOver int64) {
	r.mu.RLock()
	plugins := r.onAccountPromoted
	r.mu.RUnlock()

	emit(ctx, r, "OnAccountPromoted", plugins, func(p OnAccountPromoted) error {
		return p.OnAccountPromoted(ctx, a, carriedOver)
	})
}

// EmitSignedOut emits a signed out event.
func (r *Registry) EmitSignedOut(ctx context.Context, accountID string) {
	r.mu.RLock()
	plugins := r.onSignedOut
	r.mu.RUnlock()

	emit(ctx, r, "OnSignedOut", plugins, func(p OnSignedOut) error {
		return p.OnSignedOut(ctx, accountID)
	})
}

// EmitAccountDeleted emits an account deleted event.
func (r *Registry) EmitAccountDeleted(ctx context.Context, accountID string) {
	r.mu.RLock()
	plugins := r.onAccountDeleted
	r.mu.RUnlock()

	emit(ctx, r, "OnAccountDeleted", plugins, func(p OnAccountDeleted) error {
		return p.OnAccountDeleted(ctx, accountID)
	})
}

// EmitBalanceAdjusted emits a balance adjusted event.
func (r *Registry) EmitBalanceAdjusted(ctx context.Context, a *account.Account, e *ledger.Entry) {
	r.mu.RLock()
	plugins := r.onBalanceAdjusted
	r.mu.RUnlock()

	emit(ctx, r, "OnBalanceAdjusted", plugins, func(p OnBalanceAdjusted) error {
		return p.OnBalanceAdjusted(ctx, a, e)
	})
}

// EmitInsufficientCredits emits an insufficient credits event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, accountID string, balance, delta int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	emit(ctx, r, "OnInsufficientCredits", plugins, func(p OnInsufficientCredits) error {
		return p.OnInsufficientCredits(ctx, accountID, balance, delta)
	})
}

// EmitEntitlementChecked emits an entitlement checked event.
func (r *Registry) EmitEntitlementChecked(ctx context.Context, result *entitlement.Result) {
	r.mu.RLock()
	plugins := r.onEntitlementChecked
	r.mu.RUnlock()

	emit(ctx, r, "OnEntitlementChecked", plugins, func(p OnEntitlementChecked) error {
		return p.OnEntitlementChecked(ctx, result)
	})
}

// EmitPurchaseVerified emits a purchase verified event.
func (r *Registry) EmitPurchaseVerified(ctx context.Context, rec *purchase.Record) {
	r.mu.RLock()
	plugins := r.onPurchaseVerified
	r.mu.RUnlock()

	emit(ctx, r, "OnPurchaseVerified", plugins, func(p OnPurchaseVerified) error {
		return p.OnPurchaseVerified(ctx, rec)
	})
}

// EmitPurchaseRejected emits a purchase rejected event.
func (r *Registry) EmitPurchaseRejected(ctx context.Context, receipt purchase.Receipt, reason error) {
	r.mu.RLock()
	plugins := r.onPurchaseRejected
	r.mu.RUnlock()

	emit(ctx, r, "OnPurchaseRejected", plugins, func(p OnPurchaseRejected) error {
		return p.OnPurchaseRejected(ctx, receipt, reason)
	})
}

// EmitGenerationCompleted emits a generation completed event.
func (r *Registry) EmitGenerationCompleted(ctx context.Context, accountID string, cost int64, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onGenerationCompleted
	r.mu.RUnlock()

	emit(ctx, r, "OnGenerationCompleted", plugins, func(p OnGenerationCompleted) error {
		return p.OnGenerationCompleted(ctx, accountID, cost, elapsed)
	})
}

// emit dispatches one hook to every plugin, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block credit operations.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
