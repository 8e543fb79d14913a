package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/credits"
	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the Credits Forge extension.
type Option func(*Extension)

// WithStore sets the remote account store.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from db using the configured Driver.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.Driver = driver
	}
}

// WithIdentity sets the local identity store.
func WithIdentity(ids *identity.Store) Option {
	return func(e *Extension) {
		e.identity = ids
	}
}

// WithAuth sets the authentication provider.
func WithAuth(p auth.Provider) Option {
	return func(e *Extension) {
		e.auth = p
	}
}

// WithBilling sets the billing verifier. Without it no Verifier is built.
func WithBilling(b billing.Verifier) Option {
	return func(e *Extension) {
		e.billing = b
	}
}

// WithLocker sets the purchase locker (default: in-process).
func WithLocker(l lock.Locker) Option {
	return func(e *Extension) {
		e.locks = l
	}
}

// WithCreditsOption passes a credits.Option through to the reconciler.
func WithCreditsOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.creditsOpts = append(e.creditsOpts, opt)
	}
}

// WithPlugin registers a credits plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.creditsOpts = append(e.creditsOpts, credits.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route construction.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for credits routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRemoteTimeout sets the timeout applied to each remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.RemoteTimeout = d }
}

// WithMaxRetries sets how often a conflicting balance update is retried.
func WithMaxRetries(n int) Option {
	return func(e *Extension) { e.config.MaxRetries = n }
}

// WithPurchaseLockTTL sets the per-transaction lock lifetime.
func WithPurchaseLockTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.PurchaseLockTTL = d }
}
