// Package extension provides the Forge extension adapter for Credits.
//
// It implements the forge.Extension interface to integrate Credits
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/credits"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/auth/local"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/mongo"
	"github.com/xraph/credits/store/postgres"
	"github.com/xraph/credits/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Guest and account credit reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Credits as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *credits.Reconciler
	verifier    *credits.Verifier
	store       store.Store
	groveDB     *grove.DB
	identity    *identity.Store
	auth        auth.Provider
	billing     billing.Verifier
	locks       lock.Locker
	creditsOpts []credits.Option
}

// New creates a new Credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Reconciler.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Reconciler { return e.engine }

// Verifier returns the purchase verifier, or nil without WithBilling.
func (e *Extension) Verifier() *credits.Verifier { return e.verifier }

// Register implements [forge.Extension]. It loads configuration,
// builds the reconciler, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*credits.Reconciler, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if e.verifier == nil {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (*credits.Verifier, error) {
		return e.verifier, nil
	})
}

// build resolves dependencies not set programmatically and constructs the
// reconciler and verifier.
func (e *Extension) build() error {
	if e.store == nil {
		s, err := buildStore(e.groveDB, e.config.Driver)
		if err != nil {
			return err
		}
		e.store = s
	}

	if e.identity == nil {
		if e.config.IdentityPath != "" {
			e.identity = identity.NewStore(identity.NewFileBackend(e.config.IdentityPath))
		} else {
			e.identity = identity.NewStore(identity.NewMemoryBackend())
		}
	}

	if e.auth == nil {
		if e.config.AuthSecret == "" {
			return errors.New("credits: auth_secret is required without an auth provider")
		}
		e.auth = local.New(e.config.AuthSecret)
	}

	e.engine = credits.New(e.store, e.identity, e.auth, e.buildCreditsOpts()...)

	if e.billing != nil {
		if e.locks == nil {
			e.locks = lock.NewMemory()
		}
		e.verifier = credits.NewVerifier(e.engine, e.billing, e.locks,
			credits.WithLockTTL(e.config.PurchaseLockTTL),
		)
	}
	return nil
}

// buildStore picks the store backend for db by driver name.
func buildStore(db *grove.DB, driver string) (store.Store, error) {
	if db == nil {
		return memory.New(), nil
	}
	switch strings.ToLower(driver) {
	case "postgres", "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo", "mongodb":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("credits: unsupported grove driver %q", driver)
	}
}

// Handler returns the HTTP API mounted under BasePath, or nil when routes
// are disabled. It is valid after Register.
func (e *Extension) Handler(opts ...api.Option) http.Handler {
	if e.config.DisableRoutes || e.engine == nil {
		return nil
	}
	if tv, ok := e.auth.(api.TokenValidator); ok {
		opts = append([]api.Option{api.WithTokenValidator(tv)}, opts...)
	}
	r := chi.NewRouter()
	r.Mount(e.config.BasePath, api.NewServer(e.engine, e.verifier, opts...).Handler())
	return r
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildCreditsOpts constructs credits.Option values from the resolved config.
func (e *Extension) buildCreditsOpts() []credits.Option {
	opts := make([]credits.Option, 0, len(e.creditsOpts)+2)

	if e.config.RemoteTimeout > 0 {
		opts = append(opts, credits.WithRemoteTimeout(e.config.RemoteTimeout))
	}
	if e.config.MaxRetries > 0 {
		opts = append(opts, credits.WithMaxRetries(e.config.MaxRetries))
	}

	// Append any pass-through credits options.
	opts = append(opts, e.creditsOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("remote_timeout", e.config.RemoteTimeout),
		forge.F("max_retries", e.config.MaxRetries),
		forge.F("driver", e.config.Driver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.credits", "credits"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind config",
			forge.F("key", key),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = defaults.RemoteTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.PurchaseLockTTL == 0 {
		cfg.PurchaseLockTTL = defaults.PurchaseLockTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.IdentityPath == "" {
		yamlConfig.IdentityPath = programmaticConfig.IdentityPath
	}
	if yamlConfig.AuthSecret == "" {
		yamlConfig.AuthSecret = programmaticConfig.AuthSecret
	}
	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}

	if yamlConfig.RemoteTimeout == 0 {
		yamlConfig.RemoteTimeout = programmaticConfig.RemoteTimeout
	}
	if yamlConfig.MaxRetries == 0 {
		yamlConfig.MaxRetries = programmaticConfig.MaxRetries
	}
	if yamlConfig.PurchaseLockTTL == 0 {
		yamlConfig.PurchaseLockTTL = programmaticConfig.PurchaseLockTTL
	}

	return mergeWithDefaults(yamlConfig)
}
