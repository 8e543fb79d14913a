package extension

import "time"

// Config holds the Credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableRoutes prevents HTTP route construction.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for credits routes (default: "/credits").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// RemoteTimeout bounds each call to the remote store, auth provider or
	// billing service (default: 15s).
	RemoteTimeout time.Duration `json:"remote_timeout" mapstructure:"remote_timeout" yaml:"remote_timeout"`

	// MaxRetries is how often a conflicting balance update is retried
	// (default: 5).
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`

	// PurchaseLockTTL bounds how long one vendor transaction stays locked
	// while it is verified and credited (default: 1m).
	PurchaseLockTTL time.Duration `json:"purchase_lock_ttl" mapstructure:"purchase_lock_ttl" yaml:"purchase_lock_ttl"`

	// IdentityPath is the TOML file holding the installation identity.
	// When empty the identity lives in memory.
	IdentityPath string `json:"identity_path" mapstructure:"identity_path" yaml:"identity_path"`

	// AuthSecret signs session tokens issued by the local auth provider.
	AuthSecret string `json:"auth_secret" mapstructure:"auth_secret" yaml:"auth_secret"`

	// Driver selects the store built from a grove database:
	// "postgres", "sqlite" or "mongo". Ignored without WithGroveDB.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:        "/credits",
		RemoteTimeout:   15 * time.Second,
		MaxRetries:      5,
		PurchaseLockTTL: time.Minute,
	}
}
