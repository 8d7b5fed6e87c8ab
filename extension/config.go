package extension

import "time"

// Config holds the Guard extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.guard" or "guard" keys).
type Config struct {
	// DisableRoutes prevents the HTTP handler from being built and provided.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for usage routes (default: "/guard").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// MutationTimeout bounds each store write. Writes are detached from the
	// caller's cancellation, so this is their only deadline (default: 10s).
	MutationTimeout time.Duration `json:"mutation_timeout" mapstructure:"mutation_timeout" yaml:"mutation_timeout"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RedisURL selects the Redis store when no store was set
	// programmatically. Empty means the in-memory store.
	RedisURL string `json:"redis_url" mapstructure:"redis_url" yaml:"redis_url"`

	// RedisKeyPrefix namespaces Redis keys (default: "guard:").
	RedisKeyPrefix string `json:"redis_key_prefix" mapstructure:"redis_key_prefix" yaml:"redis_key_prefix"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:        "/guard",
		MutationTimeout: 10 * time.Second,
		PluginTimeout:   5 * time.Second,
		RedisKeyPrefix:  "guard:",
	}
}
