package extension

import (
	"time"

	"github.com/xraph/guard"
	"github.com/xraph/guard/plugin"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store"
)

// Option configures the Guard Forge extension.
type Option func(*Extension)

// WithStore sets the store for the guard. It takes precedence over
// RedisURL.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithResolver sets the limit resolver consulted on every write.
func WithResolver(r policy.Resolver) Option {
	return func(e *Extension) {
		e.guardOpts = append(e.guardOpts, guard.WithResolver(r))
	}
}

// WithGuardOption passes a guard.Option through to the underlying Guard.
func WithGuardOption(opt guard.Option) Option {
	return func(e *Extension) {
		e.guardOpts = append(e.guardOpts, opt)
	}
}

// WithPlugin registers a guard plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.guardOpts = append(e.guardOpts, guard.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the HTTP handler from being provided.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for usage routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMutationTimeout bounds each store write.
func WithMutationTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.MutationTimeout = d }
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithRedisURL selects the Redis store.
func WithRedisURL(url string) Option {
	return func(e *Extension) { e.config.RedisURL = url }
}
