// Package extension provides the Forge extension adapter for Guard.
//
// It implements the forge.Extension interface to integrate Guard
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.guard" or "guard" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/guard"
	"github.com/xraph/guard/api"
	"github.com/xraph/guard/store"
	"github.com/xraph/guard/store/memory"
	redisstore "github.com/xraph/guard/store/redis"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "guard"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Usage ledger and limit evaluation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Guard as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config    Config
	guard     *guard.Guard
	handler   *api.Handler
	store     store.Store
	guardOpts []guard.Option
}

// New creates a new Guard Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Guard returns the underlying Guard instance.
// This is nil until Register is called.
func (e *Extension) Guard() *guard.Guard { return e.guard }

// Handler returns the HTTP handler, or nil when routes are disabled.
// Mount it under Config().BasePath.
func (e *Extension) Handler() *api.Handler { return e.handler }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// initializes the guard, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.openStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	e.guard = guard.New(e.store, e.buildGuardOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*guard.Guard, error) {
		return e.guard, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}

	e.handler = api.NewHandler(e.guard)
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.handler, nil
	})
}

// Start implements [forge.Extension]. With migration disabled the store is
// only pinged.
func (e *Extension) Start(ctx context.Context) error {
	if e.guard == nil {
		return errors.New("guard: extension not initialized")
	}

	if e.config.DisableMigrate {
		if err := e.guard.Health(ctx); err != nil {
			return err
		}
	} else if err := e.guard.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.guard != nil {
		if err := e.guard.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.guard == nil {
		return errors.New("guard: store not initialized")
	}
	return e.guard.Health(ctx)
}

// openStore builds the configured backend.
func (e *Extension) openStore() (store.Store, error) {
	if e.config.RedisURL == "" {
		return memory.New(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := redisstore.Open(ctx, e.config.RedisURL, redisstore.WithKeyPrefix(e.config.RedisKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("guard: open redis store: %w", err)
	}
	return s, nil
}

// buildGuardOpts constructs guard.Option values from the resolved config.
func (e *Extension) buildGuardOpts() []guard.Option {
	opts := make([]guard.Option, 0, len(e.guardOpts)+2)

	if e.config.MutationTimeout > 0 {
		opts = append(opts, guard.WithMutationTimeout(e.config.MutationTimeout))
	}
	if e.config.PluginTimeout > 0 {
		opts = append(opts, guard.WithPluginTimeout(e.config.PluginTimeout))
	}

	// Pass-through options win over config.
	opts = append(opts, e.guardOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("guard: configuration is required but not found in config files; " +
				"ensure 'extensions.guard' or 'guard' key exists in your config")
		}

		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("guard: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("mutation_timeout", e.config.MutationTimeout),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("redis", e.config.RedisURL != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.guard", "guard"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("guard: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("guard: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.MutationTimeout == 0 {
		cfg.MutationTimeout = defaults.MutationTimeout
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = defaults.RedisKeyPrefix
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.RedisURL == "" {
		yamlConfig.RedisURL = programmaticConfig.RedisURL
	}
	if yamlConfig.RedisKeyPrefix == "" {
		yamlConfig.RedisKeyPrefix = programmaticConfig.RedisKeyPrefix
	}
	if yamlConfig.MutationTimeout == 0 {
		yamlConfig.MutationTimeout = programmaticConfig.MutationTimeout
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}

	return e.mergeWithDefaults(yamlConfig)
}
