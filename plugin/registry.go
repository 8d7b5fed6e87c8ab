package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/usage"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry holds registered plugins and dispatches hooks to them.
// Hook lists are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit               []OnInit
	onShutdown           []OnShutdown
	onUsageRecorded      []OnUsageRecorded
	onUsageReset         []OnUsageReset
	onLimitReached       []OnLimitReached
	onSeverityChanged    []OnSeverityChanged
	onEntitlementChecked []OnEntitlementChecked
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

// Register adds a plugin and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
		hooks = append(hooks, "OnUsageRecorded")
	}
	if v, ok := p.(OnUsageReset); ok {
		r.onUsageReset = append(r.onUsageReset, v)
		hooks = append(hooks, "OnUsageReset")
	}
	if v, ok := p.(OnLimitReached); ok {
		r.onLimitReached = append(r.onLimitReached, v)
		hooks = append(hooks, "OnLimitReached")
	}
	if v, ok := p.(OnSeverityChanged); ok {
		r.onSeverityChanged = append(r.onSeverityChanged, v)
		hooks = append(hooks, "OnSeverityChanged")
	}
	if v, ok := p.(OnEntitlementChecked); ok {
		r.onEntitlementChecked = append(r.onEntitlementChecked, v)
		hooks = append(hooks, "OnEntitlementChecked")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
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
// Event emission
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, g interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInit", p.Name(), func() error {
			return p.OnInit(ctx, g)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnShutdown", p.Name(), func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitUsageRecorded calls OnUsageRecorded for all plugins that implement it.
func (r *Registry) EmitUsageRecorded(ctx context.Context, rec *usage.Record, amount int64) {
	r.mu.RLock()
	plugins := r.onUsageRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		snap := rec.Clone()
		r.dispatch(ctx, "OnUsageRecorded", p.Name(), func() error {
			return p.OnUsageRecorded(ctx, snap, amount)
		})
	}
}

// EmitUsageReset calls OnUsageReset for all plugins that implement it.
func (r *Registry) EmitUsageReset(ctx context.Context, rec *usage.Record) {
	r.mu.RLock()
	plugins := r.onUsageReset
	r.mu.RUnlock()

	for _, p := range plugins {
		snap := rec.Clone()
		r.dispatch(ctx, "OnUsageReset", p.Name(), func() error {
			return p.OnUsageReset(ctx, snap)
		})
	}
}

// EmitLimitReached calls OnLimitReached for all plugins that implement it.
func (r *Registry) EmitLimitReached(ctx context.Context, rec *usage.Record, eval limit.Evaluation) {
	r.mu.RLock()
	plugins := r.onLimitReached
	r.mu.RUnlock()

	for _, p := range plugins {
		snap := rec.Clone()
		r.dispatch(ctx, "OnLimitReached", p.Name(), func() error {
			return p.OnLimitReached(ctx, snap, eval)
		})
	}
}

// EmitSeverityChanged calls OnSeverityChanged for all plugins that implement it.
func (r *Registry) EmitSeverityChanged(ctx context.Context, rec *usage.Record, from, to limit.Severity) {
	r.mu.RLock()
	plugins := r.onSeverityChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		snap := rec.Clone()
		r.dispatch(ctx, "OnSeverityChanged", p.Name(), func() error {
			return p.OnSeverityChanged(ctx, snap, from, to)
		})
	}
}

// EmitEntitlementChecked calls OnEntitlementChecked for all plugins that implement it.
func (r *Registry) EmitEntitlementChecked(ctx context.Context, result *entitlement.Result) {
	r.mu.RLock()
	plugins := r.onEntitlementChecked
	r.mu.RUnlock()

	for _, p := range plugins {
		res := *result
		r.dispatch(ctx, "OnEntitlementChecked", p.Name(), func() error {
			return p.OnEntitlementChecked(ctx, &res)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin hook failed",
			"hook", hook,
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins never block the write path for longer than r.timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
