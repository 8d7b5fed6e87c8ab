// Package plugin provides an extensible plugin system for Guard.
// Plugins hook into usage lifecycle events; a plugin implements only the
// hook interfaces it cares about.
package plugin

import (
	"context"

	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/usage"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the Guard starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, g interface{}) error
}

// OnShutdown is called when the Guard stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after usage was committed.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, rec *usage.Record, amount int64) error
}

// OnUsageReset is called after a counter was reset.
type OnUsageReset interface {
	Plugin
	OnUsageReset(ctx context.Context, rec *usage.Record) error
}

// ──────────────────────────────────────────────────
// Limit hooks
// ──────────────────────────────────────────────────

// OnLimitReached is called when a write moves a counter from below its
// limit to at or over it.
type OnLimitReached interface {
	Plugin
	OnLimitReached(ctx context.Context, rec *usage.Record, eval limit.Evaluation) error
}

// OnSeverityChanged is called when a write moves a counter into another
// severity band.
type OnSeverityChanged interface {
	Plugin
	OnSeverityChanged(ctx context.Context, rec *usage.Record, from, to limit.Severity) error
}

// OnEntitlementChecked is called after a pre-check.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, result *entitlement.Result) error
}
