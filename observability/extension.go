// Package observability provides a metrics plugin for Guard that records
// usage lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plugin"
	"github.com/xraph/guard/usage"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded      = (*MetricsExtension)(nil)
	_ plugin.OnUsageReset         = (*MetricsExtension)(nil)
	_ plugin.OnLimitReached       = (*MetricsExtension)(nil)
	_ plugin.OnSeverityChanged    = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked = (*MetricsExtension)(nil)
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

// MetricsExtension records usage lifecycle metrics.
// Register it as a Guard plugin to track usage automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Usage metrics
	UsageRecorded Counter
	UsageUnits    Counter
	UsageAmount   Histogram
	UsageResets   Counter

	// Limit metrics
	LimitReached     Counter
	SeverityWarning  Counter
	SeverityCritical Counter
	UsagePercentage  Histogram

	// Entitlement metrics
	EntitlementChecks Counter
	EntitlementDenied Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Usage metrics
		UsageRecorded: factory.Counter("guard.usage.recorded"),
		UsageUnits:    factory.Counter("guard.usage.units"),
		UsageAmount:   factory.Histogram("guard.usage.amount"),
		UsageResets:   factory.Counter("guard.usage.resets"),

		// Limit metrics
		LimitReached:     factory.Counter("guard.limit.reached"),
		SeverityWarning:  factory.Counter("guard.severity.warning"),
		SeverityCritical: factory.Counter("guard.severity.critical"),
		UsagePercentage:  factory.Histogram("guard.usage.percentage"),

		// Entitlement metrics
		EntitlementChecks: factory.Counter("guard.entitlement.checks"),
		EntitlementDenied: factory.Counter("guard.entitlement.denied"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Usage lifecycle hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, rec *usage.Record, amount int64) error {
	m.UsageRecorded.Inc()
	m.UsageUnits.Add(float64(amount))
	m.UsageAmount.Observe(float64(amount))

	if e := rec.Evaluate(); !e.Unlimited {
		m.UsagePercentage.Observe(e.Percentage)
	}
	return nil
}

// OnUsageReset implements plugin.OnUsageReset.
func (m *MetricsExtension) OnUsageReset(_ context.Context, _ *usage.Record) error {
	m.UsageResets.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Limit lifecycle hooks
// ──────────────────────────────────────────────────

// OnLimitReached implements plugin.OnLimitReached.
func (m *MetricsExtension) OnLimitReached(_ context.Context, _ *usage.Record, _ limit.Evaluation) error {
	m.LimitReached.Inc()
	return nil
}

// OnSeverityChanged implements plugin.OnSeverityChanged. Entries into the
// warning and critical bands are counted.
func (m *MetricsExtension) OnSeverityChanged(_ context.Context, _ *usage.Record, _, to limit.Severity) error {
	switch to {
	case limit.SeverityWarning:
		m.SeverityWarning.Inc()
	case limit.SeverityCritical:
		m.SeverityCritical.Inc()
	}
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
