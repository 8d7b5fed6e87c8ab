// Package audithook bridges Guard usage events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit backend. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plugin"
	"github.com/xraph/guard/usage"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnUsageRecorded      = (*Extension)(nil)
	_ plugin.OnUsageReset         = (*Extension)(nil)
	_ plugin.OnLimitReached       = (*Extension)(nil)
	_ plugin.OnSeverityChanged    = (*Extension)(nil)
	_ plugin.OnEntitlementChecked = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Guard usage events to an audit trail backend.
type Extension struct {
	recorder Recorder
	filter   filter
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Usage lifecycle hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (e *Extension) OnUsageRecorded(ctx context.Context, rec *usage.Record, amount int64) error {
	return e.record(ctx, ActionUsageRecorded, SeverityInfo, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryUsage, "",
		"subject_id", rec.SubjectID,
		"feature", rec.FeatureSlug,
		"amount", amount,
		"used", rec.CurrentUsage,
	)
}

// OnUsageReset implements plugin.OnUsageReset.
func (e *Extension) OnUsageReset(ctx context.Context, rec *usage.Record) error {
	return e.record(ctx, ActionUsageReset, SeverityInfo, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryUsage, "",
		"subject_id", rec.SubjectID,
		"feature", rec.FeatureSlug,
	)
}

// ──────────────────────────────────────────────────
// Limit lifecycle hooks
// ──────────────────────────────────────────────────

// OnLimitReached implements plugin.OnLimitReached.
func (e *Extension) OnLimitReached(ctx context.Context, rec *usage.Record, eval limit.Evaluation) error {
	return e.record(ctx, ActionLimitReached, SeverityWarning, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryUsage, "",
		"subject_id", rec.SubjectID,
		"feature", rec.FeatureSlug,
		"used", eval.Used,
		"limit", eval.Limit.String(),
	)
}

// OnSeverityChanged implements plugin.OnSeverityChanged.
func (e *Extension) OnSeverityChanged(ctx context.Context, rec *usage.Record, from, to limit.Severity) error {
	severity := SeverityInfo
	switch to {
	case limit.SeverityCritical:
		severity = SeverityWarning
	case limit.SeverityLimitReached:
		severity = SeverityCritical
	}

	return e.record(ctx, ActionSeverityChanged, severity, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryUsage, "",
		"subject_id", rec.SubjectID,
		"feature", rec.FeatureSlug,
		"from", string(from),
		"to", string(to),
	)
}

// ──────────────────────────────────────────────────
// Entitlement lifecycle hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (e *Extension) OnEntitlementChecked(ctx context.Context, result *entitlement.Result) error {
	// Only audit denied checks to reduce noise
	if result.Allowed {
		return nil
	}
	return e.record(ctx, ActionEntitlementDenied, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, result.Feature, CategoryAccess, result.Reason,
		"subject_id", result.SubjectID,
		"feature", result.Feature,
		"amount", result.Amount,
		"used", result.Evaluation.Used,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the filter allows it.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if !e.filter.allows(action, severity) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
