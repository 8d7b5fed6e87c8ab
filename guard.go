package guard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plugin"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store"
	"github.com/xraph/guard/usage"
)

// Guard is the usage ledger. It owns every mutation of usage records and
// hands callers snapshots only.
type Guard struct {
	store    store.Store
	resolver policy.Resolver
	plugins  *plugin.Registry
	logger   *slog.Logger

	mutationTimeout time.Duration
}

// New creates a new Guard instance.
func New(s store.Store, opts ...Option) *Guard {
	g := &Guard{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		mutationTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Option configures a Guard instance.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
		g.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(g *Guard) {
		_ = g.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithResolver sets the limit resolver consulted on every write.
// Without one, records keep whatever limit was last stored.
func WithResolver(r policy.Resolver) Option {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithMutationTimeout bounds a single store mutation. Mutations are
// detached from the caller's cancellation so an abandoned request still
// commits; this timeout is what stops a hung store.
func WithMutationTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.mutationTimeout = d
	}
}

// WithPluginTimeout bounds a single plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.plugins.WithTimeout(d)
	}
}

// Start migrates the store and initializes plugins.
func (g *Guard) Start(ctx context.Context) error {
	if err := g.store.Migrate(ctx); err != nil {
		return unavailable("migrate", err)
	}

	g.plugins.EmitInit(ctx, g)

	g.logger.Info("guard started",
		"plugins", g.plugins.Count(),
		"resolver", g.resolver != nil,
		"mutation_timeout", g.mutationTimeout,
	)

	return nil
}

// Stop shuts plugins down and closes the store.
func (g *Guard) Stop() error {
	g.plugins.EmitShutdown(context.Background())
	return g.store.Close()
}

// Health pings the store.
func (g *Guard) Health(ctx context.Context) error {
	return unavailable("ping", g.store.Ping(ctx))
}

// ──────────────────────────────────────────────────
// Usage ledger
// ──────────────────────────────────────────────────

// GetUsage returns the subject's usage of a feature. A record is created
// with zero usage on first read, so concurrent first reads agree on one
// record. Only store unavailability fails.
func (g *Guard) GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	if err := validateKey(subjectID, featureSlug); err != nil {
		return nil, err
	}

	rec, err := g.store.EnsureUsage(ctx, subjectID, featureSlug, nil)
	if err != nil {
		return nil, unavailable("get usage", err)
	}

	g.overlayLimit(ctx, rec)
	return rec.Clone(), nil
}

// RecordUsage atomically adds amount to the counter and returns the new
// snapshot. The limit is resolved afresh and stored on the record, but it is
// not enforced: usage past the limit is recorded as overage. Callers that
// want to block call Check first.
func (g *Guard) RecordUsage(ctx context.Context, subjectID, featureSlug string, amount int64) (*usage.Record, error) {
	if err := validateRecord(subjectID, featureSlug, amount); err != nil {
		return nil, err
	}

	l, err := g.resolve(ctx, subjectID, featureSlug)
	if err != nil {
		return nil, err
	}

	return g.record(ctx, subjectID, featureSlug, amount, l)
}

// RecordUsageWithLimit is RecordUsage with a limit the caller already
// resolved. No resolver is consulted.
func (g *Guard) RecordUsageWithLimit(ctx context.Context, subjectID, featureSlug string, amount int64, l limit.Limit) (*usage.Record, error) {
	if err := validateRecord(subjectID, featureSlug, amount); err != nil {
		return nil, err
	}
	if !l.Valid() {
		return nil, ValidationError{Field: "limit", Message: "must not be negative"}
	}

	return g.record(ctx, subjectID, featureSlug, amount, &l)
}

// Increment records a single unit of usage.
func (g *Guard) Increment(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	return g.RecordUsage(ctx, subjectID, featureSlug, 1)
}

// ResetUsage sets the counter to zero, creating the record if needed.
// Resetting twice is not an error.
func (g *Guard) ResetUsage(ctx context.Context, subjectID, featureSlug string) error {
	if err := validateKey(subjectID, featureSlug); err != nil {
		return err
	}

	l, err := g.resolve(ctx, subjectID, featureSlug)
	if err != nil {
		g.logger.Warn("reset keeps stored limit",
			"subject_id", subjectID,
			"feature", featureSlug,
			"error", err,
		)
		l = nil
	}

	mctx, cancel := g.mutationContext(ctx)
	defer cancel()

	rec, err := g.store.ResetUsage(mctx, subjectID, featureSlug, l)
	if err != nil {
		return unavailable("reset usage", err)
	}

	g.plugins.EmitUsageReset(ctx, rec)
	g.logger.Debug("usage reset",
		"subject_id", subjectID,
		"feature", featureSlug,
	)
	return nil
}

// ListUsageForSubject returns snapshots of all the subject's records,
// ordered by feature slug. The result is empty, not nil, when the subject
// has no usage.
func (g *Guard) ListUsageForSubject(ctx context.Context, subjectID string) ([]*usage.Record, error) {
	if err := validateSubject(subjectID); err != nil {
		return nil, err
	}

	recs, err := g.store.ListUsageBySubject(ctx, subjectID)
	if err != nil {
		return nil, unavailable("list usage", err)
	}

	out := make([]*usage.Record, 0, len(recs))
	for _, rec := range recs {
		g.overlayLimit(ctx, rec)
		out = append(out, rec.Clone())
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Limit decisions
// ──────────────────────────────────────────────────

// Evaluate returns the limit evaluation for the subject's current usage.
func (g *Guard) Evaluate(ctx context.Context, subjectID, featureSlug string) (limit.Evaluation, error) {
	rec, err := g.GetUsage(ctx, subjectID, featureSlug)
	if err != nil {
		return limit.Evaluation{}, err
	}
	return rec.Evaluate(), nil
}

// Check reports whether amount more units fit under the freshly resolved
// limit. It never mutates the counter.
func (g *Guard) Check(ctx context.Context, subjectID, featureSlug string, amount int64) (*entitlement.Result, error) {
	if err := validateRecord(subjectID, featureSlug, amount); err != nil {
		return nil, err
	}

	rec, err := g.store.EnsureUsage(ctx, subjectID, featureSlug, nil)
	if err != nil {
		return nil, unavailable("check usage", err)
	}

	l, err := g.resolve(ctx, subjectID, featureSlug)
	if err != nil {
		return nil, err
	}
	usage.ApplyLimit(rec, l)

	result := entitlement.Decide(subjectID, featureSlug, amount, rec.Evaluate())
	g.plugins.EmitEntitlementChecked(ctx, result)
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (g *Guard) record(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	mctx, cancel := g.mutationContext(ctx)
	defer cancel()

	rec, err := g.store.IncrementUsage(mctx, subjectID, featureSlug, amount, l)
	if errors.Is(err, ErrCounterOverflow) {
		return nil, ValidationError{Field: "amount", Message: "would overflow the usage counter"}
	}
	if err != nil {
		return nil, unavailable("record usage", err)
	}

	after := rec.Evaluate()
	before := limit.Evaluate(rec.CurrentUsage-amount, rec.LimitValue())

	g.plugins.EmitUsageRecorded(ctx, rec, amount)
	if after.Exceeded && !before.Exceeded {
		g.plugins.EmitLimitReached(ctx, rec, after)
		g.logger.Info("usage limit reached",
			"subject_id", subjectID,
			"feature", featureSlug,
			"used", rec.CurrentUsage,
			"limit", rec.LimitValue().String(),
		)
	}
	if after.Severity != before.Severity {
		g.plugins.EmitSeverityChanged(ctx, rec, before.Severity, after.Severity)
	}

	g.logger.Debug("usage recorded",
		"subject_id", subjectID,
		"feature", featureSlug,
		"amount", amount,
		"used", rec.CurrentUsage,
	)

	return rec.Clone(), nil
}

// resolve returns nil when no resolver is configured.
func (g *Guard) resolve(ctx context.Context, subjectID, featureSlug string) (*limit.Limit, error) {
	if g.resolver == nil {
		return nil, nil
	}

	l, err := g.resolver.ResolveLimit(ctx, featureSlug, subjectFrom(ctx, subjectID))
	if err != nil {
		return nil, unavailable("resolve limit", err)
	}
	if !l.Valid() {
		return nil, unavailable("resolve limit", ErrResolverFailed)
	}
	return &l, nil
}

// overlayLimit replaces rec's stored limit with the current policy.
// Reads never fail because of the resolver.
func (g *Guard) overlayLimit(ctx context.Context, rec *usage.Record) {
	l, err := g.resolve(ctx, rec.SubjectID, rec.FeatureSlug)
	if err != nil {
		g.logger.Warn("serving stored limit",
			"subject_id", rec.SubjectID,
			"feature", rec.FeatureSlug,
			"error", err,
		)
		return
	}
	usage.ApplyLimit(rec, l)
}

func (g *Guard) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.mutationTimeout)
}

func validateSubject(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return ValidationError{Field: "subject_id", Message: "is required"}
	}
	return nil
}

func validateKey(subjectID, featureSlug string) error {
	if err := validateSubject(subjectID); err != nil {
		return err
	}
	if strings.TrimSpace(featureSlug) == "" {
		return ValidationError{Field: "feature_slug", Message: "is required"}
	}
	return nil
}

func validateRecord(subjectID, featureSlug string, amount int64) error {
	if err := validateKey(subjectID, featureSlug); err != nil {
		return err
	}
	if amount <= 0 {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}
