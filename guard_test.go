package guard_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/guard"
	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store/memory"
	"github.com/xraph/guard/usage"
)

// failingStore wraps a memory store and fails every call while broken.
type failingStore struct {
	*memory.Store
	broken bool
}

var errDown = errors.New("connection refused")

func (f *failingStore) EnsureUsage(ctx context.Context, s, feat string, l *limit.Limit) (*usage.Record, error) {
	if f.broken {
		return nil, errDown
	}
	return f.Store.EnsureUsage(ctx, s, feat, l)
}

func (f *failingStore) IncrementUsage(ctx context.Context, s, feat string, n int64, l *limit.Limit) (*usage.Record, error) {
	if f.broken {
		return nil, errDown
	}
	return f.Store.IncrementUsage(ctx, s, feat, n, l)
}

func (f *failingStore) ResetUsage(ctx context.Context, s, feat string, l *limit.Limit) (*usage.Record, error) {
	if f.broken {
		return nil, errDown
	}
	return f.Store.ResetUsage(ctx, s, feat, l)
}

func (f *failingStore) ListUsageBySubject(ctx context.Context, s string) ([]*usage.Record, error) {
	if f.broken {
		return nil, errDown
	}
	return f.Store.ListUsageBySubject(ctx, s)
}

// hookRecorder captures plugin events.
type hookRecorder struct {
	mu       sync.Mutex
	recorded []int64
	resets   int
	reached  []limit.Evaluation
	changes  [][2]limit.Severity
	checks   []*entitlement.Result
}

func (h *hookRecorder) Name() string { return "recorder" }

func (h *hookRecorder) OnUsageRecorded(_ context.Context, _ *usage.Record, amount int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, amount)
	return nil
}

func (h *hookRecorder) OnUsageReset(context.Context, *usage.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resets++
	return nil
}

func (h *hookRecorder) OnLimitReached(_ context.Context, _ *usage.Record, e limit.Evaluation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reached = append(h.reached, e)
	return nil
}

func (h *hookRecorder) OnSeverityChanged(_ context.Context, _ *usage.Record, from, to limit.Severity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, [2]limit.Severity{from, to})
	return nil
}

func (h *hookRecorder) OnEntitlementChecked(_ context.Context, r *entitlement.Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, r)
	return nil
}

func newGuard(t *testing.T, opts ...guard.Option) *guard.Guard {
	t.Helper()
	g := guard.New(memory.New(), opts...)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop() })
	return g
}

func TestGetUsageCreatesZeroRecord(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.CurrentUsage)
	assert.Nil(t, rec.Limit)

	again, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
}

func TestRecordUsageValidation(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)

	tests := []struct {
		name    string
		subject string
		feature string
		amount  int64
		field   string
	}{
		{"empty subject", "", "api_calls", 1, "subject_id"},
		{"blank subject", "   ", "api_calls", 1, "subject_id"},
		{"empty feature", "u1", "", 1, "feature_slug"},
		{"zero amount", "u1", "api_calls", 0, "amount"},
		{"negative amount", "u1", "api_calls", -5, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.RecordUsage(ctx, tt.subject, tt.feature, tt.amount)
			require.Error(t, err)
			assert.True(t, guard.IsValidation(err))
			assert.ErrorIs(t, err, guard.ErrInvalidInput)

			var ve guard.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	recs, err := g.ListUsageForSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, recs, "validation failures change nothing")
}

func TestRecordUsageOverflowRejected(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t, guard.WithResolver(policy.Static{"api_calls": limit.Of(10)}))

	_, err := g.RecordUsage(ctx, "u1", "api_calls", 5)
	require.NoError(t, err)

	_, err = g.RecordUsage(ctx, "u1", "api_calls", math.MaxInt64)
	require.Error(t, err)
	assert.True(t, guard.IsValidation(err))

	var ve guard.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.CurrentUsage)
}

func TestRecordUsageResolvesLimitEveryWrite(t *testing.T) {
	ctx := context.Background()
	overrides := policy.NewOverrides(policy.Static{"api_calls": limit.Of(100)})
	g := newGuard(t, guard.WithResolver(overrides))

	rec, err := g.RecordUsage(ctx, "u1", "api_calls", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), *rec.Limit)

	overrides.Set("u1", "api_calls", limit.Of(20))
	rec, err = g.RecordUsage(ctx, "u1", "api_calls", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.CurrentUsage)
	assert.Equal(t, int64(20), *rec.Limit)
	assert.Equal(t, float64(75), rec.Evaluate().Percentage)
}

func TestRecordUsageAllowsOverage(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t, guard.WithResolver(policy.Static{"seats": limit.Of(5)}))

	rec, err := g.RecordUsage(ctx, "org_1", "seats", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.CurrentUsage)

	e := rec.Evaluate()
	assert.True(t, e.Exceeded)
	assert.Equal(t, int64(0), e.Remaining)
	assert.Equal(t, float64(100), e.Percentage)
	assert.Equal(t, limit.SeverityLimitReached, e.Severity)
}

func TestRecordUsageWithLimit(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)

	rec, err := g.RecordUsageWithLimit(ctx, "u1", "storage", 30, limit.Of(0))
	require.NoError(t, err)
	require.NotNil(t, rec.Limit)
	assert.Equal(t, int64(0), *rec.Limit)
	assert.True(t, rec.LimitValue().IsUnlimited())
	assert.False(t, rec.Evaluate().Exceeded)

	_, err = g.RecordUsageWithLimit(ctx, "u1", "storage", 1, limit.Of(-1))
	assert.True(t, guard.IsValidation(err))
}

func TestIncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)

	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Increment(ctx, "u1", "api_calls")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.CurrentUsage)
}

func TestMutationSurvivesCallerCancellation(t *testing.T) {
	g := newGuard(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := g.RecordUsage(ctx, "u1", "api_calls", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.CurrentUsage)
}

func TestResetUsageIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t)

	_, err := g.RecordUsage(ctx, "u1", "api_calls", 9)
	require.NoError(t, err)

	require.NoError(t, g.ResetUsage(ctx, "u1", "api_calls"))
	require.NoError(t, g.ResetUsage(ctx, "u1", "api_calls"))
	require.NoError(t, g.ResetUsage(ctx, "u1", "never_used"))

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.CurrentUsage)
}

func TestResetUsageKeepsStoredLimitWhenResolverFails(t *testing.T) {
	ctx := context.Background()
	var failing bool
	resolver := policy.ResolverFunc(func(context.Context, string, policy.Subject) (limit.Limit, error) {
		if failing {
			return limit.Unlimited, errors.New("plan service down")
		}
		return limit.Of(50), nil
	})
	g := newGuard(t, guard.WithResolver(resolver))

	_, err := g.RecordUsage(ctx, "u1", "api_calls", 10)
	require.NoError(t, err)

	failing = true
	require.NoError(t, g.ResetUsage(ctx, "u1", "api_calls"))

	_, err = g.RecordUsage(ctx, "u1", "api_calls", 1)
	assert.True(t, guard.IsUnavailable(err))

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err, "reads never fail on the resolver")
	assert.Equal(t, int64(0), rec.CurrentUsage)
	assert.Equal(t, int64(50), *rec.Limit)
}

func TestListUsageForSubject(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t, guard.WithResolver(policy.Static{"seats": limit.Of(5)}))

	recs, err := g.ListUsageForSubject(ctx, "org_1")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	_, err = g.RecordUsage(ctx, "org_1", "seats", 2)
	require.NoError(t, err)
	_, err = g.RecordUsage(ctx, "org_1", "api_calls", 7)
	require.NoError(t, err)

	recs, err = g.ListUsageForSubject(ctx, "org_1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "api_calls", recs[0].FeatureSlug)
	assert.Nil(t, recs[0].Limit)
	assert.Equal(t, "seats", recs[1].FeatureSlug)
	assert.Equal(t, int64(5), *recs[1].Limit)
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: memory.New(), broken: true}
	g := guard.New(fs)

	_, err := g.GetUsage(ctx, "u1", "api_calls")
	assert.True(t, guard.IsUnavailable(err))
	assert.True(t, guard.IsRetryable(err))
	assert.ErrorIs(t, err, errDown)

	_, err = g.RecordUsage(ctx, "u1", "api_calls", 1)
	assert.True(t, guard.IsUnavailable(err))

	err = g.ResetUsage(ctx, "u1", "api_calls")
	assert.True(t, guard.IsUnavailable(err))

	_, err = g.ListUsageForSubject(ctx, "u1")
	assert.True(t, guard.IsUnavailable(err))
	assert.Equal(t, guard.KindUnavailable, guard.KindOf(err))
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	h := &hookRecorder{}
	g := newGuard(t,
		guard.WithResolver(policy.Static{"api_calls": limit.Of(10)}),
		guard.WithPlugin(h),
	)

	_, err := g.RecordUsage(ctx, "u1", "api_calls", 8)
	require.NoError(t, err)

	res, err := g.Check(ctx, "u1", "api_calls", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = g.Check(ctx, "u1", "api_calls", 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, entitlement.ReasonWouldExceed, res.Reason)

	rec, err := g.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.CurrentUsage, "check never mutates")

	h.mu.Lock()
	assert.Len(t, h.checks, 2)
	h.mu.Unlock()
}

func TestCheckHugeAmount(t *testing.T) {
	ctx := context.Background()
	g := newGuard(t, guard.WithResolver(policy.Static{"api_calls": limit.Of(10)}))

	_, err := g.RecordUsage(ctx, "u1", "api_calls", 5)
	require.NoError(t, err)

	res, err := g.Check(ctx, "u1", "api_calls", math.MaxInt64)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, entitlement.ReasonWouldExceed, res.Reason)
}

func TestEvaluateHonorsOrgContext(t *testing.T) {
	resolver := policy.ResolverFunc(func(_ context.Context, _ string, s policy.Subject) (limit.Limit, error) {
		if s.OrgID == "enterprise" {
			return limit.Unlimited, nil
		}
		return limit.Of(10), nil
	})
	g := newGuard(t, guard.WithResolver(resolver))

	ctx := context.Background()
	_, err := g.RecordUsage(ctx, "u1", "api_calls", 9)
	require.NoError(t, err)

	e, err := g.Evaluate(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, limit.SeverityCritical, e.Severity)

	e, err = g.Evaluate(guard.WithOrgID(ctx, "enterprise"), "u1", "api_calls")
	require.NoError(t, err)
	assert.True(t, e.Unlimited)
	assert.Equal(t, limit.UnlimitedRemaining, e.Remaining)
}

func TestPluginHooks(t *testing.T) {
	ctx := context.Background()
	h := &hookRecorder{}
	g := newGuard(t,
		guard.WithResolver(policy.Static{"api_calls": limit.Of(10)}),
		guard.WithPlugin(h),
	)

	steps := []int64{6, 1, 2, 1, 5}
	for _, n := range steps {
		_, err := g.RecordUsage(ctx, "u1", "api_calls", n)
		require.NoError(t, err)
	}
	require.NoError(t, g.ResetUsage(ctx, "u1", "api_calls"))

	h.mu.Lock()
	defer h.mu.Unlock()

	assert.Equal(t, steps, h.recorded)
	assert.Equal(t, 1, h.resets)
	require.Len(t, h.reached, 1, "reached fires once on the crossing")
	assert.Equal(t, int64(10), h.reached[0].Used)
	assert.Equal(t, [][2]limit.Severity{
		{limit.SeverityNormal, limit.SeverityWarning},
		{limit.SeverityWarning, limit.SeverityCritical},
		{limit.SeverityCritical, limit.SeverityLimitReached},
	}, h.changes)
}
