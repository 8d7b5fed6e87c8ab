package plan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plan"
	"github.com/xraph/guard/policy"
)

func int64p(n int64) *int64 { return &n }

func proPlan() *plan.Plan {
	return &plan.Plan{
		Name:   "Pro",
		Slug:   "pro",
		Status: plan.StatusActive,
		Features: []plan.Feature{
			{Key: "api_calls", Name: "API Calls", Limit: int64p(10000)},
			{Key: "seats", Name: "Seats", Limit: int64p(0)},
			{Key: "exports", Name: "Exports"},
		},
	}
}

func TestLimitFor(t *testing.T) {
	p := proPlan()

	assert.Equal(t, limit.Of(10000), p.LimitFor("api_calls"))
	assert.True(t, p.LimitFor("seats").IsUnlimited())
	assert.True(t, p.LimitFor("seats").IsSet())
	assert.False(t, p.LimitFor("exports").IsSet())
	assert.False(t, p.LimitFor("missing").IsSet())
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	plans := map[string]*plan.Plan{"org-1": proPlan()}
	r := plan.NewResolver(plan.SourceFunc(func(_ context.Context, s policy.Subject) (*plan.Plan, error) {
		return plans[s.OrgID], nil
	}))

	l, err := r.ResolveLimit(ctx, "api_calls", policy.Subject{ID: "7", OrgID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, limit.Of(10000), l)

	l, err = r.ResolveLimit(ctx, "api_calls", policy.Subject{ID: "7", OrgID: "org-2"})
	require.NoError(t, err)
	assert.True(t, l.IsUnlimited())
}

func TestResolverError(t *testing.T) {
	boom := errors.New("unreachable")
	r := plan.NewResolver(plan.SourceFunc(func(context.Context, policy.Subject) (*plan.Plan, error) {
		return nil, boom
	}))

	_, err := r.ResolveLimit(context.Background(), "api_calls", policy.Subject{ID: "7"})
	assert.ErrorIs(t, err, boom)
}

func TestResolverFallback(t *testing.T) {
	ctx := context.Background()
	plans := map[string]*plan.Plan{"org-1": proPlan()}
	r := plan.NewResolver(
		plan.SourceFunc(func(_ context.Context, s policy.Subject) (*plan.Plan, error) {
			return plans[s.OrgID], nil
		}),
		plan.WithFallback(policy.Static{"api_calls": limit.Of(100)}),
	)

	l, err := r.ResolveLimit(ctx, "api_calls", policy.Subject{ID: "7", OrgID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, limit.Of(10000), l)

	l, err = r.ResolveLimit(ctx, "api_calls", policy.Subject{ID: "8"})
	require.NoError(t, err)
	assert.Equal(t, limit.Of(100), l)

	// A plan that omits the feature does not fall through.
	l, err = r.ResolveLimit(ctx, "exports", policy.Subject{ID: "7", OrgID: "org-1"})
	require.NoError(t, err)
	assert.False(t, l.IsSet())
}
