package plan

import (
	"context"
	"fmt"

	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/policy"
)

// Source returns the plan that currently applies to a subject.
// A nil plan with a nil error means the subject has no plan.
type Source interface {
	PlanFor(ctx context.Context, subject policy.Subject) (*Plan, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, subject policy.Subject) (*Plan, error)

// PlanFor implements Source.
func (f SourceFunc) PlanFor(ctx context.Context, subject policy.Subject) (*Plan, error) {
	return f(ctx, subject)
}

// Resolver reads limits from the subject's plan on every call.
type Resolver struct {
	source   Source
	fallback policy.Resolver
}

var _ policy.Resolver = (*Resolver)(nil)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFallback sets the resolver consulted for subjects without a plan.
func WithFallback(r policy.Resolver) ResolverOption {
	return func(pr *Resolver) { pr.fallback = r }
}

// NewResolver creates a plan-backed limit resolver.
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{source: source}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLimit implements policy.Resolver. Subjects without a plan resolve
// through the fallback, or to unlimited when there is none.
func (r *Resolver) ResolveLimit(ctx context.Context, featureSlug string, subject policy.Subject) (limit.Limit, error) {
	p, err := r.source.PlanFor(ctx, subject)
	if err != nil {
		return limit.Unlimited, fmt.Errorf("plan: lookup for subject %q: %w", subject.ID, err)
	}
	if p == nil {
		if r.fallback != nil {
			return r.fallback.ResolveLimit(ctx, featureSlug, subject)
		}
		return limit.Unlimited, nil
	}
	return p.LimitFor(featureSlug), nil
}
