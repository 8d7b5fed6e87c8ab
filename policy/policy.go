// Package policy resolves the limit that applies to a subject's use of a
// feature. Limits come from plan and override configuration owned outside
// Guard; resolvers are read-only and are consulted on every write.
package policy

import (
	"context"
	"sync"

	"github.com/xraph/guard/limit"
)

// Subject is the context a resolver may use to pick a limit.
type Subject struct {
	ID    string
	OrgID string
}

// Resolver returns the limit for a feature.
type Resolver interface {
	ResolveLimit(ctx context.Context, featureSlug string, subject Subject) (limit.Limit, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, featureSlug string, subject Subject) (limit.Limit, error)

// ResolveLimit implements Resolver.
func (f ResolverFunc) ResolveLimit(ctx context.Context, featureSlug string, subject Subject) (limit.Limit, error) {
	return f(ctx, featureSlug, subject)
}

// Static resolves limits from a fixed feature table.
// Features missing from the table are unlimited.
type Static map[string]limit.Limit

// ResolveLimit implements Resolver.
func (s Static) ResolveLimit(_ context.Context, featureSlug string, _ Subject) (limit.Limit, error) {
	return s[featureSlug], nil
}

// Overrides layers per-subject feature limits over a base resolver.
type Overrides struct {
	base Resolver

	mu        sync.RWMutex
	overrides map[string]map[string]limit.Limit
}

// NewOverrides wraps base. A nil base resolves everything as unlimited.
func NewOverrides(base Resolver) *Overrides {
	return &Overrides{
		base:      base,
		overrides: make(map[string]map[string]limit.Limit),
	}
}

// Set overrides the limit of featureSlug for subjectID.
func (o *Overrides) Set(subjectID, featureSlug string, l limit.Limit) {
	o.mu.Lock()
	defer o.mu.Unlock()

	byFeature, ok := o.overrides[subjectID]
	if !ok {
		byFeature = make(map[string]limit.Limit)
		o.overrides[subjectID] = byFeature
	}
	byFeature[featureSlug] = l
}

// Clear removes an override.
func (o *Overrides) Clear(subjectID, featureSlug string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.overrides[subjectID], featureSlug)
	if len(o.overrides[subjectID]) == 0 {
		delete(o.overrides, subjectID)
	}
}

// ResolveLimit implements Resolver.
func (o *Overrides) ResolveLimit(ctx context.Context, featureSlug string, subject Subject) (limit.Limit, error) {
	o.mu.RLock()
	l, ok := o.overrides[subject.ID][featureSlug]
	o.mu.RUnlock()
	if ok {
		return l, nil
	}
	if o.base == nil {
		return limit.Unlimited, nil
	}
	return o.base.ResolveLimit(ctx, featureSlug, subject)
}
