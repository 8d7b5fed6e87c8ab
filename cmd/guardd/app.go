package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xraph/guard/id"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plan"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store"
	"github.com/xraph/guard/store/memory"
	redisstore "github.com/xraph/guard/store/redis"
	"github.com/xraph/guard/types"
)

// openStore opens the configured usage backend.
func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Store {
	case "redis":
		s, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.WithKeyPrefix(cfg.RedisKeyPrefix))
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// buildResolver serves limits from the configured plans, falling back to
// the flat limits table for subjects without a plan. Config keys arrive
// lowercased, so lookups are case-insensitive.
func buildResolver(cfg *Config) policy.Resolver {
	fallback := make(policy.Static, len(cfg.Limits))
	for feature, n := range cfg.Limits {
		fallback[feature] = limit.Of(n)
	}
	if len(cfg.Plans) == 0 {
		return foldCase(fallback)
	}

	catalog := memory.New()
	for slug, features := range cfg.Plans {
		catalog.PutPlan(buildPlan(slug, features))
	}
	for subjectID, slug := range cfg.Assignments {
		catalog.AssignPlan(subjectID, slug)
	}
	return foldCase(plan.NewResolver(catalog, plan.WithFallback(fallback)))
}

// foldCase lowercases the feature slug and subject IDs before resolving.
func foldCase(r policy.Resolver) policy.Resolver {
	return policy.ResolverFunc(func(ctx context.Context, featureSlug string, s policy.Subject) (limit.Limit, error) {
		return r.ResolveLimit(ctx, strings.ToLower(featureSlug), policy.Subject{
			ID:    strings.ToLower(s.ID),
			OrgID: strings.ToLower(s.OrgID),
		})
	})
}

func buildPlan(slug string, features map[string]int64) *plan.Plan {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &plan.Plan{
		Entity:   types.NewEntity(),
		ID:       id.NewPlanID(),
		Name:     slug,
		Slug:     slug,
		Status:   plan.StatusActive,
		Features: make([]plan.Feature, 0, len(keys)),
	}
	for _, k := range keys {
		n := features[k]
		p.Features = append(p.Features, plan.Feature{
			ID:    id.NewFeatureID(),
			Key:   k,
			Name:  k,
			Limit: &n,
		})
	}
	return p
}
