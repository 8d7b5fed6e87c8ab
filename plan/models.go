// Package plan models the plan configuration limits are read from.
// Plans are managed outside Guard; this package only reads them.
package plan

import (
	"github.com/xraph/guard/id"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

type Plan struct {
	types.Entity
	ID       id.PlanID         `json:"id"`
	Name     string            `json:"name"`
	Slug     string            `json:"slug"`
	Status   Status            `json:"status"`
	Features []Feature         `json:"features"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Feature is a named capability and its quota. A nil or zero Limit is
// unlimited.
type Feature struct {
	ID    id.FeatureID `json:"id"`
	Key   string       `json:"key"`
	Name  string       `json:"name"`
	Limit *int64       `json:"limit"`
}

func (p *Plan) FindFeature(key string) *Feature {
	for i := range p.Features {
		if p.Features[i].Key == key {
			return &p.Features[i]
		}
	}
	return nil
}

// LimitFor returns the feature's limit. Features the plan does not list
// are unlimited.
func (p *Plan) LimitFor(key string) limit.Limit {
	f := p.FindFeature(key)
	if f == nil {
		return limit.Unlimited
	}
	return limit.FromPtr(f.Limit)
}
