// Package usage defines the usage record and the storage contract for it.
package usage

import (
	"github.com/xraph/guard/id"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/types"
)

// Record is the usage of one feature by one subject.
//
// A nil Limit and a Limit of 0 both mean unlimited; the distinction is kept
// so the configured value round-trips unchanged.
type Record struct {
	types.Entity
	ID           id.UsageRecordID `json:"id"`
	SubjectID    string           `json:"subject_id"`
	FeatureSlug  string           `json:"feature_slug"`
	CurrentUsage int64            `json:"current_usage"`
	Limit        *int64           `json:"limit"`
}

// Key identifies a record.
type Key struct {
	SubjectID   string
	FeatureSlug string
}

// String renders the key as "subject/feature".
func (k Key) String() string { return k.SubjectID + "/" + k.FeatureSlug }

// NewRecord returns a zero-usage record for the key.
func NewRecord(subjectID, featureSlug string, l *limit.Limit) *Record {
	r := &Record{
		Entity:      types.NewEntity(),
		ID:          id.NewUsageRecordID(),
		SubjectID:   subjectID,
		FeatureSlug: featureSlug,
	}
	ApplyLimit(r, l)
	return r
}

// Key returns the record's (subject, feature) key.
func (r *Record) Key() Key {
	return Key{SubjectID: r.SubjectID, FeatureSlug: r.FeatureSlug}
}

// LimitValue returns the record's limit as a limit.Limit.
func (r *Record) LimitValue() limit.Limit { return limit.FromPtr(r.Limit) }

// Evaluate derives the limit evaluation for the current counter.
func (r *Record) Evaluate() limit.Evaluation {
	return limit.Evaluate(r.CurrentUsage, r.LimitValue())
}

// Clone returns a deep copy. Callers only ever see clones.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Limit != nil {
		n := *r.Limit
		c.Limit = &n
	}
	return &c
}
