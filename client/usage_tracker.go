package client

import (
	"context"
	"time"

	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/usage"
)

// UsageState is what a UsageTracker currently knows.
type UsageState struct {
	SubjectID   string
	FeatureSlug string

	// Record is nil until the first successful fetch.
	Record     *usage.Record
	Evaluation limit.Evaluation

	Loading   bool
	Err       error
	UpdatedAt time.Time
}

// HasData reports whether a record has been loaded.
func (s UsageState) HasData() bool { return s.Record != nil }

// UsageTracker follows the usage of one feature by one subject.
type UsageTracker struct {
	svc Service
	w   *watcher[*usage.Record]
}

// NewUsageTracker creates an idle tracker. Call Track to start following.
func NewUsageTracker(svc Service, opts ...Option) *UsageTracker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &UsageTracker{svc: svc}
	t.w = newWatcher(o, t.fetch, (*usage.Record).Clone)
	return t
}

// Track switches to a subject and feature and fetches their usage. An empty
// subject or feature stops tracking; no request is made and auto-refresh is
// stopped until a complete target is set again.
func (t *UsageTracker) Track(ctx context.Context, subjectID, featureSlug string) error {
	return t.w.retarget(ctx, target{subjectID: subjectID, featureSlug: featureSlug, perFeature: true})
}

// State returns a snapshot of the tracker's state.
func (t *UsageTracker) State() UsageState {
	s := t.w.snapshot()
	st := UsageState{
		SubjectID:   s.key.subjectID,
		FeatureSlug: s.key.featureSlug,
		Loading:     s.loading,
		Err:         s.err,
		UpdatedAt:   s.updatedAt,
	}
	if s.hasData {
		st.Record = s.data
		st.Evaluation = s.data.Evaluate()
	}
	return st
}

// Refresh refetches the tracked record.
func (t *UsageTracker) Refresh(ctx context.Context) error {
	return t.w.refresh(ctx)
}

// Record adds amount to the tracked counter.
func (t *UsageTracker) Record(ctx context.Context, amount int64) error {
	return t.w.mutate(ctx, "record", "Failed to update usage",
		func(ctx context.Context, key target) (*usage.Record, error) {
			return t.svc.RecordUsage(ctx, key.subjectID, key.featureSlug, amount)
		})
}

// Reset zeroes the tracked counter and reloads it.
func (t *UsageTracker) Reset(ctx context.Context) error {
	return t.w.mutate(ctx, "reset", "Failed to reset usage",
		func(ctx context.Context, key target) (*usage.Record, error) {
			if err := t.svc.ResetUsage(ctx, key.subjectID, key.featureSlug); err != nil {
				return nil, err
			}
			return t.svc.GetUsage(ctx, key.subjectID, key.featureSlug)
		})
}

// Close stops auto-refresh. The tracker cannot be reused.
func (t *UsageTracker) Close() {
	t.w.close()
}

func (t *UsageTracker) fetch(ctx context.Context, key target) (*usage.Record, error) {
	return t.svc.GetUsage(ctx, key.subjectID, key.featureSlug)
}
