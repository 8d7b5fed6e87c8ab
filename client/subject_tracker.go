package client

import (
	"context"
	"time"

	"github.com/xraph/guard/usage"
)

// SubjectState is what a SubjectTracker currently knows.
type SubjectState struct {
	SubjectID string

	// Records is nil until the first successful fetch.
	Records []*usage.Record

	Loading   bool
	Err       error
	UpdatedAt time.Time
}

// HasData reports whether the list has been loaded.
func (s SubjectState) HasData() bool { return s.Records != nil }

// Find returns the record for featureSlug, or nil.
func (s SubjectState) Find(featureSlug string) *usage.Record {
	for _, r := range s.Records {
		if r.FeatureSlug == featureSlug {
			return r
		}
	}
	return nil
}

// SubjectTracker follows every feature record of one subject.
type SubjectTracker struct {
	svc Service
	w   *watcher[[]*usage.Record]
}

// NewSubjectTracker creates an idle tracker. Call Track to start following.
func NewSubjectTracker(svc Service, opts ...Option) *SubjectTracker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &SubjectTracker{svc: svc}
	t.w = newWatcher(o, t.fetch, cloneRecords)
	return t
}

// Track switches to a subject and fetches its records. An empty subject
// stops tracking.
func (t *SubjectTracker) Track(ctx context.Context, subjectID string) error {
	return t.w.retarget(ctx, target{subjectID: subjectID})
}

// State returns a snapshot of the tracker's state.
func (t *SubjectTracker) State() SubjectState {
	s := t.w.snapshot()
	st := SubjectState{
		SubjectID: s.key.subjectID,
		Loading:   s.loading,
		Err:       s.err,
		UpdatedAt: s.updatedAt,
	}
	if s.hasData {
		st.Records = s.data
	}
	return st
}

// Refresh refetches the subject's records.
func (t *SubjectTracker) Refresh(ctx context.Context) error {
	return t.w.refresh(ctx)
}

// Record adds amount to one of the subject's features and reloads the list.
func (t *SubjectTracker) Record(ctx context.Context, featureSlug string, amount int64) error {
	return t.w.mutate(ctx, "record", "Failed to update usage",
		func(ctx context.Context, key target) ([]*usage.Record, error) {
			if _, err := t.svc.RecordUsage(ctx, key.subjectID, featureSlug, amount); err != nil {
				return nil, err
			}
			return t.svc.ListUsageForSubject(ctx, key.subjectID)
		})
}

// Reset zeroes one of the subject's features and reloads the list.
func (t *SubjectTracker) Reset(ctx context.Context, featureSlug string) error {
	return t.w.mutate(ctx, "reset", "Failed to reset usage",
		func(ctx context.Context, key target) ([]*usage.Record, error) {
			if err := t.svc.ResetUsage(ctx, key.subjectID, featureSlug); err != nil {
				return nil, err
			}
			return t.svc.ListUsageForSubject(ctx, key.subjectID)
		})
}

// Close stops auto-refresh. The tracker cannot be reused.
func (t *SubjectTracker) Close() {
	t.w.close()
}

func (t *SubjectTracker) fetch(ctx context.Context, key target) ([]*usage.Record, error) {
	recs, err := t.svc.ListUsageForSubject(ctx, key.subjectID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*usage.Record{}
	}
	return recs, nil
}

func cloneRecords(in []*usage.Record) []*usage.Record {
	out := make([]*usage.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
