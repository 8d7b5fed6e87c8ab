// Package memory provides an in-process Store for tests, demos and
// single-instance deployments. Nothing survives a restart.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xraph/guard"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/plan"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

var (
	_ store.Store = (*Store)(nil)
	_ plan.Source = (*Store)(nil)
)

// entry guards one record. The map lock is only held to find or create an
// entry, so keys never wait on each other.
type entry struct {
	mu  sync.Mutex
	rec *usage.Record
}

type Store struct {
	mu sync.RWMutex

	// Usage storage
	records   map[usage.Key]*entry
	bySubject map[string]map[string]struct{}

	// Plan catalog
	plans       map[string]*plan.Plan
	assignments map[string]string
}

func New() *Store {
	return &Store{
		records:     make(map[usage.Key]*entry),
		bySubject:   make(map[string]map[string]struct{}),
		plans:       make(map[string]*plan.Plan),
		assignments: make(map[string]string),
	}
}

// Usage Store implementation

func (s *Store) GetUsage(_ context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	s.mu.RLock()
	e, ok := s.records[usage.Key{SubjectID: subjectID, FeatureSlug: featureSlug}]
	s.mu.RUnlock()
	if !ok {
		return nil, guard.ErrRecordNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) UpsertUsage(_ context.Context, r *usage.Record) (*usage.Record, error) {
	e := s.entry(r.SubjectID, r.FeatureSlug, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := r.Clone()
	next.ID = e.rec.ID
	next.CreatedAt = e.rec.CreatedAt
	next.UpdatedAt = types.Now()
	e.rec = next
	return next.Clone(), nil
}

func (s *Store) EnsureUsage(_ context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	e := s.entry(subjectID, featureSlug, l)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) IncrementUsage(_ context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	e := s.entry(subjectID, featureSlug, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	if amount > math.MaxInt64-e.rec.CurrentUsage {
		return nil, guard.ErrCounterOverflow
	}
	e.rec.CurrentUsage += amount
	usage.ApplyLimit(e.rec, l)
	e.rec.Touch()
	return e.rec.Clone(), nil
}

func (s *Store) ResetUsage(_ context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	e := s.entry(subjectID, featureSlug, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rec.CurrentUsage = 0
	usage.ApplyLimit(e.rec, l)
	e.rec.Touch()
	return e.rec.Clone(), nil
}

func (s *Store) ListUsageBySubject(_ context.Context, subjectID string) ([]*usage.Record, error) {
	s.mu.RLock()
	slugs := make([]string, 0, len(s.bySubject[subjectID]))
	for slug := range s.bySubject[subjectID] {
		slugs = append(slugs, slug)
	}
	entries := make([]*entry, 0, len(slugs))
	sort.Strings(slugs)
	for _, slug := range slugs {
		entries = append(entries, s.records[usage.Key{SubjectID: subjectID, FeatureSlug: slug}])
	}
	s.mu.RUnlock()

	result := make([]*usage.Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.rec.Clone())
		e.mu.Unlock()
	}
	return result, nil
}

// entry returns the key's entry, creating a zero-usage record with limit l
// when absent.
func (s *Store) entry(subjectID, featureSlug string, l *limit.Limit) *entry {
	key := usage.Key{SubjectID: subjectID, FeatureSlug: featureSlug}

	s.mu.RLock()
	e, ok := s.records[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[key]; ok {
		return e
	}
	e = &entry{rec: usage.NewRecord(subjectID, featureSlug, l)}
	s.records[key] = e
	if s.bySubject[subjectID] == nil {
		s.bySubject[subjectID] = make(map[string]struct{})
	}
	s.bySubject[subjectID][featureSlug] = struct{}{}
	return e
}

// Plan catalog

// PutPlan adds or replaces a plan, keyed by slug.
func (s *Store) PutPlan(p *plan.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans[p.Slug] = p
}

// AssignPlan puts subjectID on the plan with the given slug. An empty slug
// removes the assignment.
func (s *Store) AssignPlan(subjectID, slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slug == "" {
		delete(s.assignments, subjectID)
		return
	}
	s.assignments[subjectID] = slug
}

// PlanFor implements plan.Source. A subject with no assignment falls back
// to its organization's assignment.
func (s *Store) PlanFor(_ context.Context, subject policy.Subject) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slug, ok := s.assignments[subject.ID]
	if !ok && subject.OrgID != "" {
		slug, ok = s.assignments[subject.OrgID]
	}
	if !ok {
		return nil, nil
	}
	return s.plans[slug], nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
