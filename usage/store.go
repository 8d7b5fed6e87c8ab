package usage

import (
	"context"

	"github.com/xraph/guard/limit"
)

// Store persists usage records.
//
// Every mutation is atomic per (subject, feature) key: concurrent increments
// on one key never lose updates, and operations on different keys never wait
// on each other. Records are created on demand and never deleted.
//
// Mutations take an optional limit. A nil limit keeps the stored value (or
// stores none on creation); a non-nil limit replaces it.
type Store interface {
	// GetUsage returns the record or guard.ErrRecordNotFound.
	GetUsage(ctx context.Context, subjectID, featureSlug string) (*Record, error)

	// UpsertUsage inserts r or replaces the record with the same key.
	UpsertUsage(ctx context.Context, r *Record) (*Record, error)

	// EnsureUsage returns the existing record, inserting a zero-usage one
	// if none exists. It never fails because the key already exists and
	// never changes an existing record.
	EnsureUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*Record, error)

	// IncrementUsage adds amount and returns the post-increment record.
	IncrementUsage(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*Record, error)

	// ResetUsage sets the counter to zero and returns the record.
	ResetUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*Record, error)

	// ListUsageBySubject returns the subject's records ordered by feature slug.
	ListUsageBySubject(ctx context.Context, subjectID string) ([]*Record, error)
}

// ApplyLimit stores l on r when l is non-nil.
func ApplyLimit(r *Record, l *limit.Limit) {
	if l != nil {
		r.Limit = l.Ptr()
	}
}
