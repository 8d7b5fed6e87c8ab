package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/guard"
	"github.com/xraph/guard/limit"
	guardstore "github.com/xraph/guard/store"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// compile-time interface check
var _ guardstore.Store = (*Store)(nil)

// SQLite serializes writers, so a single upsert statement per mutation is
// atomic per key. Arguments are positional and repeated where reused.
const (
	returningColumns = `RETURNING id, subject_id, feature_slug, current_usage, usage_limit, created_at, updated_at`

	insertColumns = `INSERT INTO guard_usage_records
    (id, subject_id, feature_slug, current_usage, usage_limit, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subject_id, feature_slug) DO UPDATE SET `

	incrementSQL = insertColumns + `
    current_usage = guard_usage_records.current_usage + excluded.current_usage,
    usage_limit   = CASE WHEN ? THEN excluded.usage_limit ELSE guard_usage_records.usage_limit END,
    updated_at    = excluded.updated_at
` + returningColumns

	resetSQL = insertColumns + `
    current_usage = 0,
    usage_limit   = CASE WHEN ? THEN excluded.usage_limit ELSE guard_usage_records.usage_limit END,
    updated_at    = excluded.updated_at
` + returningColumns

	ensureSQL = insertColumns + `
    subject_id = guard_usage_records.subject_id
` + returningColumns

	upsertSQL = insertColumns + `
    current_usage = excluded.current_usage,
    usage_limit   = excluded.usage_limit,
    updated_at    = excluded.updated_at
` + returningColumns
)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("guard/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("guard/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	m := new(usageRecordModel)
	err := s.sdb.NewSelect(m).
		Where("subject_id = ?", subjectID).
		Where("feature_slug = ?", featureSlug).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, guard.ErrRecordNotFound
		}
		return nil, fmt.Errorf("guard/sqlite: get usage: %w", err)
	}
	return fromUsageRecordModel(m)
}

func (s *Store) UpsertUsage(ctx context.Context, r *usage.Record) (*usage.Record, error) {
	m := toUsageRecordModel(r)
	t := types.Now()
	return s.exec(ctx, "upsert usage", upsertSQL,
		m.ID, m.SubjectID, m.FeatureSlug, m.CurrentUsage, m.UsageLimit, t, t)
}

func (s *Store) EnsureUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "ensure usage", ensureSQL,
		m.ID, m.SubjectID, m.FeatureSlug, int64(0), m.UsageLimit, m.CreatedAt, m.UpdatedAt)
}

func (s *Store) IncrementUsage(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "increment usage", incrementSQL,
		m.ID, m.SubjectID, m.FeatureSlug, amount, m.UsageLimit, m.CreatedAt, m.UpdatedAt, l != nil)
}

func (s *Store) ResetUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "reset usage", resetSQL,
		m.ID, m.SubjectID, m.FeatureSlug, int64(0), m.UsageLimit, m.CreatedAt, m.UpdatedAt, l != nil)
}

func (s *Store) ListUsageBySubject(ctx context.Context, subjectID string) ([]*usage.Record, error) {
	var models []usageRecordModel
	err := s.sdb.NewSelect(&models).
		Where("subject_id = ?", subjectID).
		OrderExpr("feature_slug ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("guard/sqlite: list usage: %w", err)
	}

	result := make([]*usage.Record, len(models))
	for i := range models {
		r, err := fromUsageRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// exec runs a single-row upsert and scans the returned row.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (*usage.Record, error) {
	m := new(usageRecordModel)
	err := s.sdb.NewRaw(query, args...).Scan(ctx,
		&m.ID, &m.SubjectID, &m.FeatureSlug, &m.CurrentUsage, &m.UsageLimit, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("guard/sqlite: %s: %w", op, err)
	}
	return fromUsageRecordModel(m)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
