package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/guard"
	"github.com/xraph/guard/limit"
	guardstore "github.com/xraph/guard/store"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// compile-time interface check
var _ guardstore.Store = (*Store)(nil)

// Every mutation is a single INSERT ... ON CONFLICT statement, so the row
// lock taken by the conflict arm is the only synchronization per key.
const (
	returningColumns = `RETURNING id, subject_id, feature_slug, current_usage, usage_limit, created_at, updated_at`

	insertColumns = `INSERT INTO guard_usage_records
    (id, subject_id, feature_slug, current_usage, usage_limit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (subject_id, feature_slug) DO UPDATE SET `

	incrementSQL = insertColumns + `
    current_usage = guard_usage_records.current_usage + EXCLUDED.current_usage,
    usage_limit   = CASE WHEN $7 THEN EXCLUDED.usage_limit ELSE guard_usage_records.usage_limit END,
    updated_at    = EXCLUDED.updated_at
` + returningColumns

	resetSQL = insertColumns + `
    current_usage = 0,
    usage_limit   = CASE WHEN $7 THEN EXCLUDED.usage_limit ELSE guard_usage_records.usage_limit END,
    updated_at    = EXCLUDED.updated_at
` + returningColumns

	// The no-op update makes RETURNING yield the existing row.
	ensureSQL = insertColumns + `
    subject_id = guard_usage_records.subject_id
` + returningColumns

	upsertSQL = insertColumns + `
    current_usage = EXCLUDED.current_usage,
    usage_limit   = EXCLUDED.usage_limit,
    updated_at    = EXCLUDED.updated_at
` + returningColumns
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("guard/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("guard/postgres: migration failed: %w", err)
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
	err := s.pg.NewSelect(m).
		Where("subject_id = $1", subjectID).
		Where("feature_slug = $2", featureSlug).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, guard.ErrRecordNotFound
		}
		return nil, fmt.Errorf("guard/postgres: get usage: %w", err)
	}
	return fromUsageRecordModel(m)
}

func (s *Store) UpsertUsage(ctx context.Context, r *usage.Record) (*usage.Record, error) {
	m := toUsageRecordModel(r)
	return s.exec(ctx, "upsert usage", upsertSQL,
		m.ID, m.SubjectID, m.FeatureSlug, m.CurrentUsage, m.UsageLimit, types.Now())
}

func (s *Store) EnsureUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "ensure usage", ensureSQL,
		m.ID, m.SubjectID, m.FeatureSlug, int64(0), m.UsageLimit, m.CreatedAt)
}

func (s *Store) IncrementUsage(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "increment usage", incrementSQL,
		m.ID, m.SubjectID, m.FeatureSlug, amount, m.UsageLimit, m.CreatedAt, l != nil)
}

func (s *Store) ResetUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	m := toUsageRecordModel(usage.NewRecord(subjectID, featureSlug, l))
	return s.exec(ctx, "reset usage", resetSQL,
		m.ID, m.SubjectID, m.FeatureSlug, int64(0), m.UsageLimit, m.CreatedAt, l != nil)
}

func (s *Store) ListUsageBySubject(ctx context.Context, subjectID string) ([]*usage.Record, error) {
	var models []usageRecordModel
	err := s.pg.NewSelect(&models).
		Where("subject_id = $1", subjectID).
		OrderExpr("feature_slug ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("guard/postgres: list usage: %w", err)
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
	err := s.pg.NewRaw(query, args...).Scan(ctx,
		&m.ID, &m.SubjectID, &m.FeatureSlug, &m.CurrentUsage, &m.UsageLimit, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("guard/postgres: %s: %w", op, err)
	}
	return fromUsageRecordModel(m)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
