package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/guard"
	"github.com/xraph/guard/id"
	"github.com/xraph/guard/limit"
	guardstore "github.com/xraph/guard/store"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// Collection name constants.
const (
	colUsageRecords = "guard_usage_records"
)

// compile-time interface check
var _ guardstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Mutations are single FindOneAndUpdate calls with upsert, which MongoDB
// applies atomically per document.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all guard collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("guard/mongo: migrate %s indexes: %w", col, err)
		}
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
	var m usageRecordModel
	err := s.mdb.NewFind(&m).
		Filter(keyFilter(subjectID, featureSlug)).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, guard.ErrRecordNotFound
		}
		return nil, fmt.Errorf("guard/mongo: get usage: %w", err)
	}
	return fromUsageRecordModel(&m)
}

func (s *Store) UpsertUsage(ctx context.Context, r *usage.Record) (*usage.Record, error) {
	t := types.Now()
	update := bson.M{
		"$set": bson.M{
			"current_usage": r.CurrentUsage,
			"usage_limit":   r.Clone().Limit,
			"updated_at":    t,
		},
		"$setOnInsert": bson.M{
			"_id":        r.ID.String(),
			"created_at": r.CreatedAt,
		},
	}
	return s.findOneAndUpsert(ctx, "upsert usage", r.SubjectID, r.FeatureSlug, update)
}

func (s *Store) EnsureUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	update := bson.M{
		"$setOnInsert": insertFields(l, true),
	}
	return s.findOneAndUpsert(ctx, "ensure usage", subjectID, featureSlug, update)
}

func (s *Store) IncrementUsage(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	set := bson.M{"updated_at": types.Now()}
	if l != nil {
		set["usage_limit"] = l.Ptr()
	}
	update := bson.M{
		"$inc":         bson.M{"current_usage": amount},
		"$set":         set,
		"$setOnInsert": insertFields(l, false),
	}
	return s.findOneAndUpsert(ctx, "increment usage", subjectID, featureSlug, update)
}

func (s *Store) ResetUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	set := bson.M{
		"current_usage": int64(0),
		"updated_at":    types.Now(),
	}
	if l != nil {
		set["usage_limit"] = l.Ptr()
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": insertFields(l, false),
	}
	return s.findOneAndUpsert(ctx, "reset usage", subjectID, featureSlug, update)
}

func (s *Store) ListUsageBySubject(ctx context.Context, subjectID string) ([]*usage.Record, error) {
	var models []usageRecordModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subject_id": subjectID}).
		Sort(bson.D{{Key: "feature_slug", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("guard/mongo: list usage: %w", err)
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

// findOneAndUpsert applies update to the key's document, inserting it when
// absent, and returns the post-update document. Two racing upserts of a new
// key can both miss and collide on the unique index; the loser retries once
// and then matches the winner's document.
func (s *Store) findOneAndUpsert(ctx context.Context, op, subjectID, featureSlug string, update bson.M) (*usage.Record, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var m usageRecordModel
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.mdb.Collection(colUsageRecords).
			FindOneAndUpdate(ctx, keyFilter(subjectID, featureSlug), update, opts).
			Decode(&m)
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("guard/mongo: %s: %w", op, err)
	}
	return fromUsageRecordModel(&m)
}

func keyFilter(subjectID, featureSlug string) bson.M {
	return bson.M{"subject_id": subjectID, "feature_slug": featureSlug}
}

// insertFields are the fields written only when the upsert creates the
// document. Fields the update also sets elsewhere are left out, since
// MongoDB rejects an update naming one path twice.
func insertFields(l *limit.Limit, withCounter bool) bson.M {
	t := types.Now()
	fields := bson.M{
		"_id":        id.NewUsageRecordID().String(),
		"created_at": t,
	}
	if withCounter {
		fields["current_usage"] = int64(0)
		fields["updated_at"] = t
		fields["usage_limit"] = limitPtr(l)
		return fields
	}
	if l == nil {
		fields["usage_limit"] = nil
	}
	return fields
}

func limitPtr(l *limit.Limit) *int64 {
	if l == nil {
		return nil
	}
	return l.Ptr()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all guard collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsageRecords: {
			{
				Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "feature_slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subject_id", Value: 1}}},
		},
	}
}
