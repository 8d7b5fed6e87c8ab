// Package redis provides a Store backed by Redis hashes.
//
// Each record is one hash. A per-subject set indexes the feature slugs the
// subject has records for. Both keys share a hash tag on the subject so a
// subject's keys live in one cluster slot and every mutation runs as one
// server-side script.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/guard"
	"github.com/xraph/guard/id"
	"github.com/xraph/guard/limit"
	guardstore "github.com/xraph/guard/store"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "guard:"

// Script modes.
const (
	modeEnsure    = "ensure"
	modeIncrement = "inc"
	modeSet       = "set"
)

// mutateScript creates the record if absent, then applies the mode.
//
// KEYS: record hash, subject index set.
// ARGV: id, subject, feature, amount, replace-limit flag, limit ("" = none),
// now, mode.
var mutateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1],
    'id', ARGV[1], 'subject_id', ARGV[2], 'feature_slug', ARGV[3],
    'current_usage', 0, 'usage_limit', ARGV[6],
    'created_at', ARGV[7], 'updated_at', ARGV[7])
  redis.call('SADD', KEYS[2], ARGV[3])
end
if ARGV[8] == 'ensure' then
  return redis.call('HGETALL', KEYS[1])
end
if ARGV[8] == 'inc' then
  redis.call('HINCRBY', KEYS[1], 'current_usage', ARGV[4])
else
  redis.call('HSET', KEYS[1], 'current_usage', ARGV[4])
end
if ARGV[5] == '1' then
  redis.call('HSET', KEYS[1], 'usage_limit', ARGV[6])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[7])
return redis.call('HGETALL', KEYS[1])
`)

// compile-time interface check
var _ guardstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a store on an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and connects.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("guard/redis: parse url: %w", err)
	}

	client := redis.NewClient(ropts)

	// Test connection
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("guard/redis: connect: %w", err)
	}

	return New(client, opts...), nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Migrate loads the mutation script so later calls hit EVALSHA.
func (s *Store) Migrate(ctx context.Context) error {
	if err := mutateScript.Load(ctx, s.client).Err(); err != nil {
		return fmt.Errorf("guard/redis: load script: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(subjectID, featureSlug)).Result()
	if err != nil {
		return nil, fmt.Errorf("guard/redis: get usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, guard.ErrRecordNotFound
	}
	return fromHash(fields)
}

func (s *Store) UpsertUsage(ctx context.Context, r *usage.Record) (*usage.Record, error) {
	return s.mutate(ctx, "upsert usage", modeSet, r.SubjectID, r.FeatureSlug, r.CurrentUsage, r.LimitValue().Ptr(), true)
}

func (s *Store) EnsureUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	return s.mutate(ctx, "ensure usage", modeEnsure, subjectID, featureSlug, 0, limitPtr(l), false)
}

func (s *Store) IncrementUsage(ctx context.Context, subjectID, featureSlug string, amount int64, l *limit.Limit) (*usage.Record, error) {
	return s.mutate(ctx, "increment usage", modeIncrement, subjectID, featureSlug, amount, limitPtr(l), l != nil)
}

func (s *Store) ResetUsage(ctx context.Context, subjectID, featureSlug string, l *limit.Limit) (*usage.Record, error) {
	return s.mutate(ctx, "reset usage", modeSet, subjectID, featureSlug, 0, limitPtr(l), l != nil)
}

func (s *Store) ListUsageBySubject(ctx context.Context, subjectID string) ([]*usage.Record, error) {
	slugs, err := s.client.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("guard/redis: list usage: %w", err)
	}
	sort.Strings(slugs)

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, slug := range slugs {
			pipe.HGetAll(ctx, s.recordKey(subjectID, slug))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("guard/redis: list usage: %w", err)
	}

	result := make([]*usage.Record, 0, len(cmds))
	for _, cmd := range cmds {
		fields, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil {
			return nil, fmt.Errorf("guard/redis: list usage: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		r, err := fromHash(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *Store) mutate(ctx context.Context, op, mode, subjectID, featureSlug string, amount int64, l *int64, replaceLimit bool) (*usage.Record, error) {
	keys := []string{s.recordKey(subjectID, featureSlug), s.subjectKey(subjectID)}
	args := []any{
		id.NewUsageRecordID().String(),
		subjectID,
		featureSlug,
		amount,
		flag(replaceLimit),
		formatLimit(l),
		types.Now().Format(time.RFC3339Nano),
		mode,
	}

	pairs, err := mutateScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil && strings.Contains(err.Error(), "would overflow") {
		return nil, fmt.Errorf("guard/redis: %s: %w", op, guard.ErrCounterOverflow)
	}
	if err != nil {
		return nil, fmt.Errorf("guard/redis: %s: %w", op, err)
	}
	return fromHash(pairsToMap(pairs))
}

func (s *Store) recordKey(subjectID, featureSlug string) string {
	return s.keyPrefix + "usage:{" + subjectID + "}:" + featureSlug
}

func (s *Store) subjectKey(subjectID string) string {
	return s.keyPrefix + "subject:{" + subjectID + "}"
}

// ==================== Helpers ====================

var errMalformed = errors.New("guard/redis: malformed usage hash")

func fromHash(fields map[string]string) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", errMalformed, err)
	}
	current, err := strconv.ParseInt(fields["current_usage"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: current_usage: %w", errMalformed, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", errMalformed, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at: %w", errMalformed, err)
	}

	r := &usage.Record{
		Entity:       types.Entity{CreatedAt: createdAt.UTC(), UpdatedAt: updatedAt.UTC()},
		ID:           recID,
		SubjectID:    fields["subject_id"],
		FeatureSlug:  fields["feature_slug"],
		CurrentUsage: current,
	}
	if v := fields["usage_limit"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: usage_limit: %w", errMalformed, err)
		}
		r.Limit = &n
	}
	return r, nil
}

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

func formatLimit(l *int64) string {
	if l == nil {
		return ""
	}
	return strconv.FormatInt(*l, 10)
}

func limitPtr(l *limit.Limit) *int64 {
	if l == nil {
		return nil
	}
	return l.Ptr()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
